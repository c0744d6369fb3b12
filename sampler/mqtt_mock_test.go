package sampler

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func TestMockClient_Connect(t *testing.T) {
	mock := NewMockClient()

	token := mock.Connect()
	if !token.WaitTimeout(1 * time.Second) {
		t.Error("Connect should complete immediately")
	}
	if token.Error() != nil {
		t.Errorf("Connect error = %v, want nil", token.Error())
	}
	if !mock.IsConnected() {
		t.Error("Client should be connected after Connect()")
	}
}

func TestMockClient_ConnectWithError(t *testing.T) {
	mock := NewMockClient()
	expectedErr := errors.New("connection failed")
	mock.SetConnectError(expectedErr)

	called := false
	mock.SetOnConnect(func(mqtt.Client) { called = true })

	token := mock.Connect()
	if token.Error() != expectedErr {
		t.Errorf("Connect error = %v, want %v", token.Error(), expectedErr)
	}
	if mock.IsConnected() {
		t.Error("Client should not be connected after failed Connect()")
	}
	if called {
		t.Error("OnConnect handler should not run after failed Connect()")
	}
}

func TestMockClient_PublishRetains(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	mock.Publish("a", 0, true, []byte("first"))
	mock.Publish("a", 0, true, "second")
	mock.Publish("a", 0, false, []byte("volatile"))

	messages := mock.GetPublishedOn("a")
	if len(messages) != 3 {
		t.Fatalf("Published messages count = %d, want 3", len(messages))
	}
	if string(messages[1].Payload) != "second" {
		t.Errorf("string payload = %q, want %q", messages[1].Payload, "second")
	}

	var delivered string
	mock.Subscribe("a", 0, func(_ mqtt.Client, msg mqtt.Message) {
		delivered = string(msg.Payload())
		if !msg.Retained() {
			t.Error("replayed message should be marked retained")
		}
	})
	if delivered != "second" {
		t.Errorf("retained payload = %q, want %q", delivered, "second")
	}
}

func TestMockClient_PublishErrors(t *testing.T) {
	mock := NewMockClient()

	if err := mock.Publish("a", 0, false, []byte("x")).Error(); err != mqtt.ErrNotConnected {
		t.Errorf("Publish while disconnected = %v, want ErrNotConnected", err)
	}

	mock.SetConnected(true)
	publishErr := errors.New("broker full")
	mock.SetPublishError(publishErr)
	if err := mock.Publish("a", 0, false, []byte("x")).Error(); err != publishErr {
		t.Errorf("Publish error = %v, want %v", err, publishErr)
	}
	if n := len(mock.GetPublishedMessages()); n != 0 {
		t.Errorf("Published messages count = %d, want 0", n)
	}
}

func TestMockClient_SubscribeAndSimulate(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	var got []string
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		got = append(got, msg.Topic()+":"+string(msg.Payload()))
	}
	token := mock.SubscribeMultiple(map[string]byte{"x": 0, "y": 1}, handler)
	if token.Error() != nil {
		t.Fatalf("SubscribeMultiple error = %v", token.Error())
	}

	mock.SimulateMessage("x", []byte("1"))
	mock.SimulateMessage("z", []byte("ignored"))
	mock.Unsubscribe("x")
	mock.SimulateMessage("x", []byte("2"))
	mock.SimulateMessage("y", []byte("3"))

	want := []string{"x:1", "y:3"}
	if len(got) != len(want) {
		t.Fatalf("delivered = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivered[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMockClient_SubscribeErrors(t *testing.T) {
	mock := NewMockClient()
	if err := mock.Subscribe("a", 0, nil).Error(); err != mqtt.ErrNotConnected {
		t.Errorf("Subscribe while disconnected = %v, want ErrNotConnected", err)
	}

	mock.SetConnected(true)
	subErr := errors.New("not authorized")
	mock.SetSubscribeError(subErr)
	if err := mock.Subscribe("a", 0, nil).Error(); err != subErr {
		t.Errorf("Subscribe error = %v, want %v", err, subErr)
	}
}

func TestMockClient_Disconnect(t *testing.T) {
	mock := NewMockClient()
	mock.Connect()
	mock.Disconnect(250)
	if mock.IsConnectionOpen() {
		t.Error("Client should be disconnected")
	}
}
