package sampler

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCycleResult(skipped bool) *CycleResult {
	grid := mixedGrid()
	result := &CycleResult{
		ID:       "batch-1",
		Stamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		LocalMap: grid,
		Local: &FeatureMap{
			Grid:      grid,
			Keypoints: []Keypoint{{U: 1, V: 1, X: -0.9, Y: 2.1, Class: Saddle}},
			Features:  []OrientationFeature{{DominantOrientation: 0.1, AverageDistance: 0.2, Histogram: make([]float64, RelativeBins), Cells: 9}},
		},
		Hypotheses:      []PoseHypothesis{},
		MatchingSkipped: skipped,
	}
	if !skipped {
		result.Hypotheses = []PoseHypothesis{
			{Pose: Pose2D{X: 1, Y: 2, Yaw: 0.5}, LocalIndex: 0, GlobalIndex: 3, MatchingRate: 0.8},
		}
	}
	return result
}

func connectedPublisher(t *testing.T) (*Publisher, *MockClient) {
	t.Helper()
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	mock.SetConnected(true)
	cfg := DefaultConfig()
	return NewPublisher(mock, cfg.Topics, cfg.Frames), mock
}

func TestNewPublisher(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	cfg := DefaultConfig()
	p := NewPublisher(nil, cfg.Topics, cfg.Frames)

	if p.publishPrefix != "glsampler" {
		t.Errorf("publishPrefix = %q, want %q", p.publishPrefix, "glsampler")
	}
	if p.qos != 0 {
		t.Errorf("qos = %d, want 0", p.qos)
	}
	if !p.retain {
		t.Error("retain = false, want true")
	}
	if got := p.topic("/gl_sampled_poses"); got != "glsampler/gl_sampled_poses" {
		t.Errorf("topic() = %q, want %q", got, "glsampler/gl_sampled_poses")
	}
}

func TestNewPublisher_PrefixFromEnv(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "robot7")
	cfg := DefaultConfig()
	p := NewPublisher(nil, cfg.Topics, cfg.Frames)
	assert.Equal(t, "robot7/gl_local_map", p.topic(cfg.Topics.LocalMap))
}

func TestPublisher_NotConnected(t *testing.T) {
	cfg := DefaultConfig()
	for _, p := range []*Publisher{
		NewPublisher(nil, cfg.Topics, cfg.Frames),
		NewPublisher(NewMockClient(), cfg.Topics, cfg.Frames),
	} {
		err := p.PublishPoses(PoseBatch{})
		if err == nil || err.Error() != "MQTT client not connected" {
			t.Errorf("PublishPoses() error = %v, want not connected", err)
		}
	}
}

func TestPublisher_PublishPosesFormat(t *testing.T) {
	p, mock := connectedPublisher(t)
	result := testCycleResult(false)

	require.NoError(t, p.PublishPoses(result.Batch("map")))

	msgs := mock.GetPublishedOn("glsampler/gl_sampled_poses")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Retain)
	assert.Equal(t, byte(0), msgs[0].QoS)

	var batch PoseBatch
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &batch))
	assert.Equal(t, "batch-1", batch.ID)
	assert.Equal(t, "map", batch.Frame)
	assert.True(t, batch.Stamp.Equal(result.Stamp))
	assert.Equal(t, result.Hypotheses, batch.Poses)
}

func TestPublisher_PublishCycle(t *testing.T) {
	p, mock := connectedPublisher(t)

	require.NoError(t, p.PublishCycle(testCycleResult(false)))

	assert.Len(t, mock.GetPublishedOn("glsampler/gl_sampled_poses"), 1)
	assert.Len(t, mock.GetPublishedOn("glsampler/gl_local_map"), 1)
	assert.Len(t, mock.GetPublishedOn("glsampler/gl_local_sdf_keypoints"), 1)
	assert.Equal(t, 3, p.Published())

	mapMsg := mock.GetPublishedOn("glsampler/gl_local_map")[0]
	grid, err := DecodeGrid(mapMsg.Payload)
	require.NoError(t, err)
	assert.Equal(t, mixedGrid().Data, grid.Data)

	var fc FeatureCollection
	require.NoError(t, json.Unmarshal(mock.GetPublishedOn("glsampler/gl_local_sdf_keypoints")[0].Payload, &fc))
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "odom", fc.Features[0].Properties["frame"])
	assert.Equal(t, "saddle", fc.Features[1].Properties["class"])
}

func TestPublisher_PublishCycleSkipped(t *testing.T) {
	p, mock := connectedPublisher(t)

	require.NoError(t, p.PublishCycle(testCycleResult(true)))

	assert.Empty(t, mock.GetPublishedOn("glsampler/gl_sampled_poses"), "no poses without a global map")
	assert.Len(t, mock.GetPublishedOn("glsampler/gl_local_map"), 1)
	assert.Len(t, mock.GetPublishedOn("glsampler/gl_local_sdf_keypoints"), 1)
}

func TestPublisher_PublishGlobalKeypoints(t *testing.T) {
	p, mock := connectedPublisher(t)
	fm := testCycleResult(true).Local

	require.NoError(t, p.PublishKeypoints(fm, false))
	msgs := mock.GetPublishedOn("glsampler/gl_sdf_keypoints")
	require.Len(t, msgs, 1)

	var fc FeatureCollection
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &fc))
	assert.Equal(t, "map", fc.Features[0].Properties["frame"])
}

func TestPublisher_PublishErrorReturnsFirst(t *testing.T) {
	p, mock := connectedPublisher(t)
	brokerErr := errors.New("quota exceeded")
	mock.SetPublishError(brokerErr)

	err := p.PublishCycle(testCycleResult(false))
	assert.ErrorIs(t, err, brokerErr)
	assert.Contains(t, err.Error(), "glsampler/gl_sampled_poses")
	assert.Equal(t, 0, p.Published())
}

func TestPublisher_SetQoS(t *testing.T) {
	p, mock := connectedPublisher(t)

	p.SetQoS(1)
	p.SetQoS(3) // ignored
	p.SetRetain(false)
	require.NoError(t, p.PublishPoses(PoseBatch{ID: "x"}))

	msgs := mock.GetPublishedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.False(t, msgs[0].Retain)
}

func TestPublisher_SetPrefix(t *testing.T) {
	p, mock := connectedPublisher(t)

	p.SetPrefix("site4/")
	require.NoError(t, p.PublishPoses(PoseBatch{ID: "x"}))
	assert.Len(t, mock.GetPublishedOn("site4/gl_sampled_poses"), 1)
}
