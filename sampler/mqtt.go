package sampler

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handlers receive decoded input messages. Nil handlers drop the message.
type Handlers struct {
	OnMap       func(grid *OccupancyGrid)
	OnScan      func(scan *LaserScan)
	OnOdometry  func(odom *Odometry)
	OnTransform func(tf *TransformStamped)
}

// MQTTClient manages the broker connection and the input subscriptions
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handlers    Handlers
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT creates the MQTT client and starts connecting in the background.
// If neither MQTT_BROKER nor mqtt.broker is set, MQTT is disabled and this
// returns nil.
func InitMQTT(config *Config, handlers Handlers) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || config.Topics.Scan == "" || config.Topics.Odom == "" {
		return nil, fmt.Errorf("MQTT enabled but scan and odometry topics are not configured")
	}

	client := &MQTTClient{
		config:   config,
		handlers: handlers,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "glsampler"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep subscriptions across reconnects
	// Scans must reach the sampler in arrival order.
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// subscriptions maps each configured input topic to its QoS. The map and
// transform topics carry retained, latched messages and use QoS 1.
func (c *MQTTClient) subscriptions() map[string]byte {
	subs := make(map[string]byte)
	t := c.config.Topics
	if t.Map != "" {
		subs[t.Map] = 1
	}
	if t.Transform != "" {
		subs[t.Transform] = 1
	}
	subs[t.Scan] = 0
	subs[t.Odom] = 0
	return subs
}

// onConnect is called when the MQTT connection is established
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to input topics...")
	c.setConnected(true)

	for topic, qos := range c.subscriptions() {
		token := client.Subscribe(topic, qos, c.createMessageHandler(topic))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", topic, token.Error())
		} else {
			log.Printf("Successfully subscribed to %s", topic)
		}
	}
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// onReconnecting is called when the client attempts to reconnect
func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// createMessageHandler decodes messages on topic and routes them to the
// matching handler
func (c *MQTTClient) createMessageHandler(topic string) mqtt.MessageHandler {
	t := c.config.Topics
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()

		switch topic {
		case t.Map:
			log.Printf("Received map (topic: %s, size: %d bytes)", msg.Topic(), len(payload))
			grid, err := DecodeGrid(payload)
			if err != nil {
				log.Printf("Error decoding map: %v", err)
				return
			}
			if c.handlers.OnMap != nil {
				c.handlers.OnMap(grid)
			}
		case t.Scan:
			scan, err := DecodeScan(payload)
			if err != nil {
				log.Printf("Error decoding scan: %v", err)
				return
			}
			if c.handlers.OnScan != nil {
				c.handlers.OnScan(scan)
			}
		case t.Odom:
			odom, err := DecodeOdometry(payload)
			if err != nil {
				log.Printf("Error decoding odometry: %v", err)
				return
			}
			if c.handlers.OnOdometry != nil {
				c.handlers.OnOdometry(odom)
			}
		case t.Transform:
			tf, err := DecodeTransform(payload)
			if err != nil {
				log.Printf("Error decoding transform: %v", err)
				return
			}
			if c.handlers.OnTransform != nil {
				c.handlers.OnTransform(tf)
			}
		default:
			log.Printf("[DEBUG] Ignoring message on unexpected topic %s", msg.Topic())
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// setConnected updates the connection status
func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250) // 250ms quiesce time
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided mqtt.Client
// This is used for testing with mock clients
func newMQTTClientWithMock(client mqtt.Client, config *Config, handlers Handlers) *MQTTClient {
	return &MQTTClient{
		client:   client,
		config:   config,
		handlers: handlers,
	}
}
