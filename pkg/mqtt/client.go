package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

// MessageHandler receives the topic and payload of an incoming message
type MessageHandler = func(topic string, payload []byte)

// Client wraps the paho client for fix ingestion and status publishing
type Client struct {
	client    MQTT.Client
	logger    *logx.Logger
	config    *Config
	connected atomic.Bool

	// subscriptions are replayed after a reconnect
	subsMu sync.Mutex
	subs   map[string]MessageHandler
}

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "locnotifierd",
		TopicPrefix: "locnotifier",
		QoS:         1,
		Enabled:     false,
	}
}

// NewClient creates a new MQTT client
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		logger: logger,
		config: config,
		subs:   make(map[string]MessageHandler),
	}
}

// Topic joins a suffix onto the configured topic prefix
func (c *Client) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", c.config.TopicPrefix, suffix)
}

// Connect establishes connection to the MQTT broker
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetCleanSession(true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("MQTT client connected", map[string]interface{}{
		"broker": c.config.Broker,
		"port":   c.config.Port,
	})

	return nil
}

// Disconnect disconnects from the MQTT broker
func (c *Client) Disconnect() {
	if c.client != nil && c.connected.Load() {
		c.client.Disconnect(250)
		c.connected.Store(false)
		c.logger.Info("MQTT client disconnected")
	}
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

func (c *Client) onConnect(client MQTT.Client) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection established")

	// clean sessions lose subscriptions on reconnect
	c.subsMu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, handler := range c.subs {
		subs[topic] = handler
	}
	c.subsMu.Unlock()

	for topic, handler := range subs {
		if err := c.subscribe(topic, handler); err != nil {
			c.logger.Error("MQTT resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.connected.Store(false)
	c.logger.Error("MQTT connection lost", map[string]interface{}{
		"error": err.Error(),
	})
}

// Subscribe subscribes to a topic; the subscription survives reconnects
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if !c.config.Enabled {
		return fmt.Errorf("MQTT client disabled")
	}

	c.subsMu.Lock()
	c.subs[topic] = handler
	c.subsMu.Unlock()

	if !c.IsConnected() {
		// onConnect will pick it up
		return nil
	}
	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, byte(c.config.QoS), func(_ MQTT.Client, msg MQTT.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	c.logger.Info("MQTT subscription created", map[string]interface{}{
		"topic": topic,
	})
	return nil
}

// Unsubscribe removes a subscription
func (c *Client) Unsubscribe(topic string) error {
	c.subsMu.Lock()
	delete(c.subs, topic)
	c.subsMu.Unlock()

	if !c.config.Enabled || !c.IsConnected() {
		return nil
	}

	token := c.client.Unsubscribe(topic)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe from topic %s: %w", topic, token.Error())
	}

	c.logger.Info("MQTT subscription removed", map[string]interface{}{
		"topic": topic,
	})
	return nil
}

// PublishJSON marshals and publishes a payload. Nothing is sent while disconnected.
func (c *Client) PublishJSON(topic string, payload interface{}, retained bool) error {
	if !c.config.Enabled || !c.IsConnected() {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	token := c.client.Publish(topic, byte(c.config.QoS), retained, data)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.Debug("MQTT message published", map[string]interface{}{
		"topic": topic,
		"size":  len(data),
	})
	return nil
}
