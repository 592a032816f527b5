package tangram

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// FrameHandler is called when an observation frame message is received.
// Parameters: rawPayload, decoded frame, error. rawPayload is provided so
// callers can archive or replay undecodable payloads.
type FrameHandler func(rawPayload []byte, frame *Frame, err error)

// ControlCommand is a UI-originated command arriving on the control topic.
type ControlCommand struct {
	Command  string `json:"command"` // "removePiece", "unmarkTarget", "reset"
	GroupID  string `json:"groupId,omitempty"`
	PieceID  string `json:"pieceId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

// ControlHandler is called for each parsed control command.
type ControlHandler func(cmd ControlCommand)

// MQTTClient manages the MQTT connection and subscriptions for observation
// frames and control commands.
type MQTTClient struct {
	client         mqtt.Client
	config         *ServiceConfig
	frameHandler   FrameHandler
	controlHandler ControlHandler
	isConnected    bool
	mu             sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT initializes the global MQTT client with the provided configuration.
// If MQTT_BROKER env var is empty and no broker is configured, MQTT is
// disabled and this returns nil.
func InitMQTT(config *ServiceConfig, handler FrameHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || config.MQTT.FrameTopic == "" {
		return nil, fmt.Errorf("MQTT enabled but no frame topic configured")
	}

	client := &MQTTClient{
		config:       config,
		frameHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "bemo-engine"
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
	opts.SetKeepAlive(60 * time.Second)   // Longer than default 30s to reduce spurious disconnects
	opts.SetPingTimeout(10 * time.Second) // Timeout for ping response
	opts.SetCleanSession(false)           // Preserve subscriptions on reconnect
	opts.SetOrderMatters(true)            // Frames must be processed in arrival order

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance.
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff.
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

// onConnect subscribes to the frame topic and the derived control topic.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to frame topic...")
	c.setConnected(true)

	topic := c.config.MQTT.FrameTopic
	log.Printf("Subscribing to %s for observation frames", topic)
	token := client.Subscribe(topic, 0, c.frameMessageHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("Error subscribing to %s: %v", topic, token.Error())
	} else {
		log.Printf("Successfully subscribed to %s", topic)
	}

	if controlTopic, ok := deriveControlTopic(topic); ok {
		log.Printf("Subscribing to %s for control commands", controlTopic)
		ctlToken := client.Subscribe(controlTopic, 0, c.controlMessageHandler())
		if ctlToken.WaitTimeout(5*time.Second) && ctlToken.Error() != nil {
			log.Printf("Error subscribing to %s: %v", controlTopic, ctlToken.Error())
		} else {
			log.Printf("Successfully subscribed to %s", controlTopic)
		}
	}
}

// onConnectionLost is called when the MQTT connection is lost.
// Auto-reconnect is enabled, so this is typically a transient event.
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// onReconnecting is called when the client attempts to reconnect.
func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// frameMessageHandler decodes frame payloads and forwards them.
func (c *MQTTClient) frameMessageHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()

		frame, err := DecodeFrame(payload)
		if err != nil {
			log.Printf("Error decoding frame (topic: %s, size: %d bytes): %v",
				msg.Topic(), len(payload), err)
			if c.frameHandler != nil {
				c.frameHandler(payload, nil, err)
			}
			return
		}

		if c.frameHandler != nil {
			c.frameHandler(payload, frame, nil)
		}
	}
}

// SetControlHandler registers a callback for control commands.
func (c *MQTTClient) SetControlHandler(handler ControlHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controlHandler = handler
}

func (c *MQTTClient) getControlHandler() ControlHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controlHandler
}

// deriveControlTopic converts a frame topic to its control topic.
// Example: "tangram/table1/frames" -> "tangram/table1/control"
// Returns the derived topic and true, or empty string and false when the
// topic has no path to rewrite.
func deriveControlTopic(frameTopic string) (string, bool) {
	parts := strings.Split(frameTopic, "/")
	if len(parts) < 2 {
		return "", false
	}
	parts[len(parts)-1] = "control"
	return strings.Join(parts, "/"), true
}

// controlMessageHandler parses control commands. Payloads are JSON objects;
// a bare string payload is treated as a command with no arguments.
func (c *MQTTClient) controlMessageHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("Received control command (topic: %s, size: %d bytes)",
			msg.Topic(), len(payload))

		var cmd ControlCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			var plainStr string
			if err2 := json.Unmarshal(payload, &plainStr); err2 == nil {
				cmd.Command = plainStr
			} else {
				cmd.Command = strings.TrimSpace(string(payload))
			}
		}
		if cmd.Command == "" {
			log.Println("Empty control command, skipping")
			return
		}

		log.Printf("Control command: %s (group=%s piece=%s target=%s)",
			cmd.Command, cmd.GroupID, cmd.PieceID, cmd.TargetID)

		handler := c.getControlHandler()
		if handler != nil {
			handler(cmd)
		}
	}
}

// IsConnected returns true if the MQTT client is connected.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250) // 250ms quiesce time
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing.
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided mqtt.Client.
// This is used for testing with mock clients.
func newMQTTClientWithMock(client mqtt.Client, config *ServiceConfig, handler FrameHandler) *MQTTClient {
	return &MQTTClient{
		client:       client,
		config:       config,
		frameHandler: handler,
	}
}
