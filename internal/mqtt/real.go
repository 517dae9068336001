package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// bufferCapacity bounds the number of events held while disconnected.
const bufferCapacity = 64

// MessageHandler receives every message seen on a subscribed topic.
type MessageHandler func(topic, payload string)

// RealClient talks to an actual MQTT broker. It caches the last payload of
// every subscribed topic for state lookup, publishes tracker events, and
// buffers events published while disconnected for replay on reconnect.
type RealClient struct {
	client paho.Client

	mu     sync.Mutex
	states map[string]string
	buffer *ringBuffer

	topics  []string
	handler MessageHandler
}

// NewRealClient creates a client connected to the given broker, subscribed
// to the given topics. The handler, if non-nil, is invoked for every message
// on a subscribed topic (after the state cache is updated).
func NewRealClient(broker, clientID string, topics []string, handler MessageHandler) (*RealClient, error) {
	c := &RealClient{
		states:  make(map[string]string),
		buffer:  newRingBuffer(bufferCapacity),
		topics:  topics,
		handler: handler,
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return c, nil
}

// onConnect resubscribes and replays buffered events. Runs on first connect
// and on every automatic reconnect.
func (c *RealClient) onConnect(client paho.Client) {
	for _, topic := range c.topics {
		t := client.Subscribe(topic, 0, c.onMessage)
		if !t.WaitTimeout(5 * time.Second) {
			log.Printf("mqtt: subscribe %s timeout", topic)
			continue
		}
		if err := t.Error(); err != nil {
			log.Printf("mqtt: subscribe %s: %v", topic, err)
		}
	}

	c.mu.Lock()
	pending := c.buffer.drainAll()
	c.mu.Unlock()
	for _, msg := range pending {
		token := client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if token.WaitTimeout(5*time.Second) && token.Error() == nil {
			continue
		}
		log.Printf("mqtt: replay to %s failed: %v", msg.topic, token.Error())
	}
	if len(pending) > 0 {
		log.Printf("mqtt: replayed %d buffered events", len(pending))
	}
}

func (c *RealClient) onMessage(_ paho.Client, msg paho.Message) {
	payload := string(msg.Payload())
	c.mu.Lock()
	c.states[msg.Topic()] = payload
	c.mu.Unlock()
	if c.handler != nil {
		c.handler(msg.Topic(), payload)
	}
}

// State returns the last payload seen on the topic.
func (c *RealClient) State(topic string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[topic]
	return s, ok
}

// publish sends a payload, buffering it for replay if the broker is
// unreachable.
func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnected() {
		c.mu.Lock()
		c.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		return fmt.Errorf("not connected, event buffered")
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishPeaks sends a committed ledger mutation to the broker.
// QoS 0 (at-most-once), retained so late subscribers see the current peaks.
func (c *RealClient) PublishPeaks(event PeaksEvent) error {
	payload, err := FormatPeaksPayload(event)
	if err != nil {
		return fmt.Errorf("format peaks payload: %w", err)
	}
	return c.publish(TopicPeaks, 0, true, payload)
}

// PublishSystem sends a system lifecycle event to the broker.
// QoS 1 (at-least-once) for shutdown events - we want to ensure delivery.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publish(TopicSystem, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is active.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
