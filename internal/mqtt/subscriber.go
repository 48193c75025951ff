package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/RuleChain/internal/events"
)

// DefaultTelemetryTopic is subscribed when no topic is configured. The "+"
// segment carries the device id.
const DefaultTelemetryTopic = "devices/+/telemetry"

// TelemetryHandler receives the parameters reported by one device. Numbers
// arrive as json.Number.
type TelemetryHandler func(deviceID string, params map[string]interface{})

// TelemetrySubscriber turns telemetry messages into TelemetryHandler calls.
// It subscribes to one wildcard topic and to the telemetry topic of every
// registered device, and keeps subscriptions idempotent across reconnects.
type TelemetrySubscriber struct {
	mu         sync.RWMutex
	client     Conn
	registry   *DeviceRegistry
	handler    TelemetryHandler
	subscribed map[string]bool // topic -> subscribed
}

// NewTelemetrySubscriber creates a new telemetry subscriber.
func NewTelemetrySubscriber(client Conn, registry *DeviceRegistry, handler TelemetryHandler) *TelemetrySubscriber {
	return &TelemetrySubscriber{
		client:     client,
		registry:   registry,
		handler:    handler,
		subscribed: make(map[string]bool),
	}
}

// SubscribePattern subscribes to a topic filter whose first "+" segment is
// the device id. Filters without "+" need payloads that name the device.
func (s *TelemetrySubscriber) SubscribePattern(pattern string) error {
	if pattern == "" {
		pattern = DefaultTelemetryTopic
	}
	return s.subscribe(pattern, func(_ paho.Client, msg paho.Message) {
		s.handle(DeviceIDFromTopic(pattern, msg.Topic()), msg.Topic(), msg.Payload())
	})
}

// SubscribeDevice subscribes to a device's telemetry topic if not already subscribed.
// This is idempotent - calling multiple times for the same device is safe.
func (s *TelemetrySubscriber) SubscribeDevice(dev *RegisteredDevice) error {
	if dev.TelemetryTopic == "" {
		return nil
	}
	deviceID := dev.DeviceID
	return s.subscribe(dev.TelemetryTopic, func(_ paho.Client, msg paho.Message) {
		s.handle(deviceID, msg.Topic(), msg.Payload())
	})
}

// SubscribeAll subscribes to all devices in the registry.
// Useful for initial subscription after connection.
func (s *TelemetrySubscriber) SubscribeAll() error {
	for _, dev := range s.registry.All() {
		if err := s.SubscribeDevice(dev); err != nil {
			events.Emit("error", "device.error", "failed to subscribe to device telemetry", map[string]interface{}{
				"device_id": dev.DeviceID,
				"topic":     dev.TelemetryTopic,
				"error":     err.Error(),
			})
		}
	}
	return nil
}

func (s *TelemetrySubscriber) subscribe(topic string, handler paho.MessageHandler) error {
	s.mu.Lock()
	if s.subscribed[topic] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.client.Subscribe(topic, handler); err != nil {
		return err
	}

	s.mu.Lock()
	s.subscribed[topic] = true
	s.mu.Unlock()
	return nil
}

func (s *TelemetrySubscriber) handle(deviceID, topic string, payload []byte) {
	id, params, err := ParseTelemetry(deviceID, payload)
	if err != nil {
		events.Emit("warn", "device.error", "invalid telemetry payload", map[string]interface{}{
			"topic": topic,
			"error": err.Error(),
		})
		return
	}

	events.Emit("debug", "device.telemetry", "", map[string]interface{}{
		"device_id": id,
		"topic":     topic,
		"params":    params,
	})

	if s.handler != nil {
		s.handler(id, params)
	}
}

// ParseTelemetry decodes a telemetry payload. The payload is either a flat
// object of parameters or {"device_id": ..., "params": {...}}; the wrapped
// form overrides deviceID.
func ParseTelemetry(deviceID string, payload []byte) (string, map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return "", nil, fmt.Errorf("telemetry must be a JSON object: %w", err)
	}

	if params, ok := obj["params"].(map[string]interface{}); ok {
		if id, ok := obj["device_id"].(string); ok && id != "" {
			deviceID = id
		}
		obj = params
	}

	if deviceID == "" {
		return "", nil, fmt.Errorf("telemetry without device id")
	}
	return deviceID, obj, nil
}

// DeviceIDFromTopic returns the topic segment matched by the first "+" of
// pattern, or "" when pattern has none or the topic does not match.
func DeviceIDFromTopic(pattern, topic string) string {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")

	idx := -1
	for i, seg := range ps {
		if seg == "+" {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(ts) {
		return ""
	}
	for i := 0; i < idx; i++ {
		if ps[i] != ts[i] {
			return ""
		}
	}
	return ts[idx]
}

// IsSubscribed returns true if the topic is already subscribed.
func (s *TelemetrySubscriber) IsSubscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed[topic]
}

// SubscribedTopics returns a list of all subscribed topics.
func (s *TelemetrySubscriber) SubscribedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.subscribed))
	for topic := range s.subscribed {
		topics = append(topics, topic)
	}
	return topics
}

// ClearSubscriptions clears the subscription tracking.
// Call this on disconnect to allow re-subscription on reconnect.
func (s *TelemetrySubscriber) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = make(map[string]bool)
}
