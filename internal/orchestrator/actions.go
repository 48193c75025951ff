package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/AaronLay10/RuleChain/internal/mqtt"
)

// DefaultCommandTopicTemplate is used for devices that never registered a
// command topic. {device_id} and {integration_id} are substituted.
const DefaultCommandTopicTemplate = "devices/{device_id}/commands"

// Publisher sends a message to an MQTT topic. *mqtt.Client implements it.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, payload []byte) error
}

// CommandPayload is the message published to a device command topic.
type CommandPayload struct {
	IntegrationID string `json:"integration_id"`
	DeviceID      string `json:"device_id"`
	ParameterID   string `json:"parameter_id"`
	Value         Value  `json:"value"`
}

// MQTTDeviceUpdater publishes device attribute updates to the device's
// command topic.
type MQTTDeviceUpdater struct {
	publisher Publisher
	registry  *mqtt.DeviceRegistry
	template  string
	strict    bool
}

// NewMQTTDeviceUpdater creates an updater. When strict is set, updates to
// devices or parameters the registry does not know are rejected instead of
// falling back to the topic template.
func NewMQTTDeviceUpdater(publisher Publisher, registry *mqtt.DeviceRegistry, template string, strict bool) *MQTTDeviceUpdater {
	if template == "" {
		template = DefaultCommandTopicTemplate
	}
	return &MQTTDeviceUpdater{
		publisher: publisher,
		registry:  registry,
		template:  template,
		strict:    strict,
	}
}

// Apply publishes one update and returns an error if it could not be sent.
func (u *MQTTDeviceUpdater) Apply(ctx context.Context, integrationID, deviceID, parameterID string, value Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	topic, err := u.commandTopic(integrationID, deviceID, parameterID)
	if err != nil {
		return u.emitDeviceError(deviceID, parameterID, "", err.Error())
	}

	payload, err := json.Marshal(CommandPayload{
		IntegrationID: integrationID,
		DeviceID:      deviceID,
		ParameterID:   parameterID,
		Value:         value,
	})
	if err != nil {
		return u.emitDeviceError(deviceID, parameterID, topic, fmt.Sprintf("failed to marshal payload: %v", err))
	}

	if u.publisher == nil || !u.publisher.IsConnected() {
		return u.emitDeviceError(deviceID, parameterID, topic, "MQTT client not connected")
	}

	if err := u.publisher.Publish(topic, payload); err != nil {
		return u.emitDeviceError(deviceID, parameterID, topic, fmt.Sprintf("MQTT publish failed: %v", err))
	}

	return nil
}

func (u *MQTTDeviceUpdater) commandTopic(integrationID, deviceID, parameterID string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("missing device_id")
	}

	if u.registry != nil && u.registry.Exists(deviceID) {
		if u.strict {
			if err := u.registry.ValidateCommand(deviceID, parameterID); err != nil {
				return "", err
			}
		}
		if topic := u.registry.GetCommandTopic(deviceID); topic != "" {
			return topic, nil
		}
	} else if u.strict {
		return "", fmt.Errorf("device not registered: %s", deviceID)
	}

	r := strings.NewReplacer("{device_id}", deviceID, "{integration_id}", integrationID)
	return r.Replace(u.template), nil
}

// emitDeviceError emits a device.error event with full context and returns an error.
func (u *MQTTDeviceUpdater) emitDeviceError(deviceID, parameterID, topic, msg string) error {
	fields := map[string]interface{}{
		"error": msg,
	}
	if deviceID != "" {
		fields["device_id"] = deviceID
	}
	if parameterID != "" {
		fields["parameter_id"] = parameterID
	}
	if topic != "" {
		fields["topic"] = topic
	}
	events.Emit("error", "device.error", msg, fields)
	return fmt.Errorf("%s", msg)
}

// DeviceUpdate is one update seen by a RecordingUpdater.
type DeviceUpdate struct {
	IntegrationID string `json:"integration_id"`
	DeviceID      string `json:"device_id"`
	ParameterID   string `json:"parameter_id"`
	Value         Value  `json:"value"`
}

// RecordingUpdater keeps every update in memory instead of sending it.
// The CLI uses it for dry runs.
type RecordingUpdater struct {
	mu      sync.Mutex
	updates []DeviceUpdate
}

func (r *RecordingUpdater) Apply(ctx context.Context, integrationID, deviceID, parameterID string, value Value) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, DeviceUpdate{
		IntegrationID: integrationID,
		DeviceID:      deviceID,
		ParameterID:   parameterID,
		Value:         value,
	})
	return nil
}

// Updates returns the recorded updates in the order they were applied.
func (r *RecordingUpdater) Updates() []DeviceUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DeviceUpdate(nil), r.updates...)
}
