package mqtt

import (
	"fmt"
	"sort"
	"sync"
)

// RegisteredDevice holds runtime information about a registered device.
type RegisteredDevice struct {
	DeviceID       string
	ControllerID   string
	IntegrationID  string
	Type           string
	CommandTopic   string // topics.commands from registration
	TelemetryTopic string // topics.telemetry from registration
	Parameters     []string
}

func (d *RegisteredDevice) clone() *RegisteredDevice {
	cpy := *d
	cpy.Parameters = append([]string{}, d.Parameters...)
	return &cpy
}

// DeviceRegistry maps device ids to their MQTT topics and metadata.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*RegisteredDevice
}

// NewDeviceRegistry creates a new empty device registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*RegisteredDevice),
	}
}

// Register adds or updates a device in the registry.
func (r *DeviceRegistry) Register(dev *RegisteredDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[dev.DeviceID] = dev.clone()
}

// Unregister removes a device from the registry.
func (r *DeviceRegistry) Unregister(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, deviceID)
}

// Get returns a copy of a device, or nil if not found.
func (r *DeviceRegistry) Get(deviceID string) *RegisteredDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dev, ok := r.devices[deviceID]; ok {
		return dev.clone()
	}
	return nil
}

// Exists returns true if the device is registered.
func (r *DeviceRegistry) Exists(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[deviceID]
	return ok
}

// GetCommandTopic returns the command topic for a device, or empty string if not found.
func (r *DeviceRegistry) GetCommandTopic(deviceID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dev, ok := r.devices[deviceID]; ok {
		return dev.CommandTopic
	}
	return ""
}

// HasParameter returns true if the device declares the parameter.
func (r *DeviceRegistry) HasParameter(deviceID, parameterID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dev, ok := r.devices[deviceID]; ok {
		for _, p := range dev.Parameters {
			if p == parameterID {
				return true
			}
		}
	}
	return false
}

// ValidateCommand checks that a registered device can receive an update of
// the given parameter. Devices that declare no parameters accept any.
func (r *DeviceRegistry) ValidateCommand(deviceID, parameterID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("device not registered: %s", deviceID)
	}

	if dev.CommandTopic == "" {
		return fmt.Errorf("device %s has no command topic", deviceID)
	}

	if len(dev.Parameters) == 0 {
		return nil
	}
	for _, p := range dev.Parameters {
		if p == parameterID {
			return nil
		}
	}

	return fmt.Errorf("device %s does not declare parameter: %s", deviceID, parameterID)
}

// All returns a copy of all registered devices, sorted by device id.
func (r *DeviceRegistry) All() []*RegisteredDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*RegisteredDevice, 0, len(r.devices))
	for _, dev := range r.devices {
		result = append(result, dev.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DeviceID < result[j].DeviceID })
	return result
}

// RegisterFromPayload registers all devices from a registration payload
// and returns them.
func (r *DeviceRegistry) RegisterFromPayload(payload *RegistrationPayload) []*RegisteredDevice {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*RegisteredDevice, 0, len(payload.Devices))
	for _, dev := range payload.Devices {
		if dev.DeviceID == "" {
			continue
		}
		integrationID := dev.IntegrationID
		if integrationID == "" {
			integrationID = payload.Controller.IntegrationID
		}
		rd := &RegisteredDevice{
			DeviceID:       dev.DeviceID,
			ControllerID:   payload.Controller.ID,
			IntegrationID:  integrationID,
			Type:           dev.Type,
			CommandTopic:   dev.Topics.Commands,
			TelemetryTopic: dev.Topics.Telemetry,
			Parameters:     append([]string{}, dev.Parameters...),
		}
		r.devices[dev.DeviceID] = rd
		out = append(out, rd.clone())
	}
	return out
}

// Clear removes all devices from the registry.
func (r *DeviceRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]*RegisteredDevice)
}
