package mqtt

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RegistrationPayload represents a v1 controller registration message.
type RegistrationPayload struct {
	Version    int                  `json:"version"`
	Controller ControllerInfo       `json:"controller"`
	Devices    []DeviceRegistration `json:"devices"`
}

// ControllerInfo contains controller metadata.
type ControllerInfo struct {
	ID            string `json:"id"`
	IntegrationID string `json:"integration_id"`
	Type          string `json:"type"`
	Firmware      string `json:"firmware"`
	UptimeMS      int64  `json:"uptime_ms"`
	HeartbeatSec  int    `json:"heartbeat_sec"`
}

// DeviceRegistration describes a single device provided by the controller.
type DeviceRegistration struct {
	DeviceID      string       `json:"device_id"`
	IntegrationID string       `json:"integration_id,omitempty"`
	Type          string       `json:"type"`
	Parameters    []string     `json:"parameters"`
	Topics        DeviceTopics `json:"topics"`
}

// DeviceTopics defines MQTT topics for device communication.
type DeviceTopics struct {
	Telemetry string `json:"telemetry"`
	Commands  string `json:"commands"`
}

// ParseRegistration parses a registration payload from JSON bytes.
func ParseRegistration(data []byte) (*RegistrationPayload, error) {
	var payload RegistrationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid registration JSON: %w", err)
	}

	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported registration version: %d", payload.Version)
	}

	if payload.Controller.ID == "" {
		return nil, fmt.Errorf("controller.id is required")
	}

	return &payload, nil
}

// DeviceSpec describes a device the engine expects to see registered.
type DeviceSpec struct {
	Type       string
	Required   bool
	Parameters []string
}

// ValidationResult contains validation outcome.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateRegistration validates a registration payload against device specs.
// Only specs for devices of this controller are checked, so a missing
// required device is reported by the monitor, not here.
func ValidateRegistration(payload *RegistrationPayload, specs map[string]DeviceSpec) *ValidationResult {
	result := &ValidationResult{Valid: true}

	registered := make(map[string]*DeviceRegistration)
	for i := range payload.Devices {
		dev := &payload.Devices[i]
		if dev.DeviceID == "" {
			result.Errors = append(result.Errors, "device with empty device_id")
			result.Valid = false
			continue
		}
		registered[dev.DeviceID] = dev
	}

	ids := make([]string, 0, len(registered))
	for id := range registered {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		reg := registered[id]
		spec, ok := specs[id]
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unrecognized device: %s", id))
			continue
		}

		if spec.Type != "" && reg.Type != spec.Type {
			result.Errors = append(result.Errors, fmt.Sprintf("device %s: type mismatch (expected %s, got %s)", id, spec.Type, reg.Type))
			result.Valid = false
		}

		for _, p := range spec.Parameters {
			if !containsString(reg.Parameters, p) {
				result.Errors = append(result.Errors, fmt.Sprintf("device %s: missing parameter %s", id, p))
				result.Valid = false
			}
		}
	}

	return result
}

// MissingRequired lists required devices that no registration has provided.
func MissingRequired(registry *DeviceRegistry, specs map[string]DeviceSpec) []string {
	var missing []string
	for id, spec := range specs {
		if spec.Required && !registry.Exists(id) {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}

func containsString(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
