package orchestrator

import (
	"context"

	"github.com/AaronLay10/RuleChain/internal/events"
)

// DefaultRestoreLimit is the default number of events to load for restore.
const DefaultRestoreLimit = 1000

// RecordedEvent is a persisted event as read back from the event log.
type RecordedEvent struct {
	Name   string
	Fields map[string]interface{}
}

// RestoreEvents are the events that carry device state.
var RestoreEvents = []string{"device.telemetry", "device.updated"}

// EventLog reads persisted events, newest first. Only events whose name is
// in names count towards limit.
type EventLog interface {
	RecordedEvents(ctx context.Context, names []string, limit int) ([]RecordedEvent, error)
}

// RestoreDevices rebuilds the device table from device.telemetry and
// device.updated events. Returns nil if log is nil or holds no events, and
// the number of events read.
func RestoreDevices(ctx context.Context, log EventLog, limit int) (Devices, int, error) {
	if log == nil {
		return nil, 0, nil
	}

	if limit <= 0 {
		limit = DefaultRestoreLimit
	}

	rows, err := log.RecordedEvents(ctx, RestoreEvents, limit)
	if err != nil {
		return nil, 0, err
	}

	if len(rows) == 0 {
		return nil, 0, nil
	}

	// Reverse to chronological order
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	ec := NewExecutionContext(nil)
	for _, row := range rows {
		deviceID, _ := row.Fields["device_id"].(string)
		if deviceID == "" {
			continue
		}

		switch row.Name {
		case "device.telemetry":
			params, ok := row.Fields["params"].(map[string]interface{})
			if !ok {
				continue
			}
			for k, v := range params {
				if nv, err := NormalizeValue(v); err == nil {
					ec.Set(deviceID, k, nv)
				}
			}

		case "device.updated":
			parameterID, ok := row.Fields["parameter_id"].(string)
			if !ok || parameterID == "" {
				continue
			}
			if nv, err := NormalizeValue(row.Fields["value"]); err == nil {
				ec.Set(deviceID, parameterID, nv)
			}
		}
	}

	return ec.Devices, len(rows), nil
}

// EmitStartupRestore emits the system.startup_restore event.
func EmitStartupRestore(restored int, devices int) {
	events.Emit("info", "system.startup_restore", "", map[string]interface{}{
		"restored": restored,
		"devices":  devices,
	})
}
