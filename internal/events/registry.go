package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// chain
	"chain.started":   {},
	"chain.completed": {},
	"chain.failed":    {},

	// node
	"node.started":   {},
	"node.completed": {},
	"node.failed":    {},

	// script
	"script.failed": {},

	// batch
	"batch.started":   {},
	"batch.completed": {},
	"batch.failed":    {},

	// device
	"device.updated":      {},
	"device.telemetry":    {},
	"device.error":        {},
	"device.connected":    {},
	"device.disconnected": {},

	// store
	"chain.created": {},
	"chain.deleted": {},

	// system
	"system.startup":         {},
	"system.shutdown":        {},
	"system.error":           {},
	"system.startup_restore": {},
}

// Validate returns an error for event names outside the registry.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
