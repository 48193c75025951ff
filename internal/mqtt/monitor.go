package mqtt

import (
	"sync"
	"time"

	"github.com/AaronLay10/RuleChain/internal/events"
)

// DefaultRegistrationTopic carries controller registration messages.
const DefaultRegistrationTopic = "controllers/+/registration"

// ControllerState tracks a registered controller's health.
type ControllerState struct {
	ControllerID string
	LastSeen     time.Time
	HeartbeatSec int
	Devices      []string
	Connected    bool
}

// Monitor tracks controller registration and health. Valid registrations
// are written to the device registry; telemetry from a controller's
// devices counts as a heartbeat.
type Monitor struct {
	mu          sync.RWMutex
	registry    *DeviceRegistry
	controllers map[string]*ControllerState
	byDevice    map[string]string // device id -> controller id
	specs       map[string]DeviceSpec
	tolerance   float64 // multiplier for heartbeat interval (e.g., 2.0 = 2x heartbeat)
	onRegister  func(*RegisteredDevice)
	stopCh      chan struct{}
	wg          sync.WaitGroup
	now         func() time.Time
}

// NewMonitor creates a new controller monitor.
// tolerance is the multiplier for heartbeat interval before considering disconnected.
func NewMonitor(registry *DeviceRegistry, specs map[string]DeviceSpec, tolerance float64) *Monitor {
	if tolerance <= 1.0 {
		tolerance = 2.0
	}
	return &Monitor{
		registry:    registry,
		controllers: make(map[string]*ControllerState),
		byDevice:    make(map[string]string),
		specs:       specs,
		tolerance:   tolerance,
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
}

// OnRegister sets a callback invoked for every device of a valid
// registration, after it has been added to the registry.
func (m *Monitor) OnRegister(fn func(*RegisteredDevice)) {
	m.mu.Lock()
	m.onRegister = fn
	m.mu.Unlock()
}

// HandleMessage parses and handles a raw registration message.
func (m *Monitor) HandleMessage(data []byte) (*ValidationResult, error) {
	payload, err := ParseRegistration(data)
	if err != nil {
		events.Emit("error", "device.error", "invalid registration", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}
	return m.HandleRegistration(payload), nil
}

// HandleRegistration processes a registration payload.
// Returns validation result and emits appropriate events.
func (m *Monitor) HandleRegistration(payload *RegistrationPayload) *ValidationResult {
	result := ValidateRegistration(payload, m.specs)

	ctrlID := payload.Controller.ID
	if !result.Valid {
		events.Emit("error", "device.error", "registration validation failed", map[string]interface{}{
			"controller_id": ctrlID,
			"errors":        result.Errors,
		})
		return result
	}

	registered := m.registry.RegisterFromPayload(payload)

	m.mu.Lock()
	existing, known := m.controllers[ctrlID]
	isReconnect := known && !existing.Connected

	deviceIDs := make([]string, 0, len(registered))
	for _, dev := range registered {
		deviceIDs = append(deviceIDs, dev.DeviceID)
		m.byDevice[dev.DeviceID] = ctrlID
	}
	m.controllers[ctrlID] = &ControllerState{
		ControllerID: ctrlID,
		LastSeen:     m.now(),
		HeartbeatSec: payload.Controller.HeartbeatSec,
		Devices:      deviceIDs,
		Connected:    true,
	}
	onRegister := m.onRegister
	m.mu.Unlock()

	for _, dev := range registered {
		events.Emit("info", "device.connected", "", map[string]interface{}{
			"controller_id": ctrlID,
			"device_id":     dev.DeviceID,
			"type":          dev.Type,
			"reconnect":     isReconnect,
		})
		if onRegister != nil {
			onRegister(dev)
		}
	}

	return result
}

// Touch records activity for the controller owning deviceID.
func (m *Monitor) Touch(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctrlID, ok := m.byDevice[deviceID]
	if !ok {
		return
	}
	if state, ok := m.controllers[ctrlID]; ok {
		state.LastSeen = m.now()
		state.Connected = true
	}
}

// Start begins the background health check loop.
func (m *Monitor) Start(checkInterval time.Duration) {
	m.wg.Add(1)
	go m.healthCheckLoop(checkInterval)
}

// Stop stops the background health check loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) healthCheckLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Monitor) checkHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	for ctrlID, state := range m.controllers {
		if !state.Connected || state.HeartbeatSec <= 0 {
			continue
		}

		timeout := time.Duration(float64(state.HeartbeatSec)*m.tolerance) * time.Second
		if now.Sub(state.LastSeen) > timeout {
			state.Connected = false

			for _, deviceID := range state.Devices {
				events.Emit("warn", "device.disconnected", "heartbeat timeout", map[string]interface{}{
					"controller_id": ctrlID,
					"device_id":     deviceID,
					"last_seen":     state.LastSeen.Format(time.RFC3339),
					"timeout_sec":   timeout.Seconds(),
				})
			}
		}
	}
}

// GetControllerState returns a copy of a controller's state, or nil.
func (m *Monitor) GetControllerState(controllerID string) *ControllerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.controllers[controllerID]; ok {
		cpy := *state
		cpy.Devices = append([]string{}, state.Devices...)
		return &cpy
	}
	return nil
}

// ConnectedControllers returns the ids of controllers with a live heartbeat.
func (m *Monitor) ConnectedControllers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, state := range m.controllers {
		if state.Connected {
			ids = append(ids, id)
		}
	}
	return ids
}
