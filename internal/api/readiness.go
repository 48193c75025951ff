package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// readinessState tracks the dependencies /ready reports on. Optional
// dependencies do not block readiness when unavailable.
type readinessState struct {
	mu                sync.RWMutex
	orchestratorReady bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

var readiness = &readinessState{}

// SetOrchestratorReady marks whether the worker is processing batches.
func SetOrchestratorReady(ready bool) {
	readiness.mu.Lock()
	readiness.orchestratorReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState records the broker connection and whether it is optional.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

// SetPostgresState records the database connection and whether it is
// optional.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
}

// CheckStatus is the state of one dependency.
type CheckStatus struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

// ReadinessResponse is the body of /ready.
type ReadinessResponse struct {
	Ready       bool                   `json:"ready"`
	Checks      map[string]CheckStatus `json:"checks"`
	NotReadyMsg string                 `json:"message,omitempty"`
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	s := readinessState{
		orchestratorReady: readiness.orchestratorReady,
		mqttConnected:     readiness.mqttConnected,
		mqttOptional:      readiness.mqttOptional,
		postgresConnected: readiness.postgresConnected,
		postgresOptional:  readiness.postgresOptional,
	}
	readiness.mu.RUnlock()

	resp := ReadinessResponse{Ready: true, Checks: make(map[string]CheckStatus)}
	var reasons []string

	if s.orchestratorReady {
		resp.Checks["orchestrator"] = CheckStatus{Status: "ok"}
	} else {
		resp.Checks["orchestrator"] = CheckStatus{Status: "not_ready"}
		resp.Ready = false
		reasons = append(reasons, "orchestrator not ready")
	}

	check := func(name string, connected, optional bool) {
		switch {
		case connected:
			resp.Checks[name] = CheckStatus{Status: "ok", Optional: optional}
		case optional:
			resp.Checks[name] = CheckStatus{Status: "unavailable", Optional: true}
		default:
			resp.Checks[name] = CheckStatus{Status: "not_ready"}
			resp.Ready = false
			reasons = append(reasons, name+" not connected")
		}
	}
	check("mqtt", s.mqttConnected, s.mqttOptional)
	check("postgres", s.postgresConnected, s.postgresOptional)

	resp.NotReadyMsg = strings.Join(reasons, "; ")

	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
