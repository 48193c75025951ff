package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/AaronLay10/RuleChain/internal/mqtt"
	"github.com/AaronLay10/RuleChain/internal/sandbox"
)

type chainList []*RuleChain

func (l chainList) ListAll(ctx context.Context) ([]*RuleChain, error) {
	return l, nil
}

// TestBatchIntegration runs the chains under testdata through the script
// sandbox and publishes the resulting commands to a mock MQTT client.
// This test verifies:
// 1. Chains and devices load from disk, including integer ids
// 2. Controller registration populates the command topics
// 3. The first chain classifies the temperature in the sandbox and turns the fan on
// 4. The second chain sees the fan change and arms the siren
// 5. Both commands are published with the registered topics and payloads
func TestBatchIntegration(t *testing.T) {
	events.Clear()

	chains, err := LoadRuleChains("testdata/chains")
	if err != nil {
		t.Fatalf("failed to load chains: %v", err)
	}
	if len(chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(chains))
	}
	if chains[0].ID != "fan-control" || chains[1].ID != "2" {
		t.Fatalf("unexpected chain order: %s, %s", chains[0].ID, chains[1].ID)
	}

	devices, err := LoadDevices("testdata/devices.json")
	if err != nil {
		t.Fatalf("failed to load devices: %v", err)
	}

	registry := mqtt.NewDeviceRegistry()
	registry.RegisterFromPayload(&mqtt.RegistrationPayload{
		Version: 1,
		Controller: mqtt.ControllerInfo{
			ID:            "ctrl-001",
			IntegrationID: "greenhouse",
			Type:          "esp32",
		},
		Devices: []mqtt.DeviceRegistration{
			{
				DeviceID:   "fan-1",
				Type:       "relay",
				Parameters: []string{"state"},
				Topics:     mqtt.DeviceTopics{Commands: "greenhouse/ctrl-001/fan-1/set"},
			},
			{
				DeviceID:   "siren-1",
				Type:       "siren",
				Parameters: []string{"armed"},
				Topics:     mqtt.DeviceTopics{Commands: "greenhouse/ctrl-001/siren-1/set"},
			},
		},
	})

	client := NewMockMQTTClient()
	updater := NewMQTTDeviceUpdater(client, registry, "", true)
	rt := NewRuntime(sandbox.New(sandbox.Config{}), updater)
	runner := NewBatchRunner(rt, chainList(chains), AbortOnError)

	res, err := runner.RunAll(context.Background(), NewExecutionContext(devices))
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if len(res.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(res.Runs))
	}
	first := res.Runs[0].Result
	if first.Intermediate != "HOT" {
		t.Errorf("expected HOT classification, got %v", first.Intermediate)
	}
	wantVisited := []string{"temp", "classify", "branch", "fan-on"}
	if len(first.Visited) != len(wantVisited) {
		t.Fatalf("expected visited %v, got %v", wantVisited, first.Visited)
	}
	for i := range wantVisited {
		if first.Visited[i] != wantVisited[i] {
			t.Errorf("visited[%d]: expected %s, got %s", i, wantVisited[i], first.Visited[i])
		}
	}

	if res.Context.Devices["fan-1"]["state"] != "on" {
		t.Errorf("expected fan-1.state on, got %v", res.Context.Devices["fan-1"]["state"])
	}
	if res.Context.Devices["siren-1"]["armed"] != true {
		t.Errorf("expected siren-1.armed true, got %v", res.Context.Devices["siren-1"]["armed"])
	}

	published := client.GetPublished()
	if len(published) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(published))
	}
	if published[0].Topic != "greenhouse/ctrl-001/fan-1/set" {
		t.Errorf("unexpected topic: %s", published[0].Topic)
	}
	if published[1].Topic != "greenhouse/ctrl-001/siren-1/set" {
		t.Errorf("unexpected topic: %s", published[1].Topic)
	}

	var payload CommandPayload
	if err := json.Unmarshal(published[0].Payload, &payload); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if payload.IntegrationID != "greenhouse" || payload.DeviceID != "fan-1" ||
		payload.ParameterID != "state" || payload.Value != "on" {
		t.Errorf("unexpected payload: %+v", payload)
	}

	var updated int
	for _, e := range events.Snapshot() {
		if e.Name == "device.updated" {
			updated++
		}
	}
	if updated != 2 {
		t.Errorf("expected 2 device.updated events, got %d", updated)
	}
}

// TestBatchIntegrationColdPath checks that the other switch branch is taken
// and the alarm chain stops on no match.
func TestBatchIntegrationColdPath(t *testing.T) {
	chains, err := LoadRuleChains("testdata/chains")
	if err != nil {
		t.Fatalf("failed to load chains: %v", err)
	}

	rec := &RecordingUpdater{}
	rt := NewRuntime(sandbox.New(sandbox.Config{}), rec)
	runner := NewBatchRunner(rt, chainList(chains), ContinueOnError)

	ec := NewExecutionContext(Devices{"sensor-1": {"temperature": 12.5}})
	res, err := runner.RunAll(context.Background(), ec)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	if ec.Devices["fan-1"]["state"] != "off" {
		t.Errorf("expected fan-1.state off, got %v", ec.Devices["fan-1"]["state"])
	}
	if res.Runs[1].Result.Terminal != TerminatedNoMatch {
		t.Errorf("expected alarm chain to end on no_match, got %s", res.Runs[1].Result.Terminal)
	}
	if len(rec.Updates()) != 1 {
		t.Errorf("expected 1 update, got %v", rec.Updates())
	}
}
