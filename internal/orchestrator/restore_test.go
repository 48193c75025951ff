package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeEventLog struct {
	rows  []RecordedEvent // newest first
	err   error
	names []string
	limit int
}

// RecordedEvents filters by name before applying the limit, like the
// Postgres query does.
func (f *fakeEventLog) RecordedEvents(ctx context.Context, names []string, limit int) ([]RecordedEvent, error) {
	f.names, f.limit = names, limit
	if f.err != nil {
		return nil, f.err
	}
	var out []RecordedEvent
	for _, r := range f.rows {
		for _, n := range names {
			if r.Name == n {
				out = append(out, r)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestRestoreDevicesNilLog(t *testing.T) {
	devices, count, err := RestoreDevices(context.Background(), nil, 100)
	if err != nil {
		t.Errorf("expected no error with nil log, got %v", err)
	}
	if devices != nil {
		t.Error("expected nil devices with nil log")
	}
	if count != 0 {
		t.Errorf("expected 0 count with nil log, got %d", count)
	}
}

func TestRestoreDevicesEmptyLog(t *testing.T) {
	devices, count, err := RestoreDevices(context.Background(), &fakeEventLog{}, 0)
	if err != nil || devices != nil || count != 0 {
		t.Errorf("expected empty restore, got %v %d %v", devices, count, err)
	}
}

func TestRestoreDevicesDefaultLimit(t *testing.T) {
	log := &fakeEventLog{}
	RestoreDevices(context.Background(), log, -1)
	if log.limit != DefaultRestoreLimit {
		t.Errorf("expected default limit %d, got %d", DefaultRestoreLimit, log.limit)
	}
}

func TestRestoreDevicesReplaysChronologically(t *testing.T) {
	log := &fakeEventLog{rows: []RecordedEvent{
		// newest
		{Name: "device.updated", Fields: map[string]interface{}{
			"device_id": "fan", "parameter_id": "state", "value": "off",
		}},
		{Name: "chain.completed", Fields: map[string]interface{}{"chain_id": "c1"}},
		{Name: "device.telemetry", Fields: map[string]interface{}{
			"device_id": "thermo",
			"params":    map[string]interface{}{"temp": json.Number("31"), "unit": "C"},
		}},
		{Name: "device.updated", Fields: map[string]interface{}{
			"device_id": "fan", "parameter_id": "state", "value": "on",
		}},
		{Name: "device.telemetry", Fields: map[string]interface{}{
			"device_id": "thermo",
			"params":    map[string]interface{}{"temp": float64(12.5)},
		}},
		// oldest
	}}

	devices, count, err := RestoreDevices(context.Background(), log, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 device events read, got %d", count)
	}

	if devices["fan"]["state"] != "off" {
		t.Errorf("expected latest fan state off, got %v", devices["fan"]["state"])
	}
	if devices["thermo"]["temp"] != int64(31) {
		t.Errorf("expected latest temp int64(31), got %#v", devices["thermo"]["temp"])
	}
	if devices["thermo"]["unit"] != "C" {
		t.Errorf("expected unit C, got %v", devices["thermo"]["unit"])
	}
}

func TestRestoreDevicesSkipsIncompleteEvents(t *testing.T) {
	log := &fakeEventLog{rows: []RecordedEvent{
		{Name: "device.updated", Fields: map[string]interface{}{"parameter_id": "state", "value": "on"}},
		{Name: "device.updated", Fields: map[string]interface{}{"device_id": "fan", "value": "on"}},
		{Name: "device.telemetry", Fields: map[string]interface{}{"device_id": "thermo", "params": "bad"}},
	}}

	devices, _, err := RestoreDevices(context.Background(), log, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("expected no devices, got %v", devices)
	}
}

func TestRestoreDevicesError(t *testing.T) {
	log := &fakeEventLog{err: errors.New("connection refused")}
	if _, _, err := RestoreDevices(context.Background(), log, 10); err == nil {
		t.Fatal("expected error from event log")
	}
}

func TestRestoreDevicesIgnoresNewerNonDeviceEvents(t *testing.T) {
	var rows []RecordedEvent
	for i := 0; i < 50; i++ {
		rows = append(rows, RecordedEvent{Name: "node.completed", Fields: map[string]interface{}{"chain_id": "c1", "node_id": "n1"}})
	}
	rows = append(rows, RecordedEvent{Name: "device.telemetry", Fields: map[string]interface{}{
		"device_id": "d1",
		"params":    map[string]interface{}{"temp": "HOT"},
	}})
	log := &fakeEventLog{rows: rows}

	devices, count, err := RestoreDevices(context.Background(), log, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(log.names) != 2 || log.names[0] != "device.telemetry" || log.names[1] != "device.updated" {
		t.Errorf("expected restore to ask for device events only, got %v", log.names)
	}
	if count != 1 {
		t.Errorf("expected 1 event read, got %d", count)
	}
	if devices["d1"]["temp"] != "HOT" {
		t.Errorf("expected d1.temp restored, got %v", devices)
	}
}
