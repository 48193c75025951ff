package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mutableChains lets a test replace the chain set while a worker is running.
type mutableChains struct {
	mu     sync.Mutex
	chains []*RuleChain
}

func (m *mutableChains) ListAll(ctx context.Context) ([]*RuleChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*RuleChain(nil), m.chains...), nil
}

func startWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestWorkerIngestAndTrigger(t *testing.T) {
	rec := &RecordingUpdater{}
	chains := &mutableChains{chains: []*RuleChain{
		mustChain(t, "c1",
			&SourceNode{ID: "s", DeviceID: "sensor", ParameterID: "temp", Target: "sw"},
			&SwitchNode{ID: "sw", Conditions: []Condition{{Operator: "==", Value: int64(40)}}, Targets: []string{"a"}},
			&ActionNode{ID: "a", Actions: []Action{{DeviceID: "fan", ParameterID: "state", Value: "on"}}},
		),
	}}
	w := NewWorker(NewBatchRunner(NewRuntime(nil, rec), chains, AbortOnError), nil, WorkerConfig{})
	startWorker(t, w)

	ctx := context.Background()
	if err := w.Ingest(ctx, TelemetryUpdate{DeviceID: "sensor", Params: map[string]Value{"temp": 40}}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	res, err := w.Trigger(ctx)
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if res.Context.Devices["fan"]["state"] != "on" {
		t.Errorf("expected fan on, got %v", res.Context.Devices)
	}

	// The returned context is a copy.
	res.Context.Devices["fan"]["state"] = "tampered"
	snap, err := w.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snap["fan"]["state"] != "on" {
		t.Errorf("expected live state to be unaffected, got %v", snap["fan"]["state"])
	}
	if snap["sensor"]["temp"] != int64(40) {
		t.Errorf("expected normalized telemetry, got %#v", snap["sensor"]["temp"])
	}
	if len(rec.Updates()) != 1 {
		t.Errorf("expected 1 update, got %d", len(rec.Updates()))
	}
}

func TestWorkerRunOnTelemetry(t *testing.T) {
	rec := &RecordingUpdater{}
	chains := &mutableChains{chains: []*RuleChain{
		mustChain(t, "c1",
			&SourceNode{ID: "s", DeviceID: "door", ParameterID: "open", Target: "a"},
			&ActionNode{ID: "a", Actions: []Action{{DeviceID: "light", ParameterID: "state", Value: "on"}}},
		),
	}}
	w := NewWorker(NewBatchRunner(NewRuntime(nil, rec), chains, AbortOnError), nil, WorkerConfig{RunOnTelemetry: true})
	startWorker(t, w)

	ctx := context.Background()
	if err := w.Ingest(ctx, TelemetryUpdate{DeviceID: "door", Params: map[string]Value{"open": true}}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.Updates()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(rec.Updates()) == 0 {
		t.Fatal("expected telemetry to trigger a batch")
	}
}

func TestWorkerInterval(t *testing.T) {
	rec := &RecordingUpdater{}
	chains := &mutableChains{chains: []*RuleChain{
		mustChain(t, "c1",
			&SourceNode{ID: "s", DeviceID: "clock", ParameterID: "tick", Target: "a"},
			&ActionNode{ID: "a", Actions: []Action{{DeviceID: "out", ParameterID: "seen", Value: true}}},
		),
	}}
	w := NewWorker(NewBatchRunner(NewRuntime(nil, rec), chains, AbortOnError),
		Devices{"clock": {"tick": int64(1)}}, WorkerConfig{Interval: 10 * time.Millisecond})
	startWorker(t, w)

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.Updates()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(rec.Updates()) < 2 {
		t.Fatalf("expected periodic batches, got %d updates", len(rec.Updates()))
	}
}

func TestWorkerDropsInvalidTelemetry(t *testing.T) {
	w := NewWorker(NewBatchRunner(NewRuntime(nil, nil), &mutableChains{}, AbortOnError), nil, WorkerConfig{})
	startWorker(t, w)

	ctx := context.Background()
	err := w.Ingest(ctx, TelemetryUpdate{DeviceID: "d", Params: map[string]Value{
		"ok":  "fine",
		"bad": struct{}{},
	}})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	snap, err := w.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snap["d"]["ok"] != "fine" {
		t.Errorf("expected valid parameter to be applied, got %v", snap["d"])
	}
	if _, ok := snap["d"]["bad"]; ok {
		t.Error("expected invalid parameter to be dropped")
	}
}

func TestWorkerStopped(t *testing.T) {
	w := NewWorker(NewBatchRunner(NewRuntime(nil, nil), &mutableChains{}, AbortOnError), nil, WorkerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	bg := context.Background()
	if _, err := w.Trigger(bg); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("expected ErrWorkerStopped from Trigger, got %v", err)
	}
	if _, err := w.Snapshot(bg); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("expected ErrWorkerStopped from Snapshot, got %v", err)
	}
}

func TestWorkerTryIngestNeverBlocks(t *testing.T) {
	w := NewWorker(NewBatchRunner(NewRuntime(nil, nil), &mutableChains{}, AbortOnError), nil, WorkerConfig{QueueSize: 2})

	for i := 0; i < 2; i++ {
		if err := w.TryIngest(TelemetryUpdate{DeviceID: "sensor", Params: map[string]Value{"temp": i}}); err != nil {
			t.Fatalf("update %d: unexpected error %v", i, err)
		}
	}

	returned := make(chan error, 1)
	go func() {
		returned <- w.TryIngest(TelemetryUpdate{DeviceID: "sensor", Params: map[string]Value{"temp": 99}})
	}()
	select {
	case err := <-returned:
		if !errors.Is(err, ErrQueueFull) {
			t.Errorf("expected ErrQueueFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("TryIngest blocked on a full queue")
	}

	startWorker(t, w)
	snap, err := w.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snap["sensor"]["temp"] != int64(1) {
		t.Errorf("expected queued updates applied in order, got %#v", snap["sensor"]["temp"])
	}
}

func TestWorkerTryIngestAfterStop(t *testing.T) {
	w := NewWorker(NewBatchRunner(NewRuntime(nil, nil), &mutableChains{}, AbortOnError), nil, WorkerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := w.TryIngest(TelemetryUpdate{DeviceID: "sensor"}); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("expected ErrWorkerStopped, got %v", err)
	}
}
