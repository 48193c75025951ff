package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/AaronLay10/RuleChain/internal/metrics"
)

var (
	// ErrWorkerStopped is returned by Worker calls made after Run has returned.
	ErrWorkerStopped = errors.New("worker stopped")
	// ErrQueueFull is returned by TryIngest when the telemetry queue is full.
	ErrQueueFull = errors.New("telemetry queue full")
)

// TelemetryUpdate carries new parameter values reported by one device.
type TelemetryUpdate struct {
	DeviceID string
	Params   map[string]Value
}

// WorkerConfig controls when the worker runs batches.
type WorkerConfig struct {
	// RunOnTelemetry runs a batch after every telemetry update.
	RunOnTelemetry bool
	// Interval runs a batch periodically when positive.
	Interval time.Duration
	// QueueSize bounds pending telemetry updates. Defaults to 256.
	QueueSize int
}

type triggerReply struct {
	result *BatchResult
	err    error
}

// Worker owns the device context of a running engine. Telemetry, batch
// triggers and snapshots are messages handled one at a time by the Run
// goroutine, so chains never observe concurrent changes.
type Worker struct {
	batch   *BatchRunner
	ec      *ExecutionContext
	cfg     WorkerConfig
	metrics *metrics.Metrics

	telemetry chan TelemetryUpdate
	triggers  chan chan triggerReply
	snapshots chan chan Devices
	done      chan struct{}
}

// NewWorker creates a worker seeded with devices. The table is owned by the
// worker from now on.
func NewWorker(batch *BatchRunner, devices Devices, cfg WorkerConfig) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Worker{
		batch:     batch,
		ec:        NewExecutionContext(devices),
		cfg:       cfg,
		metrics:   batch.metrics,
		telemetry: make(chan TelemetryUpdate, cfg.QueueSize),
		triggers:  make(chan chan triggerReply),
		snapshots: make(chan chan Devices),
		done:      make(chan struct{}),
	}
}

// Run processes messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	var tick <-chan time.Time
	if w.cfg.Interval > 0 {
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case u := <-w.telemetry:
			w.apply(u)
			if w.cfg.RunOnTelemetry {
				w.runBatch(ctx)
			}

		case <-tick:
			w.drain()
			w.runBatch(ctx)

		case reply := <-w.triggers:
			w.drain()
			res, err := w.runBatch(ctx)
			reply <- triggerReply{result: res, err: err}

		case reply := <-w.snapshots:
			w.drain()
			reply <- w.ec.Devices.Clone()
		}
	}
}

// Ingest queues a telemetry update. It blocks while the queue is full.
func (w *Worker) Ingest(ctx context.Context, u TelemetryUpdate) error {
	select {
	case w.telemetry <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrWorkerStopped
	}
}

// TryIngest queues a telemetry update without blocking. Callers on a
// transport's delivery path use it so a busy worker never stalls the
// transport.
func (w *Worker) TryIngest(u TelemetryUpdate) error {
	select {
	case <-w.done:
		return ErrWorkerStopped
	default:
	}
	select {
	case w.telemetry <- u:
		return nil
	default:
		return ErrQueueFull
	}
}

// Trigger runs a batch now and waits for it. The returned contexts are
// snapshots; the live table stays with the worker.
func (w *Worker) Trigger(ctx context.Context) (*BatchResult, error) {
	reply := make(chan triggerReply, 1)
	select {
	case w.triggers <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return nil, ErrWorkerStopped
	}

	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns a copy of the device table.
func (w *Worker) Snapshot(ctx context.Context) (Devices, error) {
	reply := make(chan Devices, 1)
	select {
	case w.snapshots <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return nil, ErrWorkerStopped
	}

	select {
	case d := <-reply:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drain applies queued telemetry so triggers and snapshots observe every
// update that was ingested before them.
func (w *Worker) drain() {
	for {
		select {
		case u := <-w.telemetry:
			w.apply(u)
		default:
			return
		}
	}
}

func (w *Worker) apply(u TelemetryUpdate) {
	if u.DeviceID == "" {
		return
	}
	for k, v := range u.Params {
		nv, err := NormalizeValue(v)
		if err != nil {
			events.Emit("warn", "device.error", "dropped telemetry value", map[string]interface{}{
				"device_id":    u.DeviceID,
				"parameter_id": k,
				"error":        err.Error(),
			})
			continue
		}
		w.ec.Set(u.DeviceID, k, nv)
	}
	w.metrics.ObserveTelemetry()
}

func (w *Worker) runBatch(ctx context.Context) (*BatchResult, error) {
	res, err := w.batch.RunAll(ctx, w.ec)
	if res == nil {
		return nil, err
	}

	snap := &ExecutionContext{Devices: w.ec.Devices.Clone()}
	out := &BatchResult{Context: snap, Runs: make([]ChainRun, len(res.Runs))}
	for i, run := range res.Runs {
		out.Runs[i] = run
		if run.Result != nil {
			r := *run.Result
			r.Context = snap
			out.Runs[i].Result = &r
		}
	}
	return out, err
}
