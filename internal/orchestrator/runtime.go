package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/AaronLay10/RuleChain/internal/metrics"
)

// DefaultMaxSteps bounds a single traversal. Only cyclic chains reach it.
const DefaultMaxSteps = 1000

// ScriptEvaluator runs the executeScript function of a script node.
type ScriptEvaluator interface {
	Evaluate(ctx context.Context, source string, input Value) (Value, error)
}

// DeviceUpdater pushes one device attribute change to the outside world.
type DeviceUpdater interface {
	Apply(ctx context.Context, integrationID, deviceID, parameterID string, value Value) error
}

// DeviceUpdaterFunc adapts a function to DeviceUpdater.
type DeviceUpdaterFunc func(ctx context.Context, integrationID, deviceID, parameterID string, value Value) error

func (f DeviceUpdaterFunc) Apply(ctx context.Context, integrationID, deviceID, parameterID string, value Value) error {
	return f(ctx, integrationID, deviceID, parameterID, value)
}

// Terminal records why a traversal stopped without error.
type Terminal string

const (
	TerminatedEnd              Terminal = "end"
	TerminatedMissingTelemetry Terminal = "missing_telemetry"
	TerminatedNoMatch          Terminal = "no_match"
	TerminatedAction           Terminal = "action"
)

// RunResult describes one traversal. Context is the ExecutionContext passed
// to Run, mutated in place.
type RunResult struct {
	ChainID      string
	Context      *ExecutionContext
	Visited      []string
	Terminal     Terminal
	Intermediate Value
}

// Runtime interprets rule chains. It holds no per-run state and may be
// shared, but a single ExecutionContext must not be used by two runs at once.
type Runtime struct {
	scripts  ScriptEvaluator
	devices  DeviceUpdater
	maxSteps int
	metrics  *metrics.Metrics
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMaxSteps overrides DefaultMaxSteps. Values below 1 are ignored.
func WithMaxSteps(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithMetrics records node dispatches, script timings and device updates.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// NewRuntime creates a chain interpreter. A nil updater discards updates;
// they are still applied to the execution context.
func NewRuntime(scripts ScriptEvaluator, devices DeviceUpdater, opts ...Option) *Runtime {
	r := &Runtime{
		scripts:  scripts,
		devices:  devices,
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run walks the chain from its source node against ec. The intermediate
// value is reset first. On error the partial result is returned alongside
// it; device updates already applied are kept.
func (r *Runtime) Run(ctx context.Context, chain *RuleChain, ec *ExecutionContext) (*RunResult, error) {
	if ec == nil {
		ec = NewExecutionContext(nil)
	}
	ec.Intermediate = nil

	res := &RunResult{ChainID: chain.ID, Context: ec}

	src, err := chain.Source()
	if err != nil {
		return res, r.fail(chain, res, err)
	}

	r.emitEvent("info", "chain.started", map[string]interface{}{
		"chain_id":       chain.ID,
		"integration_id": chain.IntegrationID,
	})

	current := src.ID
	for current != "" {
		if len(res.Visited) >= r.maxSteps {
			return res, r.fail(chain, res, &StepLimitError{ChainID: chain.ID, Limit: r.maxSteps})
		}
		if err := ctx.Err(); err != nil {
			return res, r.fail(chain, res, err)
		}

		node, ok := chain.Node(current)
		if !ok {
			return res, r.fail(chain, res, &MalformedChainError{ChainID: chain.ID, NodeID: current, Reason: "unknown target node"})
		}

		res.Visited = append(res.Visited, current)
		r.metrics.ObserveNode(string(node.Type()))
		r.emitEvent("debug", "node.started", map[string]interface{}{
			"chain_id":  chain.ID,
			"node_id":   current,
			"node_type": string(node.Type()),
		})

		next, term, err := r.dispatch(ctx, chain, node, ec)
		if err != nil {
			r.emitEvent("error", "node.failed", map[string]interface{}{
				"chain_id": chain.ID,
				"node_id":  current,
				"error":    err.Error(),
			})
			res.Intermediate = ec.Intermediate
			return res, r.fail(chain, res, err)
		}

		r.emitEvent("debug", "node.completed", map[string]interface{}{
			"chain_id": chain.ID,
			"node_id":  current,
		})

		if term != "" {
			res.Terminal = term
			break
		}
		current = next
	}

	if res.Terminal == "" {
		res.Terminal = TerminatedEnd
	}
	res.Intermediate = ec.Intermediate

	r.metrics.ObserveChainRun(metrics.OutcomeCompleted)
	r.metrics.ObserveTerminal(string(res.Terminal))
	r.emitEvent("info", "chain.completed", map[string]interface{}{
		"chain_id": chain.ID,
		"terminal": string(res.Terminal),
		"visited":  len(res.Visited),
	})
	return res, nil
}

// dispatch executes one node and returns the next node id. A non-empty
// Terminal ends the traversal without error.
func (r *Runtime) dispatch(ctx context.Context, chain *RuleChain, node Node, ec *ExecutionContext) (string, Terminal, error) {
	switch n := node.(type) {
	case *SourceNode:
		v, ok := ec.Lookup(n.DeviceID, n.ParameterID)
		if !ok {
			return "", TerminatedMissingTelemetry, nil
		}
		ec.Intermediate = v
		return n.Target, "", nil

	case *ScriptNode:
		out, err := r.evaluate(ctx, n.Script, ec.Intermediate)
		if err != nil {
			r.emitEvent("error", "script.failed", map[string]interface{}{
				"chain_id": chain.ID,
				"node_id":  n.ID,
				"error":    err.Error(),
			})
			return "", "", &ScriptExecutionError{ChainID: chain.ID, NodeID: n.ID, Err: err}
		}
		ec.Intermediate = out
		return n.Target, "", nil

	case *SwitchNode:
		if len(n.Targets) != len(n.Conditions) {
			return "", "", &MalformedChainError{ChainID: chain.ID, NodeID: n.ID, Reason: "switch targets do not match conditions"}
		}
		input := ec.Intermediate
		if i := MatchSwitch(n.Conditions, input); i >= 0 {
			return n.Targets[i], "", nil
		}
		return "", TerminatedNoMatch, nil

	case *ActionNode:
		for _, a := range n.Actions {
			ec.Set(a.DeviceID, a.ParameterID, CloneValue(a.Value))
			err := r.apply(ctx, chain.IntegrationID, a)
			r.metrics.ObserveDeviceUpdate(err)
			if err != nil {
				return "", "", &DeviceUpdateError{
					ChainID:     chain.ID,
					NodeID:      n.ID,
					DeviceID:    a.DeviceID,
					ParameterID: a.ParameterID,
					Err:         err,
				}
			}
			r.emitEvent("info", "device.updated", map[string]interface{}{
				"chain_id":       chain.ID,
				"node_id":        n.ID,
				"integration_id": chain.IntegrationID,
				"device_id":      a.DeviceID,
				"parameter_id":   a.ParameterID,
				"value":          a.Value,
			})
		}
		return "", TerminatedAction, nil
	}

	return "", "", &UnknownNodeTypeError{ChainID: chain.ID, NodeID: node.NodeID(), Type: string(node.Type())}
}

func (r *Runtime) evaluate(ctx context.Context, source string, input Value) (Value, error) {
	if r.scripts == nil {
		return nil, errors.New("no script evaluator configured")
	}
	start := time.Now()
	out, err := r.scripts.Evaluate(ctx, source, input)
	r.metrics.ObserveScript(time.Since(start))
	return out, err
}

func (r *Runtime) apply(ctx context.Context, integrationID string, a Action) error {
	if r.devices == nil {
		return nil
	}
	return r.devices.Apply(ctx, integrationID, a.DeviceID, a.ParameterID, a.Value)
}

func (r *Runtime) fail(chain *RuleChain, res *RunResult, err error) error {
	r.metrics.ObserveChainRun(metrics.OutcomeFailed)
	r.emitEvent("error", "chain.failed", map[string]interface{}{
		"chain_id": chain.ID,
		"visited":  len(res.Visited),
		"error":    err.Error(),
	})
	return err
}

func (r *Runtime) emitEvent(level, name string, fields map[string]interface{}) {
	events.Emit(level, name, "", fields)
}
