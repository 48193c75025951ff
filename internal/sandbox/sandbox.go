// Package sandbox evaluates untrusted rule scripts.
//
// A script is JavaScript source that defines a global function
// executeScript(input). Every evaluation gets a fresh interpreter with only
// the ECMAScript built-ins installed: no require, no console, no host
// objects. State left behind by one evaluation is never seen by the next.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	rtmetrics "runtime/metrics"
	"sort"
	"time"

	"github.com/dop251/goja"
)

// EntryPoint is the function every script must define.
const EntryPoint = "executeScript"

const (
	DefaultTimeout          = 2 * time.Second
	DefaultMaxCallStackSize = 1024
	DefaultMaxMemory        = 128 << 20
)

const (
	// Results nested deeper than this, or larger than this many values,
	// are rejected.
	maxOutputDepth = 100
	maxOutputNodes = 100000

	memoryPollInterval = 2 * time.Millisecond
	heapObjectsMetric  = "/memory/classes/heap/objects:bytes"
)

var (
	// ErrTimeout is the cause of KindTimeout errors.
	ErrTimeout = errors.New("script timed out")
	// ErrMemoryLimit is the cause of KindMemoryLimit errors.
	ErrMemoryLimit = errors.New("script exceeded its memory budget")
)

// Kind classifies evaluation failures.
type Kind string

const (
	KindSyntax            Kind = "syntax"
	KindMissingEntryPoint Kind = "missing_entry_point"
	KindThrown            Kind = "thrown"
	KindTimeout           Kind = "timeout"
	KindMemoryLimit       Kind = "memory_limit"
	KindCancelled         Kind = "cancelled"
	KindStackOverflow     Kind = "stack_overflow"
	KindInvalidInput      Kind = "invalid_input"
	KindInvalidOutput     Kind = "invalid_output"
	KindInternal          Kind = "internal"
)

// Error is returned for every failed evaluation.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("script %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err if it is or wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// Config bounds a single evaluation. Zero values select the defaults.
//
// MaxMemory is the heap growth in bytes allowed while a script runs. It is
// measured on the whole process, so it only holds per script when
// evaluations do not overlap, as in the engine's single worker. A negative
// value disables the check.
type Config struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxCallStackSize int           `yaml:"max_call_stack"`
	MaxMemory        int64         `yaml:"max_memory"`
}

// Sandbox evaluates scripts. It is safe for concurrent use; each call
// builds its own interpreter.
type Sandbox struct {
	timeout      time.Duration
	maxCallStack int
	maxMemory    int64
}

// New creates a sandbox.
func New(cfg Config) *Sandbox {
	s := &Sandbox{
		timeout:      cfg.Timeout,
		maxCallStack: cfg.MaxCallStackSize,
		maxMemory:    cfg.MaxMemory,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.maxCallStack <= 0 {
		s.maxCallStack = DefaultMaxCallStackSize
	}
	if s.maxMemory == 0 {
		s.maxMemory = DefaultMaxMemory
	}
	return s
}

// Timeout returns the wall clock limit of one evaluation.
func (s *Sandbox) Timeout() time.Duration {
	return s.timeout
}

type interruptReason struct {
	err error
}

// Evaluate runs source, calls executeScript(input) and returns the result
// converted to plain Go values: nil, bool, string, int64, float64,
// []interface{} and map[string]interface{}. undefined becomes nil.
func (s *Sandbox) Evaluate(ctx context.Context, source string, input interface{}) (out interface{}, err error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindCancelled, Err: err}
	}

	prog, err := goja.Compile("rule-script", source, false)
	if err != nil {
		return nil, &Error{Kind: KindSyntax, Err: err}
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(s.maxCallStack)

	timer := time.AfterFunc(s.timeout, func() {
		vm.Interrupt(interruptReason{err: ErrTimeout})
	})
	defer timer.Stop()

	stop := make(chan struct{})
	defer close(stop)
	go s.watch(ctx, vm, heapInUse(), stop)

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &Error{Kind: KindInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if _, err := vm.RunProgram(prog); err != nil {
		return nil, classify(err)
	}

	fn, ok := goja.AssertFunction(vm.Get(EntryPoint))
	if !ok {
		return nil, &Error{Kind: KindMissingEntryPoint, Err: fmt.Errorf("%s is not defined as a function", EntryPoint)}
	}

	arg, err := toJS(vm, input)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Err: err}
	}

	res, err := fn(goja.Undefined(), arg)
	if err != nil {
		return nil, classify(err)
	}

	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, nil
	}
	out, err = (&normalizer{path: make(map[uintptr]bool)}).normalize(res.Export(), 0)
	if err != nil {
		return nil, &Error{Kind: KindInvalidOutput, Err: err}
	}
	return out, nil
}

func classify(err error) *Error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if reason, ok := ie.Value().(interruptReason); ok {
			switch {
			case errors.Is(reason.err, ErrTimeout):
				return &Error{Kind: KindTimeout, Err: ErrTimeout}
			case errors.Is(reason.err, ErrMemoryLimit):
				return &Error{Kind: KindMemoryLimit, Err: ErrMemoryLimit}
			}
			return &Error{Kind: KindCancelled, Err: reason.err}
		}
		return &Error{Kind: KindCancelled, Err: err}
	}

	var so *goja.StackOverflowError
	if errors.As(err, &so) {
		return &Error{Kind: KindStackOverflow, Err: err}
	}

	return &Error{Kind: KindThrown, Err: err}
}

// toJS builds native JS values from a Go value so that the script works
// on its own copy of the input.
func toJS(vm *goja.Runtime, v interface{}) (goja.Value, error) {
	switch x := v.(type) {
	case nil:
		return goja.Null(), nil
	case bool, string, int, int32, int64, float32, float64:
		return vm.ToValue(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return vm.ToValue(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return vm.ToValue(f), nil
	case []interface{}:
		items := make([]interface{}, len(x))
		for i, e := range x {
			jv, err := toJS(vm, e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = jv
		}
		return vm.NewArray(items...), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		obj := vm.NewObject()
		for _, k := range keys {
			jv, err := toJS(vm, x[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			if err := obj.Set(k, jv); err != nil {
				return nil, err
			}
		}
		return obj, nil
	}
	return nil, fmt.Errorf("unsupported input type %T", v)
}

// watch interrupts vm when ctx is done or the heap has grown by more than
// the memory budget since base was sampled.
func (s *Sandbox) watch(ctx context.Context, vm *goja.Runtime, base uint64, stop <-chan struct{}) {
	var poll <-chan time.Time
	if s.maxMemory > 0 {
		ticker := time.NewTicker(memoryPollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			vm.Interrupt(interruptReason{err: ctx.Err()})
			return
		case <-poll:
			if cur := heapInUse(); cur > base && cur-base > uint64(s.maxMemory) {
				vm.Interrupt(interruptReason{err: ErrMemoryLimit})
				return
			}
		}
	}
}

func heapInUse() uint64 {
	sample := []rtmetrics.Sample{{Name: heapObjectsMetric}}
	rtmetrics.Read(sample)
	if sample[0].Value.Kind() != rtmetrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// normalizer checks an exported value and rebuilds containers so nothing
// returned references interpreter memory. Exported objects may reference
// themselves; path holds the containers being walked.
type normalizer struct {
	path  map[uintptr]bool
	nodes int
}

func (n *normalizer) normalize(v interface{}, depth int) (interface{}, error) {
	n.nodes++
	if n.nodes > maxOutputNodes {
		return nil, fmt.Errorf("result has more than %d values", maxOutputNodes)
	}

	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case int64:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("non-finite number %v", x)
		}
		return x, nil
	case []interface{}, map[string]interface{}:
		if depth >= maxOutputDepth {
			return nil, fmt.Errorf("result nested deeper than %d", maxOutputDepth)
		}
		ptr := reflect.ValueOf(x).Pointer()
		if ptr != 0 {
			if n.path[ptr] {
				return nil, errors.New("result contains a cycle")
			}
			n.path[ptr] = true
			defer delete(n.path, ptr)
		}
	}

	switch x := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			c, err := n.normalize(e, depth+1)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			c, err := n.normalize(e, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = c
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported result type %T", v)
}
