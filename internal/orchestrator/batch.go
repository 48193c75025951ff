package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/AaronLay10/RuleChain/internal/metrics"
)

// ErrorPolicy selects what a batch does when one chain fails.
type ErrorPolicy string

const (
	// AbortOnError stops the batch at the first failing chain.
	AbortOnError ErrorPolicy = "abort"
	// ContinueOnError records the failure and runs the remaining chains.
	ContinueOnError ErrorPolicy = "continue"
)

// ParseErrorPolicy maps a configuration string to an ErrorPolicy. The empty
// string selects AbortOnError.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(s) {
	case "", AbortOnError:
		return AbortOnError, nil
	case ContinueOnError:
		return ContinueOnError, nil
	}
	return "", fmt.Errorf("unknown batch error policy %q", s)
}

// ChainRun is the outcome of one chain within a batch.
type ChainRun struct {
	ChainID string
	Result  *RunResult
	Err     error
}

// RunSummary is the JSON view of one ChainRun.
type RunSummary struct {
	ChainID      string   `json:"chain_id"`
	Terminal     string   `json:"terminal,omitempty"`
	Visited      []string `json:"visited"`
	Intermediate Value    `json:"intermediate,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Summarize converts runs to summaries. Visited is never nil.
func Summarize(runs []ChainRun) []RunSummary {
	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		sum := RunSummary{ChainID: run.ChainID, Visited: []string{}}
		if run.Result != nil {
			sum.Terminal = string(run.Result.Terminal)
			sum.Intermediate = run.Result.Intermediate
			if run.Result.Visited != nil {
				sum.Visited = run.Result.Visited
			}
		}
		if run.Err != nil {
			sum.Error = run.Err.Error()
		}
		out = append(out, sum)
	}
	return out
}

// BatchResult holds the shared context after the batch and one entry per
// chain that was started.
type BatchResult struct {
	Context *ExecutionContext
	Runs    []ChainRun
}

// Failed returns the runs that ended with an error.
func (b *BatchResult) Failed() []ChainRun {
	var out []ChainRun
	for _, r := range b.Runs {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// BatchRunner runs every chain against one shared ExecutionContext, in the
// order the lister returns them. Device changes made by a chain are visible
// to the chains after it.
type BatchRunner struct {
	runtime *Runtime
	chains  ChainLister
	policy  ErrorPolicy
	metrics *metrics.Metrics
}

// NewBatchRunner creates a batch runner. An empty policy means AbortOnError.
func NewBatchRunner(rt *Runtime, chains ChainLister, policy ErrorPolicy) *BatchRunner {
	if policy == "" {
		policy = AbortOnError
	}
	return &BatchRunner{
		runtime: rt,
		chains:  chains,
		policy:  policy,
		metrics: rt.metrics,
	}
}

// RunAll lists the persisted chains and runs them.
func (b *BatchRunner) RunAll(ctx context.Context, ec *ExecutionContext) (*BatchResult, error) {
	if b.chains == nil {
		return nil, errors.New("batch runner has no chain lister")
	}
	chains, err := b.chains.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule chains: %w", err)
	}
	return b.RunChains(ctx, chains, ec)
}

// RunChains runs the given chains in order against ec.
func (b *BatchRunner) RunChains(ctx context.Context, chains []*RuleChain, ec *ExecutionContext) (*BatchResult, error) {
	if ec == nil {
		ec = NewExecutionContext(nil)
	}
	start := time.Now()
	defer func() { b.metrics.ObserveBatch(time.Since(start)) }()

	events.Emit("info", "batch.started", "", map[string]interface{}{
		"chains": len(chains),
		"policy": string(b.policy),
	})

	result := &BatchResult{Context: ec, Runs: make([]ChainRun, 0, len(chains))}
	var errs []error

	for _, chain := range chains {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := b.runtime.Run(ctx, chain, ec)
		result.Runs = append(result.Runs, ChainRun{ChainID: chain.ID, Result: res, Err: err})
		if err == nil {
			continue
		}
		errs = append(errs, err)
		if b.policy == AbortOnError {
			break
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		events.Emit("error", "batch.failed", "", map[string]interface{}{
			"chains": len(result.Runs),
			"failed": len(errs),
			"error":  err.Error(),
		})
		if len(errs) == 1 {
			return result, errs[0]
		}
		return result, err
	}

	events.Emit("info", "batch.completed", "", map[string]interface{}{
		"chains": len(result.Runs),
	})
	return result, nil
}
