package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/AaronLay10/RuleChain/internal/orchestrator"
	"github.com/AaronLay10/RuleChain/internal/sandbox"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Devices  string
	Policy   string
	MaxSteps int
	Verbose  bool
}

// RunReport is the output of the run command.
type RunReport struct {
	OK      bool                        `json:"ok"`
	Runs    []orchestrator.RunSummary   `json:"runs"`
	Updates []orchestrator.DeviceUpdate `json:"updates"`
	Devices orchestrator.Devices        `json:"devices"`
	Error   string                      `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every chain once against a device table",
		Long: `Run every stored chain once, in store order, against one shared
device table. Device updates are recorded and printed instead of being
published.

Example:
  rulechain run --chains ./chains --devices devices.json
  rulechain run -c engine.yaml --policy continue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChains(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Devices, "devices", "", "device table JSON file")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "batch error policy (abort|continue), defaults to the config")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "node visits allowed per chain")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "print engine events to stderr")

	return cmd
}

func runChains(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	policyName := opts.Policy
	if policyName == "" {
		policyName = cfg.Batch.ErrorPolicy
	}
	policy, err := orchestrator.ParseErrorPolicy(policyName)
	if err != nil {
		return commandError("invalid policy", err)
	}

	maxSteps := opts.MaxSteps
	if maxSteps == 0 {
		maxSteps = cfg.Engine.MaxSteps
	}

	devicesPath := opts.Devices
	if devicesPath == "" {
		devicesPath = cfg.Engine.Devices
	}
	devices := orchestrator.Devices{}
	if devicesPath != "" {
		devices, err = orchestrator.LoadDevices(devicesPath)
		if err != nil {
			return commandError("failed to load devices", err)
		}
	}

	store, _, closeStore, err := openStore(ctx, opts.RootOptions, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Verbose {
		events.SetConsole(cmd.ErrOrStderr())
		defer events.SetConsole(nil)
	}

	recorder := &orchestrator.RecordingUpdater{}
	rt := orchestrator.NewRuntime(
		sandbox.New(cfg.SandboxConfig()),
		recorder,
		orchestrator.WithMaxSteps(maxSteps),
	)
	batch := orchestrator.NewBatchRunner(rt, store, policy)

	res, runErr := batch.RunAll(ctx, orchestrator.NewExecutionContext(devices))
	if res == nil {
		return commandError("batch failed", runErr)
	}

	report := buildReport(res, runErr, recorder.Updates())
	p := printer{format: opts.Format, w: cmd.OutOrStdout()}
	if err := p.print(report, func(w io.Writer) { printReport(w, report) }); err != nil {
		return err
	}

	if runErr != nil {
		return &ExitError{Code: ExitFailure, Message: "batch failed", Err: runErr}
	}
	return nil
}

func buildReport(res *orchestrator.BatchResult, runErr error, updates []orchestrator.DeviceUpdate) RunReport {
	report := RunReport{
		OK:      runErr == nil,
		Runs:    orchestrator.Summarize(res.Runs),
		Updates: updates,
		Devices: res.Context.Devices,
	}
	if report.Updates == nil {
		report.Updates = []orchestrator.DeviceUpdate{}
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}
	return report
}

func printReport(w io.Writer, report RunReport) {
	for _, run := range report.Runs {
		path := strings.Join(run.Visited, " -> ")
		if run.Error != "" {
			fmt.Fprintf(w, "✗ %s: %s (%s)\n", run.ChainID, run.Error, path)
			continue
		}
		fmt.Fprintf(w, "✓ %s: %s (%s)\n", run.ChainID, run.Terminal, path)
	}
	for _, u := range report.Updates {
		fmt.Fprintf(w, "  set %s.%s = %v\n", u.DeviceID, u.ParameterID, u.Value)
	}
	if len(report.Runs) == 0 {
		fmt.Fprintln(w, "no chains to run")
	}
}
