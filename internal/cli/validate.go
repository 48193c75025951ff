package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

// ChainInfo describes one valid chain.
type ChainInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	IntegrationID string `json:"integration_id,omitempty"`
	Nodes         int    `json:"nodes"`
}

// ValidationResult is the output of the validate command.
type ValidationResult struct {
	Valid  bool        `json:"valid"`
	Chains []ChainInfo `json:"chains,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Check chain files without running them",
		Long: `Decode every chain of a file or directory and check its structure:
known node types, a single source node, unique node and chain ids, and one
switch target per condition.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	p := printer{format: opts.Format, w: cmd.OutOrStdout()}

	result := ValidationResult{Valid: true}
	chains, err := orchestrator.LoadRuleChains(path)
	if err == nil {
		err = checkUniqueIDs(chains)
	}
	if err != nil {
		result.Valid = false
		result.Error = err.Error()
	}
	for _, c := range chains {
		result.Chains = append(result.Chains, ChainInfo{ID: c.ID, Name: c.Name, IntegrationID: c.IntegrationID, Nodes: c.Len()})
	}

	if perr := p.print(result, func(w io.Writer) {
		if !result.Valid {
			fmt.Fprintf(w, "✗ %s\n", result.Error)
			return
		}
		for _, c := range result.Chains {
			fmt.Fprintf(w, "✓ %s (%d nodes)\n", c.ID, c.Nodes)
		}
		fmt.Fprintf(w, "%d chain(s) valid\n", len(result.Chains))
	}); perr != nil {
		return perr
	}

	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "validation failed", Err: err}
	}
	return nil
}

func checkUniqueIDs(chains []*orchestrator.RuleChain) error {
	seen := make(map[string]bool, len(chains))
	for _, c := range chains {
		if c.ID == "" {
			continue
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: %s", orchestrator.ErrChainExists, c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}
