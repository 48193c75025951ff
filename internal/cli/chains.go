package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

var errReadOnly = errors.New("chains loaded from files are read-only; enable postgres to change them")

// NewChainsCommand creates the chains command group.
func NewChainsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chains",
		Short: "List, show, create and delete stored chains",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List stored chains in run order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, rootOpts, false, func(ctx context.Context, store orchestrator.ChainStore) error {
				chains, err := store.ListAll(ctx)
				if err != nil {
					return commandError("failed to list chains", err)
				}
				infos := make([]ChainInfo, 0, len(chains))
				for _, c := range chains {
					infos = append(infos, ChainInfo{ID: c.ID, Name: c.Name, IntegrationID: c.IntegrationID, Nodes: c.Len()})
				}
				return printer{format: rootOpts.Format, w: cmd.OutOrStdout()}.print(infos, func(w io.Writer) {
					for _, c := range infos {
						fmt.Fprintf(w, "%s\t%s\t%d nodes\n", c.ID, c.Name, c.Nodes)
					}
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "get <id>",
		Short:         "Print a chain in its JSON form",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, rootOpts, false, func(ctx context.Context, store orchestrator.ChainStore) error {
				chain, err := store.GetByID(ctx, args[0])
				if err != nil {
					return &ExitError{Code: ExitFailure, Message: "failed to get chain", Err: err}
				}
				// Chains are always printed as JSON; it is their only text form.
				return printer{format: "json", w: cmd.OutOrStdout()}.print(chain, nil)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "create <file>",
		Short:         "Store the chains of a JSON file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return commandError("failed to read chain file", err)
			}
			chains, err := orchestrator.ParseRuleChains(data)
			if err != nil {
				return &ExitError{Code: ExitFailure, Message: "invalid chain file", Err: err}
			}
			return withStore(cmd, rootOpts, true, func(ctx context.Context, store orchestrator.ChainStore) error {
				for _, c := range chains {
					created, err := store.Create(ctx, c)
					if err != nil {
						return &ExitError{Code: ExitFailure, Message: "failed to create chain", Err: err}
					}
					fmt.Fprintln(cmd.OutOrStdout(), created.ID)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "delete <id>...",
		Short:         "Delete chains, stopping at the first unknown id",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, rootOpts, true, func(ctx context.Context, store orchestrator.ChainStore) error {
				for _, id := range args {
					if err := store.Delete(ctx, id); err != nil {
						return &ExitError{Code: ExitFailure, Message: "failed to delete chain", Err: err}
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	})

	return cmd
}

func withStore(cmd *cobra.Command, opts *RootOptions, write bool, fn func(context.Context, orchestrator.ChainStore) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, persistent, closeStore, err := openStore(ctx, opts, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if write && !persistent {
		return commandError("cannot change chains", errReadOnly)
	}
	return fn(ctx, store)
}
