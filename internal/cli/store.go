package cli

import (
	"context"

	"github.com/AaronLay10/RuleChain/internal/config"
	"github.com/AaronLay10/RuleChain/internal/orchestrator"
	"github.com/AaronLay10/RuleChain/internal/storage"
)

func loadConfig(opts *RootOptions) (*config.EngineConfig, error) {
	if opts.Config == "" {
		cfg := config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, commandError("invalid environment", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadEngineConfig(opts.Config)
	if err != nil {
		return nil, commandError("failed to load config", err)
	}
	return cfg, nil
}

// openStore returns the store selected by the flags. --chains loads a
// read-only snapshot into memory; otherwise the configured store is
// opened. The returned func releases it.
func openStore(ctx context.Context, opts *RootOptions, cfg *config.EngineConfig) (orchestrator.ChainStore, bool, func(), error) {
	if opts.Chains != "" {
		mem, err := storage.OpenDir(opts.Chains)
		if err != nil {
			return nil, false, nil, commandError("failed to load chains", err)
		}
		return mem, false, func() {}, nil
	}

	s, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, false, nil, commandError("failed to open chain store", err)
	}
	return s.Chains, s.Postgres != nil, func() { s.Close() }, nil
}
