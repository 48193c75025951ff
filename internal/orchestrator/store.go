package orchestrator

import "context"

// ChainLister lists every persisted chain in a stable order.
type ChainLister interface {
	ListAll(ctx context.Context) ([]*RuleChain, error)
}

// ChainStore persists rule chains. GetByID and Delete return
// ErrChainNotFound for unknown ids. Create assigns an id when the chain has
// none and returns the stored chain.
type ChainStore interface {
	ChainLister
	GetByID(ctx context.Context, id string) (*RuleChain, error)
	Create(ctx context.Context, chain *RuleChain) (*RuleChain, error)
	Delete(ctx context.Context, id string) error
}

// DeleteMany deletes every id in order and stops at the first failure.
// It returns how many chains were deleted; ids[:n] stay deleted on error.
func DeleteMany(ctx context.Context, store ChainStore, ids []string) (int, error) {
	for i, id := range ids {
		if err := store.Delete(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}
