package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

// uniqueViolation is the Postgres error code for a duplicate key.
const uniqueViolation = "23505"

// ChainStore persists rule chains in the rule_chains table. The full chain
// is kept as JSONB in its wire form; name and integration_id are copied to
// columns for listing.
type ChainStore struct {
	db *sql.DB
}

// Chains returns a ChainStore sharing the client's connection.
func (c *Client) Chains() *ChainStore {
	return &ChainStore{db: c.db}
}

// ListAll returns every chain, oldest first. Chains created in the same
// instant are ordered by id.
func (s *ChainStore) ListAll(ctx context.Context) ([]*orchestrator.RuleChain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, definition
		FROM rule_chains
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule chains: %w", err)
	}
	defer rows.Close()

	var chains []*orchestrator.RuleChain
	for rows.Next() {
		var id string
		var definition []byte
		if err := rows.Scan(&id, &definition); err != nil {
			return nil, err
		}
		chain, err := decodeChain(id, definition)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}
	return chains, rows.Err()
}

// GetByID returns a single chain.
func (s *ChainStore) GetByID(ctx context.Context, id string) (*orchestrator.RuleChain, error) {
	var definition []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT definition FROM rule_chains WHERE id = $1
	`, id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrChainNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule chain: %w", err)
	}
	return decodeChain(id, definition)
}

// Create validates and inserts a chain. Chains without an id get a random
// UUID.
func (s *ChainStore) Create(ctx context.Context, chain *orchestrator.RuleChain) (*orchestrator.RuleChain, error) {
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	if chain.ID == "" {
		chain = chain.WithID(uuid.NewString())
	}

	definition, err := json.Marshal(chain)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule chain: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_chains (id, name, integration_id, definition)
		VALUES ($1, $2, $3, $4)
	`, chain.ID, chain.Name, chain.IntegrationID, definition)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", orchestrator.ErrChainExists, chain.ID)
		}
		return nil, fmt.Errorf("failed to insert rule chain: %w", err)
	}
	return chain, nil
}

// Delete removes a chain.
func (s *ChainStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rule_chains WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule chain: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", orchestrator.ErrChainNotFound, id)
	}
	return nil
}

// decodeChain parses a stored definition. The row id wins over the id in
// the document.
func decodeChain(id string, definition []byte) (*orchestrator.RuleChain, error) {
	var chain orchestrator.RuleChain
	if err := json.Unmarshal(definition, &chain); err != nil {
		return nil, fmt.Errorf("rule chain %s: %w", id, err)
	}
	if chain.ID != id {
		return chain.WithID(id), nil
	}
	return &chain, nil
}
