package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/RuleChain/internal/orchestrator"
)

func chain(t *testing.T, id string) *orchestrator.RuleChain {
	t.Helper()
	c, err := orchestrator.NewRuleChain(id, "chain "+id, "int-1",
		&orchestrator.SourceNode{ID: "s", DeviceID: "d1", ParameterID: "temp"},
	)
	require.NoError(t, err)
	return c
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s, err := New(chain(t, "b"), chain(t, "a"))
	require.NoError(t, err)

	created, err := s.Create(ctx, chain(t, "c"))
	require.NoError(t, err)
	assert.Equal(t, "c", created.ID)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, c := range all {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids, "insertion order is kept")

	got, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "chain a", got.Name)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.GetByID(ctx, "a")
	assert.True(t, errors.Is(err, orchestrator.ErrChainNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, "a"), orchestrator.ErrChainNotFound))
	assert.Equal(t, 2, s.Len())
}

func TestStoreCreateAssignsID(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	created, err := s.Create(context.Background(), chain(t, ""))
	require.NoError(t, err)
	_, err = uuid.Parse(created.ID)
	assert.NoError(t, err, "expected a UUID id, got %q", created.ID)
}

func TestStoreCreateRejects(t *testing.T) {
	ctx := context.Background()
	s, err := New(chain(t, "a"))
	require.NoError(t, err)

	_, err = s.Create(ctx, chain(t, "a"))
	assert.True(t, errors.Is(err, orchestrator.ErrChainExists))

	noSource, err := orchestrator.NewRuleChain("x", "", "", &orchestrator.ActionNode{ID: "a"})
	require.NoError(t, err)
	_, err = s.Create(ctx, noSource)
	assert.True(t, orchestrator.IsMalformed(err))

	_, err = New(chain(t, "dup"), chain(t, "dup"))
	assert.Error(t, err)
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	s, err := New(chain(t, "a"), chain(t, "b"), chain(t, "c"))
	require.NoError(t, err)

	n, err := orchestrator.DeleteMany(ctx, s, []string{"a", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, s.Len())

	n, err = orchestrator.DeleteMany(ctx, s, []string{"b", "missing", "a"})
	assert.True(t, errors.Is(err, orchestrator.ErrChainNotFound))
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, s.Len())
}
