package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/RuleChain/internal/config"
	"github.com/AaronLay10/RuleChain/internal/storage/cache"
)

func TestOpenMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Chains = "testdata"
	cfg.Cache.Backend = cache.BackendMemory

	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Postgres)
	assert.IsType(t, &cache.CachedStore{}, s.Chains)

	chains, err := s.Chains.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, "fan-control", chains[0].ID)
	assert.Equal(t, "2", chains[1].ID)
}

func TestOpenWithoutChains(t *testing.T) {
	s, err := Open(context.Background(), config.Default())
	require.NoError(t, err)
	defer s.Close()

	chains, err := s.Chains.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chains)
}

func TestOpenErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Chains = "testdata/missing"
	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Cache.Backend = "memcached"
	_, err = Open(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown cache backend")
}

func TestOpenDirRejectsDuplicateIDs(t *testing.T) {
	_, err := OpenDir("testdata/01-fan-control.json")
	require.NoError(t, err)

	dir := t.TempDir()
	data := `{"id": "dup", "nodes": [{"id": "s", "type": "source_node", "config": {"device_id": "d", "parameter_id": "p"}}]}`
	writeFile(t, dir, "a.json", data)
	writeFile(t, dir, "b.json", data)

	_, err = OpenDir(dir)
	assert.Error(t, err)
}
