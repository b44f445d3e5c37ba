package optstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
engines:
  - id: yaneuraou
    name: YaneuraOu
    display_name: YaneuraOu NNUE
    path: bin/yaneuraou
    options:
      USI_Hash: "256"
      Threads: "2"
  - id: gikou
    name: Gikou
    path: /opt/gikou/gikou
    enabled: false
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog), "/srv/engines")
	require.NoError(t, err)

	engines := c.Engines()
	require.Len(t, engines, 2)
	assert.Equal(t, "gikou", engines[0].ID)
	assert.False(t, engines[0].IsEnabled())
	assert.Equal(t, "/opt/gikou/gikou", engines[0].Path)
	assert.Equal(t, "Gikou", engines[0].Label())

	yane, ok := c.Engine("yaneuraou")
	require.True(t, ok)
	assert.True(t, yane.IsEnabled())
	assert.Equal(t, filepath.Join("/srv/engines", "bin/yaneuraou"), yane.Path)
	assert.Equal(t, "YaneuraOu NNUE", yane.Label())

	opts, ok, err := c.EngineOptions(context.Background(), "yaneuraou")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"USI_Hash": "256", "Threads": "2"}, opts)

	_, ok, err = c.EngineOptions(context.Background(), "gikou")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseCatalogRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"missing id":   "engines:\n  - path: /x\n",
		"missing path": "engines:\n  - id: a\n",
		"duplicate":    "engines:\n  - id: a\n    path: /x\n  - id: a\n    path: /y\n",
		"bad yaml":     "engines: [",
	} {
		_, err := ParseCatalog([]byte(doc), "")
		assert.Error(t, err, name)
	}
}

func TestCatalogSaveRewritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.SaveEngineOptions(ctx, "gikou", map[string]string{"USI_Ponder": "false"}))
	assert.ErrorIs(t, c.SaveEngineOptions(ctx, "missing", nil), ErrUnknownEngine)

	reloaded, err := LoadCatalog(path)
	require.NoError(t, err)
	opts, ok, err := reloaded.EngineOptions(ctx, "gikou")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "false", opts["USI_Ponder"])
}

func TestMemoryStoreCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	in := map[string]string{"A": "1"}
	require.NoError(t, m.SaveEngineOptions(ctx, "e", in))
	in["A"] = "changed"

	out, ok, err := m.EngineOptions(ctx, "e")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", out["A"])

	_, ok, _ = m.EngineOptions(ctx, "other")
	assert.False(t, ok)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewRedisStore(rdb, "")
	ctx := context.Background()

	_, ok, err := s.EngineOptions(ctx, "yane")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveEngineOptions(ctx, "yane", map[string]string{"USI_Hash": "128", "Threads": "4"}))
	assert.Equal(t, "128", mr.HGet("usi:engine:yane:options", "USI_Hash"))

	require.NoError(t, s.SaveEngineOptions(ctx, "yane", map[string]string{"Threads": "8"}))
	opts, ok, err := s.EngineOptions(ctx, "yane")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"Threads": "8"}, opts)
}

func TestRedisStoreError(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()

	_, _, err := NewRedisStore(rdb, "x:").EngineOptions(context.Background(), "yane")
	assert.Error(t, err)
}

func TestChainPrefersFirstHit(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	cat, err := ParseCatalog([]byte(sampleCatalog), "")
	require.NoError(t, err)
	r := NewRedisStore(rdb, "")
	chain := Chain{r, cat}

	opts, ok, err := chain.EngineOptions(ctx, "yaneuraou")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "256", opts["USI_Hash"])

	require.NoError(t, chain.SaveEngineOptions(ctx, "yaneuraou", map[string]string{"USI_Hash": "1024"}))
	opts, _, err = chain.EngineOptions(ctx, "yaneuraou")
	require.NoError(t, err)
	assert.Equal(t, "1024", opts["USI_Hash"])

	_, ok, err = chain.EngineOptions(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}
