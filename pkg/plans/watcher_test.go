package plans

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/subbill/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	store := NewMemoryStore()
	w, err := NewWatcher(path, store, observability.NopLogger())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	updated := strings.Replace(seedYAML, "monthly_price_cents: 999", "monthly_price_cents: 1099", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case <-w.Reloaded():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}

	p, err := store.GetPlanByID(context.Background(), "basic")
	require.NoError(t, err)
	assert.Equal(t, int64(1099), p.MonthlyPriceCents)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	w, err := NewWatcher(path, NewMemoryStore(), observability.NopLogger())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644))

	select {
	case <-w.Reloaded():
		t.Fatal("unexpected reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope", "plans.yaml"), NewMemoryStore(), observability.NopLogger())
	assert.Error(t, err)
}
