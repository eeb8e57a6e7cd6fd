package janitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	completedBefore time.Time
	failedBefore    time.Time
	pruned          int64
	err             error
	calls           int
}

func (f *fakePruner) PruneTerminal(_ context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	f.calls++
	f.completedBefore = completedBefore
	f.failedBefore = failedBefore
	return f.pruned, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPruneCutoffs(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pruner := &fakePruner{pruned: 3}

	j := New(pruner, Config{
		Interval:           time.Hour,
		CompletedRetention: 24 * time.Hour,
		FailedRetention:    7 * 24 * time.Hour,
	}, testLogger())
	j.now = func() time.Time { return now }

	j.prune(context.Background())

	require.Equal(t, 1, pruner.calls)
	assert.Equal(t, now.Add(-24*time.Hour), pruner.completedBefore)
	assert.Equal(t, now.Add(-7*24*time.Hour), pruner.failedBefore)
}

func TestPruneFailureIsIsolated(t *testing.T) {
	pruner := &fakePruner{err: errors.New("db down")}
	j := New(pruner, Config{}, testLogger())

	// Must not panic or propagate; the next tick simply retries.
	j.prune(context.Background())

	assert.Equal(t, 1, pruner.calls)
}

func TestNewDefaults(t *testing.T) {
	j := New(&fakePruner{}, Config{}, testLogger())

	assert.Equal(t, time.Hour, j.config.Interval)
	assert.Equal(t, 24*time.Hour, j.config.CompletedRetention)
	assert.Equal(t, 7*24*time.Hour, j.config.FailedRetention)
}
