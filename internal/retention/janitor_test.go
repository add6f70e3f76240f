package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"bbs/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func seed(t *testing.T, mem *store.MemoryStore, clk *clock, n int) {
	t.Helper()
	ctx := context.Background()
	u, err := mem.InsertUser(ctx, "SHA256:seed", "ed25519", "seeder")
	require.NoError(t, err)
	room, err := store.EnsureRoom(ctx, mem, "lobby", u.ID)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := mem.InsertMessage(ctx, room.ID, u.ID, "old", 10)
		require.NoError(t, err)
		clk.t = clk.t.Add(time.Minute)
	}
}

func TestPruneOnceBatches(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryStore(clk.Now)
	seed(t, mem, clk, 7)

	j := NewJanitor(mem, 24*time.Hour)
	j.batch = 3
	j.now = func() time.Time { return clk.t.Add(48 * time.Hour) }

	n, err := j.PruneOnce(context.Background())
	require.NoError(t, err)
	if n != 7 {
		t.Errorf("PruneOnce() = %d, want 7", n)
	}

	n, err = j.PruneOnce(context.Background())
	require.NoError(t, err)
	if n != 0 {
		t.Errorf("second PruneOnce() = %d, want 0", n)
	}
}

func TestPruneOnceKeepsRecent(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryStore(clk.Now)
	seed(t, mem, clk, 5)

	j := NewJanitor(mem, 3*time.Minute)
	j.now = clk.Now

	// Messages sit at minutes 0..4 and the clock is at minute 5.
	n, err := j.PruneOnce(context.Background())
	require.NoError(t, err)
	if n != 2 {
		t.Errorf("PruneOnce() = %d, want 2", n)
	}
}

type failingStore struct{ store.Store }

func (failingStore) DeleteMessagesOlderThan(context.Context, time.Time, int) (int64, error) {
	return 0, errors.New("db down")
}

func TestPruneOnceError(t *testing.T) {
	j := NewJanitor(failingStore{}, time.Hour)
	_, err := j.PruneOnce(context.Background())
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	mem := store.NewMemoryStore(time.Now)
	j := NewJanitor(mem, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx, 10*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
