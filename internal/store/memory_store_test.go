package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedStore() (*MemoryStore, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemoryStore(clk.Now), clk
}

func TestMemoryStoreSuite(t *testing.T) {
	suite{s: NewMemoryStore(nil)}.run(t)
}

func TestMemoryRateGateSlides(t *testing.T) {
	ctx := context.Background()
	m, clk := newClockedStore()
	u, err := m.InsertUser(ctx, "SHA256:a", "ed25519", "alice")
	require.NoError(t, err)
	room, err := EnsureRoom(ctx, m, "lobby", u.ID)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := m.InsertMessage(ctx, room.ID, u.ID, "hi", 10)
		require.NoError(t, err)
		clk.Advance(time.Second)
	}
	if _, err := m.InsertMessage(ctx, room.ID, u.ID, "eleventh", 10); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("11th InsertMessage() error = %v, want ErrRateLimited", err)
	}

	// The first message leaves the window one minute after it was written.
	clk.Advance(RateWindow - 10*time.Second + time.Millisecond)
	if _, err := m.InsertMessage(ctx, room.ID, u.ID, "later", 10); err != nil {
		t.Errorf("InsertMessage() after window error = %v, want nil", err)
	}
}

func TestMemoryListJoinedRoomsOrder(t *testing.T) {
	ctx := context.Background()
	m, clk := newClockedStore()
	u, err := m.InsertUser(ctx, "SHA256:a", "ed25519", "alice")
	require.NoError(t, err)

	var names []string
	for _, name := range []string{"lobby", "dev", "ops"} {
		r, err := EnsureRoom(ctx, m, name, u.ID)
		require.NoError(t, err)
		require.NoError(t, m.UpsertMembership(ctx, r.ID, u.ID))
		clk.Advance(time.Second)
	}
	// Rejoining moves a room to the front.
	lobby, err := m.RoomByName(ctx, "lobby")
	require.NoError(t, err)
	require.NoError(t, m.UpsertMembership(ctx, lobby.ID, u.ID))

	rooms, err := m.ListJoinedRooms(ctx, u.ID)
	require.NoError(t, err)
	for _, r := range rooms {
		names = append(names, r.Name)
	}
	require.Equal(t, []string{"lobby", "ops", "dev"}, names)
	if got := m.MembershipCount(lobby.ID, u.ID); got != 1 {
		t.Errorf("MembershipCount() = %d, want 1", got)
	}
}

func TestMemoryRenameAudit(t *testing.T) {
	ctx := context.Background()
	m, _ := newClockedStore()
	u, err := m.InsertUser(ctx, "SHA256:a", "ed25519", "alice")
	require.NoError(t, err)

	_, err = m.RenameUser(ctx, u.ID, "alicia")
	require.NoError(t, err)
	changes := m.NameChanges(u.ID)
	require.Len(t, changes, 1)
	if changes[0].OldHandle != "alice" || changes[0].NewHandle != "alicia" {
		t.Errorf("NameChanges() = %+v, want alice -> alicia", changes[0])
	}

	if _, err := m.RenameUser(ctx, u.ID+100, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RenameUser(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryMessagesSinceAndPrune(t *testing.T) {
	ctx := context.Background()
	m, clk := newClockedStore()
	u, err := m.InsertUser(ctx, "SHA256:a", "ed25519", "alice")
	require.NoError(t, err)
	room, err := EnsureRoom(ctx, m, "lobby", u.ID)
	require.NoError(t, err)

	start := clk.Now()
	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		_, err := m.InsertMessage(ctx, room.ID, u.ID, "m", 10)
		require.NoError(t, err)
	}

	refs, err := m.MessagesSince(ctx, start.Add(2*time.Minute), 100)
	require.NoError(t, err)
	if len(refs) != 3 {
		t.Fatalf("MessagesSince() len = %d, want 3", len(refs))
	}
	for i := 1; i < len(refs); i++ {
		if refs[i].CreatedAt.Before(refs[i-1].CreatedAt) {
			t.Errorf("MessagesSince() not ascending at %d", i)
		}
	}
	refs, err = m.MessagesSince(ctx, start, 2)
	require.NoError(t, err)
	if len(refs) != 2 {
		t.Errorf("MessagesSince() with limit len = %d, want 2", len(refs))
	}

	cutoff := start.Add(4*time.Minute + time.Second)
	n, err := m.DeleteMessagesOlderThan(ctx, cutoff, 3)
	require.NoError(t, err)
	if n != 3 {
		t.Errorf("first batch = %d, want 3", n)
	}
	n, err = m.DeleteMessagesOlderThan(ctx, cutoff, 3)
	require.NoError(t, err)
	if n != 1 {
		t.Errorf("second batch = %d, want 1", n)
	}
	views, err := m.RecentMessageViews(ctx, room.ID, 100)
	require.NoError(t, err)
	if len(views) != 1 {
		t.Errorf("remaining messages = %d, want 1", len(views))
	}
}

func TestMemorySubscription(t *testing.T) {
	ctx := context.Background()
	m, _ := newClockedStore()
	sub, err := m.Subscribe(ctx)
	require.NoError(t, err)
	if m.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", m.SubscriberCount())
	}

	u, err := m.InsertUser(ctx, "SHA256:a", "ed25519", "alice")
	require.NoError(t, err)
	room, err := EnsureRoom(ctx, m, "lobby", u.ID)
	require.NoError(t, err)
	msg, err := m.InsertMessage(ctx, room.ID, u.ID, "hi", 10)
	require.NoError(t, err)

	raw, err := sub.Receive(ctx)
	require.NoError(t, err)
	var got struct {
		Type   string `json:"type"`
		RoomID int64  `json:"room_id"`
		ID     int64  `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	if got.Type != "msg" || got.RoomID != room.ID || got.ID != msg.ID {
		t.Errorf("notification = %+v, want msg %d in room %d", got, msg.ID, room.ID)
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	if m.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() after Close = %d, want 0", m.SubscriberCount())
	}
	if _, err := sub.Receive(ctx); err == nil {
		t.Error("Receive() after Close should fail")
	}
}
