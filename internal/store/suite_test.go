package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// suite runs the behaviour every Store must share. tag keeps names unique when
// the backing database outlives the test.
type suite struct {
	s   Store
	tag string
}

func (st suite) name(base string) string {
	if st.tag == "" {
		return base
	}
	return base + "-" + st.tag
}

func (st suite) run(t *testing.T) {
	t.Run("users", st.testUsers)
	t.Run("rename", st.testRename)
	t.Run("rooms", st.testRooms)
	t.Run("membership", st.testMembership)
	t.Run("messages", st.testMessages)
	t.Run("ensure room race", st.testEnsureRoomRace)
}

func (st suite) testUsers(t *testing.T) {
	ctx := context.Background()
	fp := "SHA256:" + st.name("users")

	_, err := st.s.UserByFingerprint(ctx, fp)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("UserByFingerprint() error = %v, want ErrNotFound", err)
	}

	u, err := st.s.InsertUser(ctx, fp, "ed25519", st.name("ann"))
	require.NoError(t, err)
	require.NotZero(t, u.ID)

	got, err := st.s.UserByFingerprint(ctx, fp)
	require.NoError(t, err)
	if got.ID != u.ID || got.Handle != u.Handle {
		t.Errorf("UserByFingerprint() = %+v, want %+v", got, u)
	}

	_, err = st.s.InsertUser(ctx, fp, "ed25519", st.name("ann2"))
	if !IsConflict(err, FieldFingerprint) {
		t.Errorf("duplicate fingerprint error = %v, want fingerprint conflict", err)
	}
	_, err = st.s.InsertUser(ctx, fp+"x", "ed25519", st.name("ann"))
	if !IsConflict(err, FieldHandle) {
		t.Errorf("duplicate handle error = %v, want handle conflict", err)
	}

	require.NoError(t, st.s.TouchLastSeen(ctx, u.ID))
}

func (st suite) testRename(t *testing.T) {
	ctx := context.Background()
	a, err := st.s.InsertUser(ctx, "SHA256:"+st.name("ren-a"), "ed25519", st.name("rena"))
	require.NoError(t, err)
	b, err := st.s.InsertUser(ctx, "SHA256:"+st.name("ren-b"), "ed25519", st.name("renb"))
	require.NoError(t, err)

	got, err := st.s.RenameUser(ctx, a.ID, st.name("renc"))
	require.NoError(t, err)
	if got.Handle != st.name("renc") {
		t.Errorf("RenameUser() handle = %q, want %q", got.Handle, st.name("renc"))
	}

	_, err = st.s.RenameUser(ctx, a.ID, b.Handle)
	if !IsConflict(err, FieldHandle) {
		t.Errorf("rename to taken handle error = %v, want handle conflict", err)
	}
}

func (st suite) testRooms(t *testing.T) {
	ctx := context.Background()
	owner, err := st.s.InsertUser(ctx, "SHA256:"+st.name("owner"), "ed25519", st.name("owner"))
	require.NoError(t, err)
	other, err := st.s.InsertUser(ctx, "SHA256:"+st.name("other"), "ed25519", st.name("other"))
	require.NoError(t, err)
	name := st.name("temp")

	room, err := EnsureRoom(ctx, st.s, name, owner.ID)
	require.NoError(t, err)
	again, err := EnsureRoom(ctx, st.s, name, other.ID)
	require.NoError(t, err)
	if again.ID != room.ID || again.CreatedBy != owner.ID {
		t.Errorf("EnsureRoom() = %+v, want existing room %d by %d", again, room.ID, owner.ID)
	}

	_, err = st.s.InsertRoom(ctx, name, other.ID)
	if !IsConflict(err, FieldRoomName) {
		t.Errorf("duplicate live room error = %v, want room name conflict", err)
	}

	ok, err := st.s.SoftDeleteRoom(ctx, name, other.ID)
	require.NoError(t, err)
	if ok {
		t.Error("non-creator should not delete the room")
	}
	ok, err = st.s.SoftDeleteRoom(ctx, name, owner.ID)
	require.NoError(t, err)
	if !ok {
		t.Fatal("creator should delete the room")
	}
	ok, err = st.s.SoftDeleteRoom(ctx, name, owner.ID)
	require.NoError(t, err)
	if ok {
		t.Error("second delete should report false")
	}

	deleted, err := st.s.RoomByName(ctx, name)
	require.NoError(t, err)
	if !deleted.IsDeleted {
		t.Error("RoomByName() should return the deleted room")
	}
	_, err = EnsureRoom(ctx, st.s, name, owner.ID)
	if !errors.Is(err, ErrRoomDeleted) {
		t.Errorf("EnsureRoom() on deleted room error = %v, want ErrRoomDeleted", err)
	}
	if err := st.s.UpsertMembership(ctx, room.ID, other.ID); !errors.Is(err, ErrRoomDeleted) {
		t.Errorf("UpsertMembership() on deleted room error = %v, want ErrRoomDeleted", err)
	}

	// The name is free again for an explicit insert.
	reborn, err := st.s.InsertRoom(ctx, name, other.ID)
	require.NoError(t, err)
	if reborn.ID == room.ID {
		t.Error("reused name should get a new room id")
	}
	live, err := st.s.RoomByName(ctx, name)
	require.NoError(t, err)
	if live.ID != reborn.ID || live.IsDeleted {
		t.Errorf("RoomByName() = %+v, want live room %d", live, reborn.ID)
	}
}

func (st suite) testMembership(t *testing.T) {
	ctx := context.Background()
	u, err := st.s.InsertUser(ctx, "SHA256:"+st.name("member"), "ed25519", st.name("member"))
	require.NoError(t, err)
	room, err := EnsureRoom(ctx, st.s, st.name("club"), u.ID)
	require.NoError(t, err)

	require.NoError(t, st.s.UpsertMembership(ctx, room.ID, u.ID))
	require.NoError(t, st.s.UpsertMembership(ctx, room.ID, u.ID))

	rooms, err := st.s.ListJoinedRooms(ctx, u.ID)
	require.NoError(t, err)
	if len(rooms) != 1 || rooms[0].ID != room.ID {
		t.Errorf("ListJoinedRooms() = %+v, want only room %d", rooms, room.ID)
	}

	members, err := st.s.ListRecentMembers(ctx, room.ID, 20)
	require.NoError(t, err)
	if len(members) != 1 || members[0].Handle != u.Handle {
		t.Errorf("ListRecentMembers() = %+v, want [%s]", members, u.Handle)
	}

	ok, err := st.s.DeleteMembership(ctx, room.ID, u.ID)
	require.NoError(t, err)
	if !ok {
		t.Error("DeleteMembership() = false, want true")
	}
	ok, err = st.s.DeleteMembership(ctx, room.ID, u.ID)
	require.NoError(t, err)
	if ok {
		t.Error("second DeleteMembership() = true, want false")
	}
}

func (st suite) testMessages(t *testing.T) {
	ctx := context.Background()
	u, err := st.s.InsertUser(ctx, "SHA256:"+st.name("talker"), "ed25519", st.name("talker"))
	require.NoError(t, err)
	room, err := EnsureRoom(ctx, st.s, st.name("chat"), u.ID)
	require.NoError(t, err)

	var ids []int64
	for _, body := range []string{"one", "two", "three"} {
		msg, err := st.s.InsertMessage(ctx, room.ID, u.ID, body, 3)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}
	_, err = st.s.InsertMessage(ctx, room.ID, u.ID, "four", 3)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("fourth InsertMessage() error = %v, want ErrRateLimited", err)
	}

	v, err := st.s.MessageView(ctx, ids[1])
	require.NoError(t, err)
	if v.Body != "two" || v.Handle != u.Handle || v.RoomID != room.ID {
		t.Errorf("MessageView() = %+v", v)
	}
	if _, err := st.s.MessageView(ctx, ids[2]+1_000_000); !errors.Is(err, ErrNotFound) {
		t.Errorf("MessageView(missing) error = %v, want ErrNotFound", err)
	}

	recent, err := st.s.RecentMessageViews(ctx, room.ID, 2)
	require.NoError(t, err)
	var bodies []string
	for _, r := range recent {
		bodies = append(bodies, r.Body)
	}
	require.Equal(t, []string{"two", "three"}, bodies)
}

func (st suite) testEnsureRoomRace(t *testing.T) {
	ctx := context.Background()
	u, err := st.s.InsertUser(ctx, "SHA256:"+st.name("racer"), "ed25519", st.name("racer"))
	require.NoError(t, err)
	name := st.name("race")

	const n = 8
	ids := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := EnsureRoom(ctx, st.s, name, u.ID)
			ids[i], errs[i] = r.ID, err
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if ids[i] != ids[0] {
			t.Errorf("EnsureRoom() id[%d] = %d, want %d", i, ids[i], ids[0])
		}
	}
}
