package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"bbs/internal/models"
)

type memberKey struct {
	roomID int64
	userID int64
}

// MemoryStore 在进程内实现 Store，语义与 GormStore 保持一致，用于测试和离线运行。
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	nextID      int64
	users       map[int64]models.User
	rooms       []models.Room
	members     map[memberKey]time.Time
	messages    []models.Message
	nameChanges []models.NameChange
	subs        map[*MemorySubscription]struct{}
}

// NewMemoryStore 创建空的内存存储。now 为 nil 时使用 time.Now。
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:     now,
		users:   make(map[int64]models.User),
		members: make(map[memberKey]time.Time),
		subs:    make(map[*MemorySubscription]struct{}),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) UserByFingerprint(_ context.Context, fingerprint string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Fingerprint == fingerprint {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (m *MemoryStore) InsertUser(_ context.Context, fingerprint, keyType, handle string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Fingerprint == fingerprint {
			return models.User{}, &ConflictError{Field: FieldFingerprint}
		}
		if u.Handle == handle {
			return models.User{}, &ConflictError{Field: FieldHandle}
		}
	}
	now := m.now().UTC()
	u := models.User{ID: m.id(), Fingerprint: fingerprint, KeyType: keyType, Handle: handle, CreatedAt: now, LastSeenAt: now}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) TouchLastSeen(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.LastSeenAt = m.now().UTC()
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) RenameUser(_ context.Context, userID int64, newHandle string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return models.User{}, ErrNotFound
	}
	for id, other := range m.users {
		if id != userID && other.Handle == newHandle {
			return models.User{}, &ConflictError{Field: FieldHandle}
		}
	}
	m.nameChanges = append(m.nameChanges, models.NameChange{
		ID:        m.id(),
		UserID:    userID,
		OldHandle: u.Handle,
		NewHandle: newHandle,
		CreatedAt: m.now().UTC(),
	})
	u.Handle = newHandle
	m.users[userID] = u
	return u, nil
}

// NameChanges 返回某用户的改名审计记录。
func (m *MemoryStore) NameChanges(userID int64) []models.NameChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.NameChange
	for _, nc := range m.nameChanges {
		if nc.UserID == userID {
			out = append(out, nc)
		}
	}
	return out
}

func (m *MemoryStore) RoomByName(_ context.Context, name string) (models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.Room
	for i := range m.rooms {
		r := &m.rooms[i]
		if r.Name != name {
			continue
		}
		if !r.IsDeleted {
			return *r, nil
		}
		if found == nil || r.ID > found.ID {
			found = r
		}
	}
	if found == nil {
		return models.Room{}, ErrNotFound
	}
	return *found, nil
}

func (m *MemoryStore) InsertRoom(_ context.Context, name string, creatorID int64) (models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.Name == name && !r.IsDeleted {
			return models.Room{}, &ConflictError{Field: FieldRoomName}
		}
	}
	r := models.Room{ID: m.id(), Name: name, CreatedBy: creatorID, CreatedAt: m.now().UTC()}
	m.rooms = append(m.rooms, r)
	return r, nil
}

func (m *MemoryStore) SoftDeleteRoom(_ context.Context, name string, creatorID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rooms {
		r := &m.rooms[i]
		if r.Name == name && r.CreatedBy == creatorID && !r.IsDeleted {
			now := m.now().UTC()
			r.IsDeleted = true
			r.DeletedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) roomByID(id int64) (models.Room, bool) {
	for _, r := range m.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return models.Room{}, false
}

func (m *MemoryStore) UpsertMembership(_ context.Context, roomID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roomByID(roomID)
	if !ok || r.IsDeleted {
		return ErrRoomDeleted
	}
	m.members[memberKey{roomID: roomID, userID: userID}] = m.now().UTC()
	return nil
}

func (m *MemoryStore) DeleteMembership(_ context.Context, roomID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memberKey{roomID: roomID, userID: userID}
	if _, ok := m.members[k]; !ok {
		return false, nil
	}
	delete(m.members, k)
	return true, nil
}

// MembershipCount 返回 (room, user) 的成员行数，只会是 0 或 1。
func (m *MemoryStore) MembershipCount(roomID, userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[memberKey{roomID: roomID, userID: userID}]; ok {
		return 1
	}
	return 0
}

func (m *MemoryStore) ListJoinedRooms(_ context.Context, userID int64) ([]models.RoomSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type joined struct {
		room models.RoomSummary
		at   time.Time
	}
	var rows []joined
	for k, at := range m.members {
		if k.userID != userID {
			continue
		}
		r, ok := m.roomByID(k.roomID)
		if !ok || r.IsDeleted {
			continue
		}
		rows = append(rows, joined{room: models.RoomSummary{ID: r.ID, Name: r.Name}, at: at})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].at.Equal(rows[j].at) {
			return rows[i].room.ID > rows[j].room.ID
		}
		return rows[i].at.After(rows[j].at)
	})
	out := make([]models.RoomSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.room)
	}
	return out, nil
}

func (m *MemoryStore) ListRecentMembers(_ context.Context, roomID int64, limit int) ([]models.MemberSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type member struct {
		user models.MemberSummary
		at   time.Time
	}
	var rows []member
	for k, at := range m.members {
		if k.roomID != roomID {
			continue
		}
		u := m.users[k.userID]
		rows = append(rows, member{user: models.MemberSummary{ID: u.ID, Handle: u.Handle}, at: at})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].at.After(rows[j].at) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]models.MemberSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.user)
	}
	return out, nil
}

// InsertMessage 与 GormStore 相同：最近一分钟内作者消息数达到 limit 时返回 ErrRateLimited。
func (m *MemoryStore) InsertMessage(_ context.Context, roomID, userID int64, body string, limit int) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	cutoff := now.Add(-RateWindow)
	recent := 0
	for _, msg := range m.messages {
		if msg.UserID == userID && msg.CreatedAt.After(cutoff) {
			recent++
		}
	}
	if recent >= limit {
		return models.Message{}, ErrRateLimited
	}
	msg := models.Message{ID: m.id(), RoomID: roomID, UserID: userID, Body: body, CreatedAt: now}
	m.messages = append(m.messages, msg)
	m.notify(msg)
	return msg, nil
}

func (m *MemoryStore) view(msg models.Message) models.MessageView {
	return models.MessageView{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Handle:    m.users[msg.UserID].Handle,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
}

func (m *MemoryStore) MessageView(_ context.Context, id int64) (models.MessageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id && msg.DeletedAt == nil {
			return m.view(msg), nil
		}
	}
	return models.MessageView{}, ErrNotFound
}

func (m *MemoryStore) RecentMessageViews(_ context.Context, roomID int64, limit int) ([]models.MessageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MessageView
	for _, msg := range m.messages {
		if msg.RoomID == roomID && msg.DeletedAt == nil {
			out = append(out, m.view(msg))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return viewLess(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) MessagesSince(_ context.Context, since time.Time, limit int) ([]models.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MessageRef
	for _, msg := range m.messages {
		if msg.CreatedAt.After(since) && msg.DeletedAt == nil {
			out = append(out, models.MessageRef{ID: msg.ID, RoomID: msg.RoomID, CreatedAt: msg.CreatedAt})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteMessagesOlderThan(_ context.Context, cutoff time.Time, batchLimit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	var deleted int64
	for _, msg := range m.messages {
		if msg.CreatedAt.Before(cutoff) && (batchLimit <= 0 || deleted < int64(batchLimit)) {
			deleted++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return deleted, nil
}

// Ping 总是成功，与 GormStore.Ping 对齐供健康检查使用。
func (m *MemoryStore) Ping(context.Context) error { return nil }

func viewLess(a, b models.MessageView) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// MemorySubscription 模拟 LISTEN 通道，每条新消息推送一个 JSON 通知。
type MemorySubscription struct {
	store *MemoryStore
	ch    chan []byte
	once  sync.Once
	done  chan struct{}
}

var errSubscriptionClosed = errors.New("subscription closed")

// Subscribe 注册一个通知订阅。
func (m *MemoryStore) Subscribe(_ context.Context) (*MemorySubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &MemorySubscription{store: m, ch: make(chan []byte, 256), done: make(chan struct{})}
	m.subs[sub] = struct{}{}
	return sub, nil
}

// SubscriberCount 返回当前活跃的订阅数。
func (m *MemoryStore) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// notify 在持有锁时调用；订阅者跟不上时丢弃该条通知。
func (m *MemoryStore) notify(msg models.Message) {
	if len(m.subs) == 0 {
		return
	}
	b, err := json.Marshal(map[string]any{"type": "msg", "room_id": msg.RoomID, "id": msg.ID})
	if err != nil {
		return
	}
	for sub := range m.subs {
		select {
		case sub.ch <- b:
		default:
		}
	}
}

func (s *MemorySubscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b := <-s.ch:
		return b, nil
	case <-s.done:
		return nil, errSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MemorySubscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s)
		s.store.mu.Unlock()
		close(s.done)
	})
	return nil
}
