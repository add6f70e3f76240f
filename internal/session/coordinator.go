// Package session owns the client-visible chat state: current room, joined rooms
// with unread counters, and the loaded message history.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bbs/internal/config"
	"bbs/internal/metrics"
	"bbs/internal/models"
	"bbs/internal/ratelimit"
	"bbs/internal/realtime"
	"bbs/internal/store"
	"bbs/internal/textutil"

	"github.com/rs/zerolog/log"
)

const (
	whoLimit        = 20
	countedCapacity = 4096
)

// Publisher 在消息写入后广播通知；只有不依赖数据库触发器的通知后端才需要。
type Publisher interface {
	Publish(ctx context.Context, ev realtime.Event) error
}

// RoomState 是已加入房间在本地的视图。
type RoomState struct {
	ID     int64
	Name   string
	Unread int
}

// Result 是一次 Apply 的可见结果。
type Result struct {
	Status   string
	Err      error  // 可恢复错误，已转换为 Status
	Retry    string // 需要放回输入框的原文
	Quit     bool
	ShowHelp bool
}

// Coordinator 是会话状态的唯一所有者。它不加锁：调用方（渲染循环）保证
// Apply 和 HandleEvents 不会并发执行。
type Coordinator struct {
	cfg    config.Config
	store  store.Store
	pub    Publisher
	bucket *ratelimit.Bucket
	now    func() time.Time

	user      models.User
	rooms     []RoomState
	currentID int64
	messages  []models.MessageView
	seen      map[int64]struct{}

	counted      map[int64]struct{}
	countedOrder []int64
}

func New(cfg config.Config, s store.Store, user models.User) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		store:   s,
		bucket:  ratelimit.New(cfg.RatePerMin),
		now:     time.Now,
		user:    user,
		seen:    make(map[int64]struct{}),
		counted: make(map[int64]struct{}),
	}
}

// SetPublisher 配置写入后的广播。
func (c *Coordinator) SetPublisher(p Publisher) { c.pub = p }

func (c *Coordinator) User() models.User { return c.user }

// Rooms 返回已加入房间的副本，顺序即切换顺序。
func (c *Coordinator) Rooms() []RoomState {
	out := make([]RoomState, len(c.rooms))
	copy(out, c.rooms)
	return out
}

// Current 返回当前房间；没有房间时 ok 为 false。
func (c *Coordinator) Current() (RoomState, bool) {
	i := c.indexOf(c.currentID)
	if i < 0 {
		return RoomState{}, false
	}
	return c.rooms[i], true
}

func (c *Coordinator) Messages() []models.MessageView {
	return c.messages
}

func (c *Coordinator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := c.cfg.StoreTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// Bootstrap 确保默认房间存在并加入，载入已加入房间列表和当前房间的历史。
// 默认房间已被删除时，退回到最近加入的其它房间。
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	room, err := store.EnsureRoom(sctx, c.store, c.cfg.DefaultRoom, c.user.ID)
	if err == nil {
		err = c.store.UpsertMembership(sctx, room.ID, c.user.ID)
	}
	if err != nil && !errors.Is(err, store.ErrRoomDeleted) {
		return fmt.Errorf("join default room %q: %w", c.cfg.DefaultRoom, err)
	}
	defaultOK := err == nil

	joined, err := c.store.ListJoinedRooms(sctx, c.user.ID)
	if err != nil {
		return fmt.Errorf("list joined rooms: %w", err)
	}
	c.rooms = c.rooms[:0]
	for _, r := range joined {
		c.rooms = append(c.rooms, RoomState{ID: r.ID, Name: r.Name})
	}
	if len(c.rooms) == 0 {
		return fmt.Errorf("join default room %q: %w", c.cfg.DefaultRoom, store.ErrRoomDeleted)
	}

	c.currentID = c.rooms[0].ID
	if defaultOK {
		c.currentID = room.ID
	}
	if err := c.loadHistory(sctx); err != nil {
		return err
	}
	log.Info().Int64("user_id", c.user.ID).Int("rooms", len(c.rooms)).Msg("session ready")
	return nil
}

// Apply 执行一个意图。可恢复的情况写入 Result.Status 并返回 nil 错误；
// 其余错误（通常是存储不可用）原样返回，会话继续运行。
func (c *Coordinator) Apply(ctx context.Context, in Intent) (Result, error) {
	res, err := c.apply(ctx, in)
	if err == nil {
		return res, nil
	}
	if IsRecoverable(err) {
		res.Status = err.Error()
		res.Err = err
		return res, nil
	}
	log.Error().Err(err).Int64("user_id", c.user.ID).Str("intent", fmt.Sprintf("%T", in)).Msg("apply intent")
	return res, err
}

func (c *Coordinator) apply(ctx context.Context, in Intent) (Result, error) {
	switch in := in.(type) {
	case Send:
		return c.send(ctx, in.Text, in.Text)
	case Action:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return Result{}, ErrEmptyMessage
		}
		return c.send(ctx, ActionPrefix+text, ActionPrefix+in.Text)
	case Join:
		return c.join(ctx, in.Room)
	case Leave:
		return c.leave(ctx, in.Room)
	case SwitchNext:
		return c.switchNext(ctx)
	case Rename:
		return c.rename(ctx, in.Handle)
	case DeleteRoom:
		return c.deleteRoom(ctx, in.Room)
	case ListRooms:
		return c.listRooms(ctx)
	case Who:
		return c.who(ctx, in.Room)
	case Help:
		return Result{ShowHelp: true}, nil
	case Quit:
		return Result{Quit: true}, nil
	case Unknown:
		return Result{Status: fmt.Sprintf("unknown command /%s (try /help)", in.Name)}, nil
	default:
		return Result{}, fmt.Errorf("unhandled intent %T", in)
	}
}

func (c *Coordinator) send(ctx context.Context, text, retry string) (Result, error) {
	res := Result{Retry: retry}
	body := strings.TrimSpace(text)
	if body == "" {
		return res, ErrEmptyMessage
	}
	if n := textutil.RuneLen(body); n > c.cfg.MsgMaxLen {
		return res, fmt.Errorf("%w (%d > %d)", ErrMessageTooLong, n, c.cfg.MsgMaxLen)
	}
	if _, ok := c.Current(); !ok {
		return res, ErrNotJoined
	}
	// 本地拒绝不消耗令牌。规范化可能变长，长度要再查一次。
	body = textutil.NormalizeBody(body)
	if strings.TrimSpace(body) == "" {
		return res, ErrEmptyMessage
	}
	if n := textutil.RuneLen(body); n > c.cfg.MsgMaxLen {
		return res, fmt.Errorf("%w (%d > %d)", ErrMessageTooLong, n, c.cfg.MsgMaxLen)
	}
	if !c.bucket.AllowAt(c.now()) {
		metrics.MessagesSentTotal.WithLabelValues("local_limited").Inc()
		return res, ErrRateLimited
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	msg, err := c.store.InsertMessage(sctx, c.currentID, c.user.ID, body, c.cfg.RatePerMin)
	if errors.Is(err, store.ErrRateLimited) {
		metrics.MessagesSentTotal.WithLabelValues("server_limited").Inc()
		return res, ErrRateLimited
	}
	if err != nil {
		metrics.MessagesSentTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("send message: %w", err)
	}
	metrics.MessagesSentTotal.WithLabelValues("ok").Inc()

	c.insertMessage(models.MessageView{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Handle:    c.user.Handle,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	})
	if c.pub != nil {
		if err := c.pub.Publish(sctx, realtime.Event{RoomID: msg.RoomID, ID: msg.ID}); err != nil {
			log.Warn().Err(err).Int64("room_id", msg.RoomID).Msg("publish message event")
		}
	}
	return Result{}, nil
}

func (c *Coordinator) join(ctx context.Context, name string) (Result, error) {
	name = strings.TrimSpace(name)
	if !textutil.ValidRoomName(name) {
		return Result{}, ErrInvalidRoomName
	}
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	room, err := store.EnsureRoom(sctx, c.store, name, c.user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("join #%s: %w", name, err)
	}
	// 删除状态在写入时由存储层再次检查。
	if err := c.store.UpsertMembership(sctx, room.ID, c.user.ID); err != nil {
		return Result{}, fmt.Errorf("join #%s: %w", name, err)
	}
	if c.indexOf(room.ID) < 0 {
		c.rooms = append([]RoomState{{ID: room.ID, Name: room.Name}}, c.rooms...)
	}
	c.currentID = room.ID
	if err := c.loadHistory(sctx); err != nil {
		return Result{}, err
	}
	log.Info().Int64("user_id", c.user.ID).Str("room", name).Msg("join room")
	return Result{Status: "joined #" + name}, nil
}

func (c *Coordinator) leave(ctx context.Context, name string) (Result, error) {
	name = strings.TrimSpace(name)
	idx := c.indexOf(c.currentID)
	if name != "" {
		if !textutil.ValidRoomName(name) {
			return Result{}, ErrInvalidRoomName
		}
		idx = c.indexByName(name)
	}
	if idx < 0 {
		return Result{}, ErrNotJoined
	}
	target := c.rooms[idx]
	isCurrent := target.ID == c.currentID
	if isCurrent && len(c.rooms) == 1 {
		return Result{}, ErrLastRoom
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if _, err := c.store.DeleteMembership(sctx, target.ID, c.user.ID); err != nil {
		return Result{}, fmt.Errorf("leave #%s: %w", target.Name, err)
	}
	if isCurrent {
		c.currentID = c.rooms[(idx+1)%len(c.rooms)].ID
		if err := c.loadHistory(sctx); err != nil {
			c.removeRoom(target.ID)
			return Result{}, err
		}
	}
	c.removeRoom(target.ID)
	log.Info().Int64("user_id", c.user.ID).Str("room", target.Name).Msg("leave room")
	return Result{Status: "left #" + target.Name}, nil
}

func (c *Coordinator) switchNext(ctx context.Context) (Result, error) {
	if len(c.rooms) == 0 {
		return Result{}, ErrNotJoined
	}
	idx := c.indexOf(c.currentID)
	c.currentID = c.rooms[(idx+1)%len(c.rooms)].ID

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.loadHistory(sctx); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

func (c *Coordinator) rename(ctx context.Context, handle string) (Result, error) {
	handle = strings.TrimSpace(handle)
	if !textutil.ValidHandle(handle) {
		return Result{}, ErrInvalidHandle
	}
	if handle == c.user.Handle {
		return Result{Status: "you are already " + handle}, nil
	}
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	u, err := c.store.RenameUser(sctx, c.user.ID, handle)
	if store.IsConflict(err, store.FieldHandle) {
		return Result{}, ErrHandleTaken
	}
	if err != nil {
		return Result{}, fmt.Errorf("rename: %w", err)
	}
	old := c.user.Handle
	c.user = u
	for i := range c.messages {
		if c.messages[i].UserID == u.ID {
			c.messages[i].Handle = u.Handle
		}
	}
	log.Info().Int64("user_id", u.ID).Str("old", old).Str("new", u.Handle).Msg("rename")
	return Result{Status: fmt.Sprintf("you are now %s (was %s)", u.Handle, old)}, nil
}

func (c *Coordinator) deleteRoom(ctx context.Context, name string) (Result, error) {
	name = strings.TrimSpace(name)
	if !textutil.ValidRoomName(name) {
		return Result{}, ErrInvalidRoomName
	}
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	ok, err := c.store.SoftDeleteRoom(sctx, name, c.user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("delete #%s: %w", name, err)
	}
	if !ok {
		return Result{Status: fmt.Sprintf("cannot delete #%s: not the creator or already deleted", name)}, nil
	}
	log.Info().Int64("user_id", c.user.ID).Str("room", name).Msg("delete room")

	if idx := c.indexByName(name); idx >= 0 {
		if err := c.dropRoom(sctx, c.rooms[idx].ID); err != nil {
			return Result{}, err
		}
	}
	return Result{Status: "deleted #" + name}, nil
}

// dropRoom 从本地列表移除一个已不可用的房间。若它是当前房间，切到下一个；
// 没有其它房间时重新加入默认房间。
func (c *Coordinator) dropRoom(ctx context.Context, roomID int64) error {
	idx := c.indexOf(roomID)
	if idx < 0 {
		return nil
	}
	if roomID != c.currentID {
		c.removeRoom(roomID)
		return nil
	}
	if len(c.rooms) > 1 {
		c.currentID = c.rooms[(idx+1)%len(c.rooms)].ID
		c.removeRoom(roomID)
		return c.loadHistory(ctx)
	}
	c.removeRoom(roomID)
	c.currentID = 0
	c.messages = nil
	c.seen = make(map[int64]struct{})
	if _, err := c.join(ctx, c.cfg.DefaultRoom); err != nil && !errors.Is(err, store.ErrRoomDeleted) {
		return err
	}
	return nil
}

func (c *Coordinator) listRooms(ctx context.Context) (Result, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	joined, err := c.store.ListJoinedRooms(sctx, c.user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list rooms: %w", err)
	}
	if len(joined) == 0 {
		return Result{Status: "rooms: (none)"}, nil
	}
	parts := make([]string, 0, len(joined))
	for _, r := range joined {
		s := "#" + r.Name
		if i := c.indexOf(r.ID); i >= 0 && c.rooms[i].Unread > 0 {
			s += fmt.Sprintf(" (%d)", c.rooms[i].Unread)
		}
		parts = append(parts, s)
	}
	return Result{Status: "rooms: " + strings.Join(parts, ", ")}, nil
}

func (c *Coordinator) who(ctx context.Context, name string) (Result, error) {
	name = strings.TrimSpace(name)
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	var roomID int64
	if name == "" {
		cur, ok := c.Current()
		if !ok {
			return Result{}, ErrNotJoined
		}
		roomID, name = cur.ID, cur.Name
	} else {
		if !textutil.ValidRoomName(name) {
			return Result{}, ErrInvalidRoomName
		}
		room, err := c.store.RoomByName(sctx, name)
		if errors.Is(err, store.ErrNotFound) || (err == nil && room.IsDeleted) {
			return Result{}, ErrNoSuchRoom
		}
		if err != nil {
			return Result{}, fmt.Errorf("who #%s: %w", name, err)
		}
		roomID = room.ID
	}

	members, err := c.store.ListRecentMembers(sctx, roomID, whoLimit)
	if err != nil {
		return Result{}, fmt.Errorf("who #%s: %w", name, err)
	}
	handles := make([]string, 0, len(members))
	for _, m := range members {
		handles = append(handles, m.Handle)
	}
	return Result{Status: fmt.Sprintf("who #%s: %s", name, strings.Join(handles, ", "))}, nil
}

// loadHistory 重新载入当前房间的最近消息，并清零它的未读数。
func (c *Coordinator) loadHistory(ctx context.Context) error {
	views, err := c.store.RecentMessageViews(ctx, c.currentID, c.cfg.HistoryLoad)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	c.messages = views
	c.seen = make(map[int64]struct{}, len(views))
	for _, v := range views {
		c.seen[v.ID] = struct{}{}
	}
	if i := c.indexOf(c.currentID); i >= 0 {
		c.rooms[i].Unread = 0
	}
	return nil
}

// insertMessage 按 (created_at, id) 顺序插入并标记为已见，超出历史上限时丢弃最旧的。
// 显示过的消息也记为已计数：自己的回声或补发的轮询事件在切换房间后到达时不算未读。
func (c *Coordinator) insertMessage(v models.MessageView) {
	c.seen[v.ID] = struct{}{}
	c.markCounted(v.ID)
	i := sort.Search(len(c.messages), func(i int) bool {
		m := c.messages[i]
		if m.CreatedAt.Equal(v.CreatedAt) {
			return m.ID > v.ID
		}
		return m.CreatedAt.After(v.CreatedAt)
	})
	c.messages = append(c.messages, models.MessageView{})
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = v
	if limit := c.cfg.HistoryLoad; limit > 0 && len(c.messages) > limit {
		c.messages = c.messages[len(c.messages)-limit:]
	}
}

func (c *Coordinator) indexOf(roomID int64) int {
	for i, r := range c.rooms {
		if r.ID == roomID {
			return i
		}
	}
	return -1
}

func (c *Coordinator) indexByName(name string) int {
	for i, r := range c.rooms {
		if r.Name == name {
			return i
		}
	}
	return -1
}

func (c *Coordinator) removeRoom(roomID int64) {
	if i := c.indexOf(roomID); i >= 0 {
		c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
	}
}
