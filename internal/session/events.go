package session

import (
	"context"
	"errors"
	"fmt"

	"bbs/internal/realtime"
	"bbs/internal/store"
)

// HandleEvents 应用一批通知事件：
// 当前房间中未见过的消息取回视图后插入；其它已加入房间的消息计入未读（每个 id 只计一次）；
// 未加入房间的事件忽略。单个事件失败不影响其余事件，返回第一个错误。
func (c *Coordinator) HandleEvents(ctx context.Context, events []realtime.Event) error {
	var firstErr error
	for _, ev := range events {
		if err := c.handleEvent(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Coordinator) handleEvent(ctx context.Context, ev realtime.Event) error {
	if ev.RoomID == c.currentID && c.currentID != 0 {
		if _, ok := c.seen[ev.ID]; ok {
			return nil
		}
		sctx, cancel := c.storeCtx(ctx)
		defer cancel()
		v, err := c.store.MessageView(sctx, ev.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch message %d: %w", ev.ID, err)
		}
		c.insertMessage(v)
		return nil
	}

	i := c.indexOf(ev.RoomID)
	if i < 0 {
		return nil
	}
	if _, ok := c.counted[ev.ID]; ok {
		return nil
	}
	c.markCounted(ev.ID)
	c.rooms[i].Unread++
	return nil
}

// markCounted 记下不再计入未读的消息 ID，最多保留 countedCapacity 个。
func (c *Coordinator) markCounted(id int64) {
	if _, ok := c.counted[id]; ok {
		return
	}
	c.counted[id] = struct{}{}
	c.countedOrder = append(c.countedOrder, id)
	if len(c.countedOrder) > countedCapacity {
		oldest := c.countedOrder[0]
		c.countedOrder = c.countedOrder[1:]
		delete(c.counted, oldest)
	}
}
