package realtime

import (
	"context"
	"time"

	"bbs/internal/metrics"
	"bbs/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	// PollInterval 是降级轮询每一步之间的固定间隔。
	PollInterval = 2 * time.Second
	// PollPageSize 是每次轮询最多取回的消息数。
	PollPageSize = 100
)

// Subscription 是一个已建立的推送通道。Receive 阻塞直到收到一条原始通知或通道出错。
type Subscription interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context) (Subscription, error)

func (f SubscriberFunc) Subscribe(ctx context.Context) (Subscription, error) { return f(ctx) }

// Poller 是降级时使用的查询：created_at 严格大于 since，按时间升序。
type Poller interface {
	MessagesSince(ctx context.Context, since time.Time, limit int) ([]models.MessageRef, error)
}

// Notifier 在订阅和轮询两种状态之间切换，把新消息事件送入 Queue。
// 它只生产事件，从不接触会话状态。
type Notifier struct {
	sub     Subscriber
	poll    Poller
	queue   *Queue
	backoff *Backoff

	sleep func(ctx context.Context, d time.Duration) error

	lastSeen time.Time
}

// NewNotifier 把轮询游标定在当前时刻，之后只由轮询看到的 created_at 推进。
// 调用方应在载入历史之前创建它，重复的事件由会话去重。
func NewNotifier(sub Subscriber, poll Poller, q *Queue) *Notifier {
	return &Notifier{
		sub:      sub,
		poll:     poll,
		queue:    q,
		backoff:  NewBackoff(),
		sleep:    sleepCtx,
		lastSeen: time.Now(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run 永远运行，直到 ctx 结束。所有错误都在内部吸收：订阅失败转入轮询，
// 轮询失败跳过这一步，格式错误的通知直接丢弃。
func (n *Notifier) Run(ctx context.Context) {
	for ctx.Err() == nil {
		err := n.runSubscribed(ctx)
		metrics.NotifierSubscribed.Set(0)
		if ctx.Err() != nil {
			return
		}
		metrics.NotifierDegradedTotal.Inc()
		log.Warn().Err(err).Dur("backoff", n.backoff.Current()).Msg("notifier degraded, polling")
		n.runDegraded(ctx)
		n.backoff.Grow()
	}
}

func (n *Notifier) runSubscribed(ctx context.Context) error {
	sub, err := n.sub.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	n.backoff.Reset()
	metrics.NotifierSubscribed.Set(1)
	log.Debug().Msg("notifier subscribed")

	for {
		raw, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		ev, ok := ParsePayload(raw)
		if !ok {
			metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
			log.Debug().Bytes("payload", raw).Msg("drop malformed notification")
			continue
		}
		metrics.NotificationsTotal.WithLabelValues("ok").Inc()
		n.queue.Push(ev)
	}
}

func (n *Notifier) runDegraded(ctx context.Context) {
	steps := n.backoff.Steps(PollInterval)
	for i := 0; i < steps; i++ {
		if err := n.pollOnce(ctx); err != nil {
			log.Debug().Err(err).Msg("poll failed")
		}
		if err := n.sleep(ctx, PollInterval); err != nil {
			return
		}
	}
}

func (n *Notifier) pollOnce(ctx context.Context) error {
	rows, err := n.poll.MessagesSince(ctx, n.lastSeen, PollPageSize)
	if err != nil {
		return err
	}
	for _, r := range rows {
		n.queue.Push(Event{RoomID: r.RoomID, ID: r.ID})
		metrics.PolledEventsTotal.Inc()
		if r.CreatedAt.After(n.lastSeen) {
			n.lastSeen = r.CreatedAt
		}
	}
	return nil
}
