package realtime

import "time"

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Backoff 是订阅重试的指数退避：1s, 2s, 4s, ... 封顶 30s。
type Backoff struct {
	cur time.Duration
}

func NewBackoff() *Backoff {
	return &Backoff{cur: minBackoff}
}

func (b *Backoff) Current() time.Duration { return b.cur }

// Grow 在一次降级轮询周期结束后调用。
func (b *Backoff) Grow() {
	b.cur *= 2
	if b.cur > maxBackoff {
		b.cur = maxBackoff
	}
}

// Reset 在订阅成功建立时调用。
func (b *Backoff) Reset() { b.cur = minBackoff }

// Steps 返回当前退避时长内按 interval 轮询的次数，至少一次。
func (b *Backoff) Steps(interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	n := int(b.cur / interval)
	if n < 1 {
		return 1
	}
	return n
}
