// Package retention prunes messages older than the retention window.
package retention

import (
	"context"
	"fmt"
	"time"

	"bbs/internal/metrics"
	"bbs/internal/store"

	"github.com/rs/zerolog/log"
)

// DefaultBatch 是单条 DELETE 最多删除的行数，避免长事务锁表。
const DefaultBatch = 1000

// Janitor 按批清理过期消息。
type Janitor struct {
	store  store.Store
	window time.Duration
	batch  int
	now    func() time.Time
}

func NewJanitor(s store.Store, window time.Duration) *Janitor {
	return &Janitor{store: s, window: window, batch: DefaultBatch, now: time.Now}
}

// PruneOnce 删除所有早于 now-window 的消息，返回删除总数。
func (j *Janitor) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.window)
	var total int64
	for {
		n, err := j.store.DeleteMessagesOlderThan(ctx, cutoff, j.batch)
		total += n
		metrics.MessagesPrunedTotal.Add(float64(n))
		if err != nil {
			return total, fmt.Errorf("prune messages: %w", err)
		}
		if n < int64(j.batch) {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	log.Info().Int64("deleted", total).Time("cutoff", cutoff).Msg("retention prune")
	return total, nil
}

// Run 每隔 every 清理一次，直到 ctx 结束。单次失败只记日志。
func (j *Janitor) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if _, err := j.PruneOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("retention prune")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
