// Package ratelimit is the client half of the send rate governor.
package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// tolerance 是判定令牌是否足够时允许的浮点误差（单位：令牌）。
const tolerance = 1e-9

// Bucket 是连续补充的令牌桶：容量等于每分钟速率，按 perMin/60 每秒补充，初始为满。
// Bucket 只由渲染循环使用，不需要额外加锁（rate.Limiter 自身也是并发安全的）。
type Bucket struct {
	lim      *rate.Limiter
	capacity int
	slack    time.Duration
}

// New 创建每分钟 perMin 次的令牌桶。perMin <= 0 时按 1 处理。
func New(perMin int) *Bucket {
	if perMin <= 0 {
		perMin = 1
	}
	perSec := float64(perMin) / 60
	return &Bucket{
		lim:      rate.NewLimiter(rate.Limit(perSec), perMin),
		capacity: perMin,
		slack:    time.Duration(math.Ceil(tolerance / perSec * float64(time.Second))),
	}
}

// Allow 尝试消耗一个令牌。
func (b *Bucket) Allow() bool {
	return b.AllowAt(time.Now())
}

// AllowAt 以 t 为当前时间尝试消耗一个令牌。
func (b *Bucket) AllowAt(t time.Time) bool {
	return b.lim.AllowN(t.Add(b.slack), 1)
}

// Tokens 返回当前可用令牌数（已补充）。
func (b *Bucket) Tokens() float64 {
	return b.TokensAt(time.Now())
}

func (b *Bucket) TokensAt(t time.Time) float64 {
	return b.lim.TokensAt(t)
}

func (b *Bucket) Capacity() int {
	return b.capacity
}
