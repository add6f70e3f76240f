// Package server exposes the local operations endpoint: health checks and
// Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"bbs/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Check 是一项健康检查，例如数据库或 Redis 的 Ping。
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

const checkTimeout = 2 * time.Second

// SetupRouter 初始化 Gin 中间件、健康检查和指标端点。
func SetupRouter(checks ...Check) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		defer cancel()
		failed := make([]string, 0)
		for _, chk := range checks {
			if err := chk.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("check", chk.Name).Msg("health check")
				failed = append(failed, chk.Name)
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
