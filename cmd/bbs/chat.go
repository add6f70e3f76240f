package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bbs/internal/auth"
	"bbs/internal/config"
	"bbs/internal/db"
	"bbs/internal/identity"
	"bbs/internal/realtime"
	"bbs/internal/server"
	"bbs/internal/session"
	"bbs/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runChat(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	be, err := openBackend(cfg)
	if err != nil {
		log.Error().Err(err).Msg("open store")
		return err
	}
	defer be.close()

	cred, err := credential(cfg)
	if err != nil {
		log.Error().Err(err).Msg("load credential")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rctx, rcancel := withStoreTimeout(ctx, cfg)
	user, err := identity.NewResolver(be.store).Resolve(rctx, cred.Fingerprint, cred.KeyType)
	rcancel()
	if err != nil {
		log.Error().Err(err).Str("key_type", cred.KeyType).Msg("resolve identity")
		return err
	}
	log.Info().
		Int64("user_id", user.ID).
		Str("handle", user.Handle).
		Str("remote_addr", cfg.RemoteAddr).
		Msg("session start")

	coord := session.New(cfg, be.store, user)
	sub, closeSub := notifySource(cfg, be, coord)
	defer closeSub()

	// 轮询游标要早于历史快照，否则两者之间写入的消息会漏掉。
	queue := realtime.NewQueue(realtime.DefaultQueueSize)
	notifier := realtime.NewNotifier(sub, be.store, queue)

	if err := coord.Bootstrap(ctx); err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("bootstrap session")
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		notifier.Run(gctx)
		return nil
	})
	if cfg.MetricsAddr != "" {
		serveOps(gctx, g, cfg.MetricsAddr, be.checks)
	}

	model := tui.New(ctx, coord, queue, auth.ShortFingerprint(cred.Fingerprint))
	_, runErr := tea.NewProgram(model, tea.WithAltScreen()).Run()

	cancel()
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("background tasks")
	}
	log.Info().Int64("user_id", user.ID).Msg("session end")
	return runErr
}

// notifySource 按配置选择通知来源。Redis 模式下发送方自己发布事件。
func notifySource(cfg config.Config, be *backend, coord *session.Coordinator) (realtime.Subscriber, func()) {
	switch cfg.NotifyBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		be.checks = append(be.checks, server.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		coord.SetPublisher(realtime.NewRedisPublisher(client, db.NotifyChannel))
		return realtime.NewRedisSubscriber(client, db.NotifyChannel), func() { _ = client.Close() }
	case config.BackendMemory:
		mem := be.mem
		return realtime.SubscriberFunc(func(ctx context.Context) (realtime.Subscription, error) {
			return mem.Subscribe(ctx)
		}), func() {}
	default:
		return realtime.NewPGSubscriber(cfg.DatabaseURL, db.NotifyChannel), func() {}
	}
}

// serveOps 在后台提供 /healthz 和 /metrics。启动失败只记日志，不影响聊天。
func serveOps(ctx context.Context, g *errgroup.Group, addr string, checks []server.Check) {
	srv := &http.Server{Addr: addr, Handler: server.SetupRouter(checks...)}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("ops server")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}
