package main

import (
	"context"
	"fmt"
	"io"

	"bbs/internal/auth"
	"bbs/internal/config"
	"bbs/internal/db"
	clog "bbs/internal/log"
	"bbs/internal/server"
	"bbs/internal/store"

	"github.com/rs/zerolog/log"
)

// backend 是打开后的存储及其健康检查。
type backend struct {
	store  store.Store
	mem    *store.MemoryStore
	checks []server.Check
	close  func()
}

func loadConfig() (config.Config, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	closer, err := clog.Init(cfg.Env, cfg.LogFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, closer, nil
}

// openBackend 连接数据库并迁移；memory:// 使用进程内存储。
func openBackend(cfg config.Config) (*backend, error) {
	if cfg.IsMemory() {
		mem := store.NewMemoryStore(nil)
		return &backend{
			store:  mem,
			mem:    mem,
			checks: []server.Check{{Name: "store", Ping: mem.Ping}},
			close:  func() {},
		}, nil
	}
	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	gs := store.NewGormStore(gdb)
	return &backend{
		store:  gs,
		checks: []server.Check{{Name: "db", Ping: gs.Ping}},
		close: func() {
			if sqlDB, err := gdb.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	}, nil
}

// credential 依次取环境变量中的指纹、公钥文件，最后退回到开发用的本地身份。
func credential(cfg config.Config) (auth.Credential, error) {
	if cfg.PubkeySHA256 != "" {
		kt := cfg.PubkeyType
		if kt == "" {
			kt = "unknown"
		}
		return auth.Credential{Fingerprint: cfg.PubkeySHA256, KeyType: auth.MapKeyType(kt)}, nil
	}
	if cfg.PubkeyFile != "" {
		c, err := auth.LoadPublicKeyFile(cfg.PubkeyFile)
		if err != nil {
			return auth.Credential{}, err
		}
		return c, nil
	}
	log.Warn().Msg("no public key provided, using dev-local identity")
	return auth.Credential{Fingerprint: "dev-local", KeyType: "dev"}, nil
}

func withStoreTimeout(ctx context.Context, cfg config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, cfg.StoreTimeout())
}
