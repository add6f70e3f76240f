package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bbs/internal/textutil"

	"gopkg.in/yaml.v3"
)

// MemoryURL 选择进程内存储，用于本地试用和测试。
const MemoryURL = "memory://"

// Notification backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config 在启动时加载一次，之后只读，以值的形式传给各个构造函数。
type Config struct {
	DatabaseURL    string `yaml:"databaseURL"`
	DefaultRoom    string `yaml:"defaultRoom"`
	PubkeySHA256   string `yaml:"pubkeySHA256"`
	PubkeyType     string `yaml:"pubkeyType"`
	PubkeyFile     string `yaml:"pubkeyFile"`
	RemoteAddr     string `yaml:"-"`
	MsgMaxLen      int    `yaml:"msgMaxLen"`
	RatePerMin     int    `yaml:"ratePerMin"`
	RetentionDays  int    `yaml:"retentionDays"`
	HistoryLoad    int    `yaml:"historyLoad"`
	Env            string `yaml:"env"`
	LogFile        string `yaml:"logFile"`
	MetricsAddr    string `yaml:"metricsAddr"`
	NotifyBackend  string `yaml:"notifyBackend"`
	RedisAddr      string `yaml:"redisAddr"`
	StoreTimeoutMS int    `yaml:"storeTimeoutMs"`
}

// Default 返回全部默认值。DatabaseURL 没有默认值。
func Default() Config {
	return Config{
		DefaultRoom:    "lobby",
		MsgMaxLen:      1000,
		RatePerMin:     10,
		RetentionDays:  30,
		HistoryLoad:    200,
		Env:            "dev",
		LogFile:        filepath.Join(os.TempDir(), "bbs.log"),
		NotifyBackend:  BackendPostgres,
		RedisAddr:      "localhost:6379",
		StoreTimeoutMS: 5000,
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取正整数，缺失或非法时返回 def。
func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Load 依次应用默认值、YAML 文件（path 为空时取 BBS_CONFIG，仍为空则跳过）和环境变量，然后校验。
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("BBS_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DefaultRoom = getenv("BBS_DEFAULT_ROOM", cfg.DefaultRoom)
	cfg.PubkeySHA256 = getenv("BBS_PUBKEY_SHA256", cfg.PubkeySHA256)
	cfg.PubkeyType = getenv("BBS_PUBKEY_TYPE", cfg.PubkeyType)
	cfg.PubkeyFile = getenv("BBS_PUBKEY_FILE", cfg.PubkeyFile)
	cfg.RemoteAddr = getenv("REMOTE_ADDR", cfg.RemoteAddr)
	cfg.MsgMaxLen = getenvInt("BBS_MSG_MAX_LEN", cfg.MsgMaxLen)
	cfg.RatePerMin = getenvInt("BBS_RATE_PER_MIN", cfg.RatePerMin)
	cfg.RetentionDays = getenvInt("BBS_RETENTION_DAYS", cfg.RetentionDays)
	cfg.HistoryLoad = getenvInt("BBS_HISTORY_LOAD", cfg.HistoryLoad)
	cfg.Env = getenv("APP_ENV", cfg.Env)
	cfg.LogFile = getenv("BBS_LOG_FILE", cfg.LogFile)
	cfg.MetricsAddr = getenv("BBS_METRICS_ADDR", cfg.MetricsAddr)
	cfg.NotifyBackend = getenv("BBS_NOTIFY_BACKEND", cfg.NotifyBackend)
	cfg.RedisAddr = getenv("REDIS_ADDR", cfg.RedisAddr)
	cfg.StoreTimeoutMS = getenvInt("BBS_STORE_TIMEOUT_MS", cfg.StoreTimeoutMS)

	// 内存存储没有 LISTEN，默认改用它自带的通知。
	if cfg.IsMemory() && cfg.NotifyBackend == BackendPostgres {
		cfg.NotifyBackend = BackendMemory
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate 检查配置是否可用。
func Validate(cfg Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required")
	}
	if !textutil.ValidRoomName(cfg.DefaultRoom) {
		return fmt.Errorf("config: invalid default room %q", cfg.DefaultRoom)
	}
	if cfg.MsgMaxLen <= 0 || cfg.RatePerMin <= 0 || cfg.RetentionDays <= 0 || cfg.HistoryLoad <= 0 {
		return errors.New("config: msgMaxLen, ratePerMin, retentionDays and historyLoad must be > 0")
	}
	switch cfg.NotifyBackend {
	case BackendPostgres:
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redis notify backend requires REDIS_ADDR")
		}
	case BackendMemory:
		if !cfg.IsMemory() {
			return errors.New("config: memory notify backend requires DATABASE_URL=memory://")
		}
	default:
		return fmt.Errorf("config: unknown notify backend %q", cfg.NotifyBackend)
	}
	return nil
}

func (c Config) IsMemory() bool {
	return c.DatabaseURL == MemoryURL
}

func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// Retention 返回消息保留时长。
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
