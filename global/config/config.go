package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"PPRelay/tools/decode"
	"PPRelay/tools/security"
)

const EnvPrefix = "RELAY_"

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
)

// AppConfig 中继节点配置；环境变量 RELAY_<TAG> 覆盖默认值
type AppConfig struct {
	NodeID   int64  `env:"NODE_ID"` // 雪花ID节点号 0~1023
	Port     int    `env:"PORT"`    // http 启动端口
	LogLevel string `env:"LOG_LEVEL"`

	// ===== 缓存 / 在线 / 输入状态 =====
	CacheTTL         time.Duration `env:"CACHE_TTL"`
	TypingTTL        time.Duration `env:"TYPING_TTL"`
	TypingThrottle   time.Duration `env:"TYPING_THROTTLE"`
	PresenceInterval time.Duration `env:"PRESENCE_INTERVAL"`

	// ===== 连接 =====
	SendQueue    int           `env:"SEND_QUEUE"`
	PingInterval time.Duration `env:"PING_INTERVAL"`
	PongWait     time.Duration `env:"PONG_WAIT"`
	ReadLimit    int64         `env:"READ_LIMIT"`

	// ===== 存储 =====
	StorageDriver  string        `env:"STORAGE"` // memory | postgres | mongo
	PersistTimeout time.Duration `env:"PERSIST_TIMEOUT"`
	PostgresDSN    string        `env:"POSTGRES_DSN"`
	MongoURI       string        `env:"MONGO_URI"`
	MongoDatabase  string        `env:"MONGO_DB"`
	RedisAddr      string        `env:"REDIS_ADDR"` // 为空则不镜像在线状态
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB"`

	// ===== 会话成员变更通知 =====
	NatsServers       []string `env:"NATS_SERVERS"` // 为空则不订阅
	MembershipSubject string   `env:"MEMBERSHIP_SUBJECT"`
	InternalSecret    string   `env:"INTERNAL_SECRET"` // 内部 HTTP 钩子的共享密钥

	AllowedOrigins []string `env:"ALLOWED_ORIGINS"` // /ws 允许的 Origin，为空不校验

	// ===== 身份校验 =====
	JWTAlg           string `env:"JWT_ALG"`
	JWTSecret        string `env:"JWT_SECRET"`
	JWTPublicKeyFile string `env:"JWT_PUBLIC_KEY_FILE"` // RS256 PEM

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

func Default() AppConfig {
	return AppConfig{
		NodeID:   1,
		Port:     8080,
		LogLevel: "info",

		CacheTTL:         5 * time.Minute,
		TypingTTL:        5 * time.Second,
		TypingThrottle:   time.Second,
		PresenceInterval: 60 * time.Second,

		SendQueue:    256,
		PingInterval: 25 * time.Second,
		PongWait:     60 * time.Second,
		ReadLimit:    64 << 10,

		StorageDriver:  StorageMemory,
		PersistTimeout: 10 * time.Second,
		MongoDatabase:  "relay",

		MembershipSubject: "relay.membership.changed",

		JWTAlg: "HS256",

		ShutdownTimeout: 10 * time.Second,
	}
}

// Load 默认值 + 进程环境变量
func Load() (AppConfig, error) {
	return LoadFrom(os.Environ())
}

// LoadFrom 解析 KEY=VALUE 列表，只取 RELAY_ 前缀
func LoadFrom(environ []string) (AppConfig, error) {
	cfg := Default()
	m := make(map[string]any)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		m[strings.TrimPrefix(k, EnvPrefix)] = v
	}
	if len(m) > 0 {
		opts := decode.DefaultOptions()
		opts.TagName = "env"
		if err := decode.Into(m, &cfg, opts); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

func (c AppConfig) Validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("RELAY_POSTGRES_DSN required for storage %q", c.StorageDriver)
		}
	case StorageMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("RELAY_MONGO_URI required for storage %q", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.CacheTTL <= 0 || c.TypingTTL <= 0 || c.PresenceInterval <= 0 {
		return fmt.Errorf("cache/typing/presence intervals must be positive")
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("send queue must be positive")
	}
	if c.PingInterval >= c.PongWait {
		return fmt.Errorf("ping interval %s must be shorter than pong wait %s", c.PingInterval, c.PongWait)
	}
	return nil
}

// JWTOptions 按算法选择 HMAC 密钥或 RS256 公钥文件
func (c AppConfig) JWTOptions() (security.Options, error) {
	if strings.EqualFold(c.JWTAlg, "RS256") {
		pemBytes, err := os.ReadFile(c.JWTPublicKeyFile)
		if err != nil {
			return security.Options{}, fmt.Errorf("read jwt public key: %w", err)
		}
		return security.RS256Options(pemBytes)
	}
	if c.JWTSecret == "" {
		return security.Options{}, fmt.Errorf("RELAY_JWT_SECRET required for %s", c.JWTAlg)
	}
	opts := security.DefaultOptions([]byte(c.JWTSecret))
	opts.Alg = c.JWTAlg
	return opts, nil
}

func (c AppConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
