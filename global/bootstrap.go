package global

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"PPRelay/data/database/mgo/mongoutil"
	"PPRelay/global/config"
	"PPRelay/logger"
	"PPRelay/service/chat"
	"PPRelay/service/natsx"
	"PPRelay/service/presence"
	"PPRelay/service/storage"
	"PPRelay/service/storage/redis"
	"PPRelay/tools/ids"
	"PPRelay/tools/security"
)

// ===== 启动期各组件的构造，全部显式返回，不设全局单例 =====

func ConfigLogger(cfg config.AppConfig) {
	logger.SetLevel(cfg.LogLevel)
}

// ConfigIds 默认生成器与连接/消息 ID 生成器使用同一个节点号
func ConfigIds(cfg config.AppConfig) *ids.Generator {
	ids.SetNodeID(cfg.NodeID)
	return ids.NewGenerator(cfg.NodeID)
}

func ConfigAuth(cfg config.AppConfig) (chat.Authenticator, error) {
	opts, err := cfg.JWTOptions()
	if err != nil {
		return nil, err
	}
	return security.NewVerifier(opts), nil
}

// ConfigStore 按 RELAY_STORAGE 选择存储，并建好表/索引
func ConfigStore(ctx context.Context, cfg config.AppConfig, idGen *ids.Generator) (storage.Store, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return storage.NewMemoryStore(idGen), nil

	case config.StoragePostgres:
		s, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN, idGen)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		return s, nil

	case config.StorageMongo:
		s, err := storage.NewMongoStore(ctx, &mongoutil.Config{
			Uri:         cfg.MongoURI,
			Database:    cfg.MongoDatabase,
			MaxPoolSize: 20,
			MaxRetry:    3,
		}, idGen)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// ConfigRedis 在线状态镜像；RELAY_REDIS_ADDR 为空时返回 nil
func ConfigRedis(ctx context.Context, cfg config.AppConfig) (presence.Mirror, func() error, error) {
	if cfg.RedisAddr == "" {
		return nil, nil, nil
	}
	rdb, err := redis.NewClient(ctx, redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	// 至少撑过两轮对账，节点异常退出后 key 自然过期
	ttl := 2*cfg.PresenceInterval + 10*time.Second
	return storage.NewRedisPresence(rdb, strconv.FormatInt(cfg.NodeID, 10), ttl), rdb.Close, nil
}

// ConfigNats 成员变更总线；RELAY_NATS_SERVERS 为空时返回 nil
func ConfigNats(cfg config.AppConfig) (*natsx.NatsManager, error) {
	if len(cfg.NatsServers) == 0 {
		return nil, nil
	}
	log := logger.Named("nats")
	return natsx.NewNatsManager(natsx.NatsxConfig{
		Servers: cfg.NatsServers,
		Name:    "relay-" + strconv.FormatInt(cfg.NodeID, 10),
	}, log,
		natsx.NatsxLogMiddleware(log),
		natsx.NatsxRecoverMiddleware(),
		natsx.NatsxIdemMiddleware(natsx.NewMemIdem(time.Minute, nil), 0),
	)
}
