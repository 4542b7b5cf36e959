package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// presence key: im:presence:<user>
// Value: node id, TTL controls the online validity period
func presenceKey(user string) string { return "im:presence:" + user }

// RedisPresence 把本节点的在线用户镜像到 Redis，供其他服务查询。
// 中继自身的在线判断只看连接注册表。
type RedisPresence struct {
	rdb    redis.Cmdable
	nodeID string
	ttl    time.Duration
}

func NewRedisPresence(rdb redis.Cmdable, nodeID string, ttl time.Duration) *RedisPresence {
	return &RedisPresence{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

// Online sets the user as online and renews the TTL
func (p *RedisPresence) Online(ctx context.Context, user string) error {
	return p.rdb.Set(ctx, presenceKey(user), p.nodeID, p.ttl).Err()
}

// Offline deletes the key
func (p *RedisPresence) Offline(ctx context.Context, user string) error {
	return p.rdb.Del(ctx, presenceKey(user)).Err()
}

// Refresh renews the TTL for every user in one pipeline
func (p *RedisPresence) Refresh(ctx context.Context, users []string) error {
	if len(users) == 0 {
		return nil
	}
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range users {
			pipe.Set(ctx, presenceKey(u), p.nodeID, p.ttl)
		}
		return nil
	})
	return err
}

// Lookup checks whether the user is online and on which node
func (p *RedisPresence) Lookup(ctx context.Context, user string) (nodeID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
