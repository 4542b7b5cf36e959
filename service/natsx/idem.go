package natsx

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ----- 抽象存储 -----
type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu        sync.Mutex
	m         map[string]time.Time // key -> expire
	ttl       time.Duration
	clock     clock.Clock
	lastSweep time.Time
}

// NewMemIdem 过期 key 在访问时顺带清理，不起后台协程
func NewMemIdem(defaultTTL time.Duration, clk clock.Clock) IdemStore {
	if clk == nil {
		clk = clock.New()
	}
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, clock: clk}
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.clock.Now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if now.Sub(mi.lastSweep) >= mi.ttl {
		for k, exp := range mi.m {
			if !exp.After(now) {
				delete(mi.m, k)
			}
		}
		mi.lastSweep = now
	}
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil // 已见过
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

// ----- 从消息头提取 msgID -----
func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{HeaderMsgID, "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// NatsxIdemMiddleware 按消息头里的 msgID 去重（重试/重投）；没有 msgID 的消息一律放行
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				return next(ctx, msg)
			}
			if seen, _ := store.SeenOnce(msg.Subject+"|"+id, ttl); seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
