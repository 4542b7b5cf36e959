package typing

import (
	"context"
	"sync"
	"time"

	"PPRelay/logger"
	"PPRelay/service/chat"
	"PPRelay/service/metrics"
	"PPRelay/tools/errs"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultTTL      = 5 * time.Second
	DefaultThrottle = time.Second
)

type key struct {
	userID         string
	conversationID string
}

// entry 一个 (用户, 会话) 的输入状态；seq 每次重置定时器递增，旧定时器回调据此失效
type entry struct {
	timer     *clock.Timer
	seq       uint64
	announced time.Time
}

type Options struct {
	TTL      time.Duration
	Throttle time.Duration // 同一 key 重复 true 的最小广播间隔
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Aggregator 输入状态聚合：true 开始/续期 5s 过期定时器，过期或 false 时广播一次停止
type Aggregator struct {
	fanout   *chat.Fanout
	ttl      time.Duration
	throttle time.Duration
	clock    clock.Clock
	log      *zap.Logger
	m        *metrics.Metrics

	mu      sync.Mutex
	entries map[key]*entry
	closed  bool
}

func New(fanout *chat.Fanout, opts Options) *Aggregator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Throttle < 0 {
		opts.Throttle = 0
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("typing")
	}
	return &Aggregator{
		fanout:   fanout,
		ttl:      opts.TTL,
		throttle: opts.Throttle,
		clock:    opts.Clock,
		log:      opts.Logger,
		m:        opts.Metrics,
		entries:  make(map[key]*entry),
	}
}

// Signal 处理一条 TYPING 上行帧。
// 成员在锁外解析；同一 key 的状态变更与入队都在 a.mu 内完成，事件顺序与状态一致。
func (a *Aggregator) Signal(ctx context.Context, userID, conversationID string, isTyping bool) error {
	if conversationID == "" {
		return errs.ErrValidation.WrapMsg("conversationId is required")
	}
	k := key{userID: userID, conversationID: conversationID}
	peers := a.fanout.Participants(ctx, conversationID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	if isTyping {
		if a.startLocked(k) {
			a.emitLocked(k, true, peers)
		}
		return nil
	}
	// false 原样转发，不论是否有活跃条目
	a.stopLocked(k)
	a.emitLocked(k, false, peers)
	return nil
}

// startLocked 新建或续期；返回是否需要广播
func (a *Aggregator) startLocked(k key) bool {
	now := a.clock.Now()
	e, ok := a.entries[k]
	if !ok {
		e = &entry{}
		a.entries[k] = e
	}
	a.armLocked(k, e)
	if ok && now.Sub(e.announced) < a.throttle {
		return false
	}
	e.announced = now
	return true
}

// armLocked 先取消再重建，同一 key 只会有一个有效定时器
func (a *Aggregator) armLocked(k key, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.seq++
	seq := e.seq
	e.timer = a.clock.AfterFunc(a.ttl, func() { a.expire(k, seq) })
}

// stopLocked 移除条目；返回条目是否存在
func (a *Aggregator) stopLocked(k key) bool {
	e, ok := a.entries[k]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(a.entries, k)
	return true
}

// live 条目仍是 seq 这一轮
func (a *Aggregator) live(k key, seq uint64) bool {
	e, ok := a.entries[k]
	return ok && e.seq == seq && !a.closed
}

func (a *Aggregator) expire(k key, seq uint64) {
	a.mu.Lock()
	ok := a.live(k, seq)
	a.mu.Unlock()
	if !ok {
		return
	}

	peers := a.fanout.Participants(context.Background(), k.conversationID)

	a.mu.Lock()
	defer a.mu.Unlock()
	// 解析成员期间被续期或停止：本轮作废
	if !a.live(k, seq) {
		return
	}
	delete(a.entries, k)
	a.m.TypingExpired()
	a.log.Debug("typing expired", zap.String("user_id", k.userID), zap.String("conversation_id", k.conversationID))
	a.emitLocked(k, false, peers)
}

// ExpireUser 用户下线：清空其全部输入状态，每个会话广播一次 false
func (a *Aggregator) ExpireUser(ctx context.Context, userID string) int {
	a.mu.Lock()
	var keys []key
	for k := range a.entries {
		if k.userID == userID {
			keys = append(keys, k)
		}
	}
	a.mu.Unlock()
	if len(keys) == 0 {
		return 0
	}

	peers := make(map[string][]string, len(keys))
	for _, k := range keys {
		peers[k.conversationID] = a.fanout.Participants(ctx, k.conversationID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, k := range keys {
		// 期间已过期或已停止的，false 已经发过
		if !a.stopLocked(k) {
			continue
		}
		a.emitLocked(k, false, peers[k.conversationID])
		n++
	}
	return n
}

// emitLocked 只做非阻塞入队
func (a *Aggregator) emitLocked(k key, isTyping bool, peers []string) {
	a.fanout.ToUsers(peers, chat.TypingEvent{
		UserID:         k.userID,
		ConversationID: k.conversationID,
		IsTyping:       isTyping,
		Timestamp:      a.clock.Now().UTC(),
	}, k.userID)
}

// Len 当前活跃的输入状态数
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Close 停止所有定时器，不再广播；之后的 Signal 为空操作
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for k, e := range a.entries {
		e.timer.Stop()
		delete(a.entries, k)
	}
}
