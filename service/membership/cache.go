package membership

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"PPRelay/logger"
	"PPRelay/module/chat/model"
	"PPRelay/service/metrics"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL            = 5 * time.Minute
	defaultRefreshTimeout = 5 * time.Second
)

// Source 成员关系的持久化来源（storage.Store 的子集）
type Source interface {
	GetConversationParticipants(ctx context.Context, conversationID string) ([]string, error)
	ListUserConversations(ctx context.Context, userID string) ([]model.Conversation, error)
}

// entry 一旦写入就不再修改，刷新时整体替换
type entry struct {
	participants []string
	refreshed    time.Time
}

type generation struct {
	n  uint64
	at time.Time
}

type userEntry struct {
	conversations []string
	refreshed     time.Time
}

type Options struct {
	TTL            time.Duration
	RefreshTimeout time.Duration
	Clock          clock.Clock
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Cache 会话 -> 参与者集合，外加用户 -> 会话列表的反向索引。
// 读取时检查新鲜度，过期即回源；同一个 key 的并发回源合并成一次。
type Cache struct {
	src   Source
	ttl   time.Duration
	rto   time.Duration
	clock clock.Clock
	log   *zap.Logger
	m     *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]entry
	byUser  map[string]userEntry
	gen     map[string]generation // Invalidate 递增，回源结果代数不符则丢弃
	epoch   uint64                // 用户索引代数：任一 Invalidate 递增

	group singleflight.Group
}

func New(src Source, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("membership")
	}
	return &Cache{
		src:     src,
		ttl:     opts.TTL,
		rto:     opts.RefreshTimeout,
		clock:   opts.Clock,
		log:     opts.Logger,
		m:       opts.Metrics,
		entries: make(map[string]entry),
		byUser:  make(map[string]userEntry),
		gen:     make(map[string]generation),
	}
}

func (c *Cache) fresh(t time.Time) bool {
	return c.clock.Since(t) < c.ttl
}

// GetParticipants 返回会话参与者（只读切片，调用方不得修改）。
// 回源失败时记录日志并返回空集合。
func (c *Cache) GetParticipants(ctx context.Context, conversationID string) []string {
	if conversationID == "" {
		return nil
	}
	c.mu.RLock()
	e, ok := c.entries[conversationID]
	c.mu.RUnlock()
	if ok && c.fresh(e.refreshed) {
		return e.participants
	}

	v, err, _ := c.group.Do("c:"+conversationID, func() (any, error) {
		return c.refresh(ctx, conversationID)
	})
	if err != nil {
		c.log.Warn("membership refresh failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return nil
	}
	return v.([]string)
}

func (c *Cache) refresh(ctx context.Context, conversationID string) ([]string, error) {
	c.mu.RLock()
	gen := c.gen[conversationID].n
	c.mu.RUnlock()

	// 回源不跟随单个调用方的取消
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.rto)
	defer cancel()
	raw, err := c.src.GetConversationParticipants(rctx, conversationID)
	c.m.CacheRefresh(err == nil)
	if err != nil {
		return nil, err
	}
	participants := normalize(raw)

	c.mu.Lock()
	if c.gen[conversationID].n == gen {
		c.storeLocked(conversationID, participants, c.clock.Now())
	}
	c.mu.Unlock()
	return participants, nil
}

// storeLocked 替换会话条目，并把成员变化同步到已有的用户索引
func (c *Cache) storeLocked(conversationID string, participants []string, now time.Time) {
	old := c.entries[conversationID]
	c.entries[conversationID] = entry{participants: participants, refreshed: now}
	for _, p := range participants {
		if !contains(old.participants, p) {
			c.indexAddLocked(p, conversationID)
		}
	}
	for _, p := range old.participants {
		if !contains(participants, p) {
			c.indexRemoveLocked(p, conversationID)
		}
	}
}

func (c *Cache) indexAddLocked(userID, conversationID string) {
	ue, ok := c.byUser[userID]
	if !ok || contains(ue.conversations, conversationID) {
		return
	}
	convs := make([]string, 0, len(ue.conversations)+1)
	convs = append(convs, ue.conversations...)
	convs = append(convs, conversationID)
	c.byUser[userID] = userEntry{conversations: convs, refreshed: ue.refreshed}
}

func (c *Cache) indexRemoveLocked(userID, conversationID string) {
	ue, ok := c.byUser[userID]
	if !ok {
		return
	}
	convs := make([]string, 0, len(ue.conversations))
	for _, id := range ue.conversations {
		if id != conversationID {
			convs = append(convs, id)
		}
	}
	c.byUser[userID] = userEntry{conversations: convs, refreshed: ue.refreshed}
}

// ConversationsOf 用户参与的会话 id（只读切片），索引缺失或过期时先 Warm
func (c *Cache) ConversationsOf(ctx context.Context, userID string) []string {
	c.mu.RLock()
	ue, ok := c.byUser[userID]
	c.mu.RUnlock()
	if ok && c.fresh(ue.refreshed) {
		return ue.conversations
	}
	convs, err := c.warm(ctx, userID)
	if err != nil {
		c.log.Warn("membership warm failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return convs
}

// Warm 一次查询加载用户的全部会话及其成员，避免连接时 N+1 回源
func (c *Cache) Warm(ctx context.Context, userID string) error {
	_, err := c.warm(ctx, userID)
	return err
}

func (c *Cache) warm(ctx context.Context, userID string) ([]string, error) {
	c.mu.RLock()
	epoch := c.epoch
	c.mu.RUnlock()
	// key 带上索引代数：Invalidate 之后的调用不会并入之前发起的回源
	key := "u:" + userID + "@" + strconv.FormatUint(epoch, 10)
	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		gens := make(map[string]uint64, len(c.gen))
		for k, g := range c.gen {
			gens[k] = g.n
		}
		c.mu.RUnlock()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.rto)
		defer cancel()
		list, err := c.src.ListUserConversations(rctx, userID)
		c.m.CacheRefresh(err == nil)
		if err != nil {
			return nil, err
		}

		now := c.clock.Now()
		convs := make([]string, 0, len(list))
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, conv := range list {
			convs = append(convs, conv.ID)
			if c.gen[conv.ID].n == gens[conv.ID] {
				c.storeLocked(conv.ID, normalize(conv.Participants), now)
			}
		}
		// 期间有过 Invalidate：列表可能缺少新加入的会话，不写入索引
		if c.epoch == epoch {
			c.byUser[userID] = userEntry{conversations: convs, refreshed: now}
		}
		return convs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Invalidate 成员变更通知：丢弃会话条目和整个用户索引（新成员此前不在条目里，
// 无从定位），并切断进行中的回源，下一次读取必然拿到最新成员。
func (c *Cache) Invalidate(conversationID string) {
	c.mu.Lock()
	delete(c.entries, conversationID)
	c.byUser = make(map[string]userEntry)
	c.epoch++
	c.gen[conversationID] = generation{n: c.gen[conversationID].n + 1, at: c.clock.Now()}
	c.mu.Unlock()
	c.group.Forget("c:" + conversationID)
	c.m.MembershipInvalidated()
	c.log.Debug("membership invalidated", zap.String("conversation_id", conversationID))
}

// Sweep 无条件清理过期条目，返回清理数量
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if !c.fresh(e.refreshed) {
			delete(c.entries, id)
			n++
		}
	}
	for id, ue := range c.byUser {
		if !c.fresh(ue.refreshed) {
			delete(c.byUser, id)
		}
	}
	// 回源受 RefreshTimeout 约束，超过一个 TTL 的代数记录不会再被比较到
	for id, g := range c.gen {
		if c.clock.Since(g.at) > c.ttl+c.rto {
			delete(c.gen, id)
		}
	}
	return n
}

// Run 每个 TTL 周期清理一次，直到 ctx 结束
func (c *Cache) Run(ctx context.Context) {
	ticker := c.clock.Ticker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug("membership sweep", zap.Int("evicted", n))
			}
		}
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// normalize 去重、去空并排序，得到不可变的集合表示
func normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
