package presence

import (
	"context"
	"time"

	"PPRelay/logger"
	"PPRelay/service/chat"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultInterval      = 60 * time.Second
	defaultMirrorTimeout = 2 * time.Second
)

// Membership 用户 -> 会话 -> 参与者（成员缓存实现）
type Membership interface {
	ConversationsOf(ctx context.Context, userID string) []string
	GetParticipants(ctx context.Context, conversationID string) []string
}

// Mirror 在线状态外部镜像（Redis），可选
type Mirror interface {
	Online(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userIDs []string) error
}

type Options struct {
	Interval      time.Duration
	MirrorTimeout time.Duration
	Mirror        Mirror
	Clock         clock.Clock
	Logger        *zap.Logger
}

// Broadcaster 上下线通知：注册表每次变更同步回调，把 ONLINE_STATUS 推给同会话的在线成员
type Broadcaster struct {
	members  Membership
	fanout   *chat.Fanout
	conns    *chat.ConnManager
	mirror   Mirror
	interval time.Duration
	mto      time.Duration
	clock    clock.Clock
	log      *zap.Logger
}

var _ chat.Observer = (*Broadcaster)(nil)

func New(members Membership, fanout *chat.Fanout, opts Options) *Broadcaster {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MirrorTimeout <= 0 {
		opts.MirrorTimeout = defaultMirrorTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("presence")
	}
	return &Broadcaster{
		members:  members,
		fanout:   fanout,
		conns:    fanout.Conns(),
		mirror:   opts.Mirror,
		interval: opts.Interval,
		mto:      opts.MirrorTimeout,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
}

// UserOnline 注册表回调：登记（含顶替）后调用
func (b *Broadcaster) UserOnline(userID string) {
	ctx := context.Background()
	n := b.announce(ctx, userID, true)
	b.log.Debug("user online", zap.String("user_id", userID), zap.Int("notified", n))
	if b.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, b.mto)
		if err := b.mirror.Online(mctx, userID); err != nil {
			b.log.Warn("presence mirror online failed", zap.String("user_id", userID), zap.Error(err))
		}
		cancel()
	}
}

// UserOffline 注册表回调：用户最后一条连接移除后调用
func (b *Broadcaster) UserOffline(userID string) {
	ctx := context.Background()
	n := b.announce(ctx, userID, false)
	b.log.Debug("user offline", zap.String("user_id", userID), zap.Int("notified", n))
	if b.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, b.mto)
		if err := b.mirror.Offline(mctx, userID); err != nil {
			b.log.Warn("presence mirror offline failed", zap.String("user_id", userID), zap.Error(err))
		}
		cancel()
	}
}

// announce 每个在线对端至多收到一次
func (b *Broadcaster) announce(ctx context.Context, userID string, online bool) int {
	peers := b.Peers(ctx, userID)
	if len(peers) == 0 {
		return 0
	}
	payload, err := chat.Encode(chat.OnlineStatus{
		UserID:    userID,
		IsOnline:  online,
		Timestamp: b.clock.Now().UTC(),
	})
	if err != nil {
		b.log.Error("encode online status failed", zap.Error(err))
		return 0
	}
	return b.fanout.Broadcast(peers, payload, chat.FrameOnlineStatus, userID)
}

// Peers 与 userID 同处任一会话的其他用户（去重，不含自己）
func (b *Broadcaster) Peers(ctx context.Context, userID string) []string {
	convs := b.members.ConversationsOf(ctx, userID)
	seen := make(map[string]struct{})
	var peers []string
	for _, conv := range convs {
		for _, p := range b.members.GetParticipants(ctx, conv) {
			if p == userID {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			peers = append(peers, p)
		}
	}
	return peers
}

// SendOnlinePeers 只发给请求者：每个当前在线的对端一条 ONLINE_STATUS{isOnline:true}
func (b *Broadcaster) SendOnlinePeers(ctx context.Context, userID string) int {
	n := 0
	now := b.clock.Now().UTC()
	for _, p := range b.Peers(ctx, userID) {
		if !b.conns.IsOnline(p) {
			continue
		}
		if b.fanout.ToUser(userID, chat.OnlineStatus{UserID: p, IsOnline: true, Timestamp: now}) {
			n++
		}
	}
	return n
}

// Reconcile 重新广播所有在线用户，并续期镜像 TTL
func (b *Broadcaster) Reconcile(ctx context.Context) {
	users := b.conns.OnlineUsers()
	for _, u := range users {
		if ctx.Err() != nil {
			return
		}
		b.announce(ctx, u, true)
	}
	if b.mirror != nil && len(users) > 0 {
		mctx, cancel := context.WithTimeout(ctx, b.mto)
		if err := b.mirror.Refresh(mctx, users); err != nil {
			b.log.Warn("presence mirror refresh failed", zap.Int("users", len(users)), zap.Error(err))
		}
		cancel()
	}
	b.log.Debug("presence reconciled", zap.Int("online", len(users)))
}

// Run 每个 Interval 调一次 Reconcile，直到 ctx 结束
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := b.clock.Ticker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Reconcile(ctx)
		}
	}
}
