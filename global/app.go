package global

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"PPRelay/global/config"
	"PPRelay/logger"
	"PPRelay/middleware"
	midsec "PPRelay/middleware/security"
	"PPRelay/module/message"
	"PPRelay/service/chat"
	"PPRelay/service/chat/handlers"
	"PPRelay/service/membership"
	"PPRelay/service/metrics"
	"PPRelay/service/natsx"
	"PPRelay/service/presence"
	"PPRelay/service/storage"
	"PPRelay/service/typing"
	"PPRelay/tools/ids"
	"PPRelay/tools/safe"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Bus 成员变更总线（NatsManager 实现）
type Bus interface {
	natsx.Subscriber
	natsx.Publisher
	Close() error
}

// Deps 外部依赖；Mirror / Bus 可为 nil
type Deps struct {
	Store    storage.Store
	Auth     chat.Authenticator
	Mirror   presence.Mirror
	Bus      Bus
	IDs      *ids.Generator
	Registry *prometheus.Registry
	Clock    clock.Clock
	Closers  []func() error // 关停时最后调用（如 redis 连接）
}

// App 一个中继节点
type App struct {
	cfg  config.AppConfig
	deps Deps
	log  *zap.Logger

	Engine   *gin.Engine
	Server   *chat.Server
	Conns    *chat.ConnManager
	Cache    *membership.Cache
	Presence *presence.Broadcaster
	Typing   *typing.Aggregator
	Hook     *handlers.MembershipHook

	cancel context.CancelFunc
	loops  sync.WaitGroup
}

func NewApp(cfg config.AppConfig, deps Deps) (*App, error) {
	if deps.Store == nil || deps.Auth == nil {
		return nil, errors.New("store and authenticator are required")
	}
	if deps.IDs == nil {
		deps.IDs = ids.NewGenerator(cfg.NodeID)
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	m := metrics.New(deps.Registry)

	cache := membership.New(deps.Store, membership.Options{
		TTL:     cfg.CacheTTL,
		Clock:   deps.Clock,
		Metrics: m,
	})
	conns := chat.NewConnManager(m)
	fanout := chat.NewFanout(conns, cache, m)

	pres := presence.New(cache, fanout, presence.Options{
		Interval: cfg.PresenceInterval,
		Mirror:   deps.Mirror,
		Clock:    deps.Clock,
	})
	conns.SetObserver(pres)

	typer := typing.New(fanout, typing.Options{
		TTL:      cfg.TypingTTL,
		Throttle: cfg.TypingThrottle,
		Clock:    deps.Clock,
		Metrics:  m,
	})
	msgOpts := message.Options{PersistTimeout: cfg.PersistTimeout, Metrics: m}
	relay := handlers.NewRelay(
		message.NewPipeline(deps.Store, fanout, msgOpts),
		message.NewReceipts(deps.Store, fanout, msgOpts),
		typer,
		pres,
	)
	server := chat.NewServer(chat.ServerConf{
		PingInterval: cfg.PingInterval,
		PongWait:     cfg.PongWait,
		ReadLimit:    cfg.ReadLimit,
		SendQueue:    cfg.SendQueue,
	}, deps.Auth, fanout, chat.NewDispatcher(relay, m), relay, deps.IDs)

	writer, _ := deps.Store.(storage.ConversationWriter)
	var notifier handlers.Notifier
	if deps.Bus != nil {
		notifier = natsx.NewMembershipNotifier(deps.Bus)
	}
	hook := handlers.NewMembershipHook(cache, writer, notifier)
	if deps.Bus != nil {
		if err := natsx.SubscribeMembership(deps.Bus, cfg.MembershipSubject, hook.OnMembershipChanged); err != nil {
			return nil, err
		}
	}

	a := &App{
		cfg:      cfg,
		deps:     deps,
		log:      logger.Named("app"),
		Server:   server,
		Conns:    conns,
		Cache:    cache,
		Presence: pres,
		Typing:   typer,
		Hook:     hook,
	}
	a.Engine = a.routes()
	return a, nil
}

func (a *App) routes() *gin.Engine {
	r := gin.New()
	mgr := middleware.NewManager()
	mgr.Add(middleware.Origin("/ws", a.cfg.AllowedOrigins))
	r.Use(middleware.Recovery(a.log), middleware.AccessLog(logger.Named("http")), mgr.Use())

	middleware.GET(r, "/ws", a.Server.HandleWS, middleware.RouteOpt{})
	middleware.GET(r, "/healthz", a.health, middleware.RouteOpt{})
	middleware.GET(r, "/metrics", gin.WrapH(promhttp.HandlerFor(a.deps.Registry, promhttp.HandlerOpts{})), middleware.RouteOpt{})
	middleware.POST(r, "/internal/conversations/:id/membership", a.Hook.HandleHTTP,
		middleware.RouteOpt{Auth: midsec.DefaultOptions(a.cfg.InternalSecret)})
	return r
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": a.Conns.Count(),
		"cached":      a.Cache.Len(),
	})
}

// Start 启动后台循环：成员缓存清理、在线状态对账
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.loops.Add(2)
	safe.Go("membership-sweep", func() {
		defer a.loops.Done()
		a.Cache.Run(ctx)
	})
	safe.Go("presence-reconcile", func() {
		defer a.loops.Done()
		a.Presence.Run(ctx)
	})
}

// Shutdown 在 HTTP 服务停止接收新请求之后调用
func (a *App) Shutdown(ctx context.Context) error {
	a.Conns.Close()
	if err := a.Server.Wait(ctx); err != nil {
		a.log.Warn("sessions did not drain", zap.Error(err))
	}
	a.Typing.Close()
	if a.cancel != nil {
		a.cancel()
	}
	a.loops.Wait()

	var errList []error
	if a.deps.Bus != nil {
		errList = append(errList, a.deps.Bus.Close())
	}
	errList = append(errList, a.deps.Store.Close(ctx))
	for _, c := range a.deps.Closers {
		errList = append(errList, c())
	}
	return errors.Join(errList...)
}
