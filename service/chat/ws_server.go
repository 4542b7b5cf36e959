package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"PPRelay/logger"
	"PPRelay/module/chat/model"
	"PPRelay/tools/errs"
	"PPRelay/tools/ids"
	"PPRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	CloseReasonMissingCredential = "missing credential"
	CloseReasonAuthFailed        = "authentication failed"
)

// Authenticator 令牌 -> 身份，每条连接只调用一次
type Authenticator interface {
	Verify(ctx context.Context, token string) (model.Identity, error)
}

type ServerConf struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	ReadLimit       int64
	SendQueue       int
	VerifyTimeout   time.Duration
	MaxDecodeErrors int // 连续解析失败多少次后断开
}

func (c *ServerConf) norm() {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 5 * time.Second
	}
	if c.MaxDecodeErrors <= 0 {
		c.MaxDecodeErrors = 3
	}
}

// Server 负责握手、认证、会话读循环
type Server struct {
	conf   ServerConf
	auth   Authenticator
	fanout *Fanout
	disp   *Dispatcher
	hooks  SessionHooks
	idGen  *ids.Generator
	log    *zap.Logger

	upgrader websocket.Upgrader
	sessions sync.WaitGroup
}

func NewServer(conf ServerConf, auth Authenticator, fanout *Fanout, disp *Dispatcher, hooks SessionHooks, idGen *ids.Generator) *Server {
	conf.norm()
	if idGen == nil {
		idGen = ids.NewGenerator(1)
	}
	return &Server{
		conf:   conf,
		auth:   auth,
		fanout: fanout,
		disp:   disp,
		hooks:  hooks,
		idGen:  idGen,
		log:    logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 来源校验由 middleware.Origin 负责
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ConnMgr() *ConnManager { return s.fanout.Conns() }

// HandleWS GET /ws?token=<jwt>
func (s *Server) HandleWS(c *gin.Context) {
	token := credentialFrom(c)

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败，Upgrade 已写回 HTTP 错误
		s.log.Info("upgrade websocket error", zap.Error(err))
		return
	}
	s.sessions.Add(1)
	defer s.sessions.Done()

	if token == "" {
		s.reject(ws, CloseReasonMissingCredential)
		return
	}
	vctx, cancel := context.WithTimeout(c.Request.Context(), s.conf.VerifyTimeout)
	id, err := s.auth.Verify(vctx, token)
	cancel()
	if err != nil {
		s.log.Info("authentication failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		s.reject(ws, CloseReasonAuthFailed)
		return
	}

	// 会话上下文不跟随 HTTP 请求：连接被劫持后请求上下文不再可靠
	ctx, stop := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer stop()
	s.serve(ctx, ws, id)
}

func (s *Server) serve(ctx context.Context, ws *websocket.Conn, id model.Identity) {
	client := NewClient(s.idGen.NextString(), id, ws, s.conf.SendQueue)
	log := s.log.With(zap.String("user_id", id.ID), zap.String("conn_id", client.ConnID))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		client.WritePump(s.conf.PingInterval)
	}()

	// 确认帧必须先于任何广播入队
	s.fanout.ToClient(client, ConnectionEstablished{UserID: id.ID, Timestamp: time.Now().UTC()})
	s.ConnMgr().Register(client)
	log.Info("client connected")
	if s.hooks != nil {
		s.hooks.Connected(ctx, client)
	}

	s.readLoop(ctx, ws, client, log)

	if s.ConnMgr().Release(client) && s.hooks != nil {
		s.hooks.Disconnected(ctx, client)
	}
	client.Close(websocket.CloseNormalClosure, "")
	<-writerDone
	log.Info("client disconnected")
}

// readLoop 顺序读取并处理上行帧；出错即退出
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, client *Client, log *zap.Logger) {
	ws.SetReadLimit(s.conf.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	})

	decodeErrs := 0
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived):
				log.Debug("peer closed", zap.Error(err))
			case errors.As(err, &ne) && ne.Timeout():
				log.Info("read timeout", zap.Error(err))
			case client.Closed():
				// 被顶替或关停，写协程已关闭连接
			default:
				log.Info("read err", zap.Error(err))
			}
			return
		}
		if client.Closed() {
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))

		in, err := DecodeInbound(data)
		if err != nil {
			decodeErrs++
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			log.Debug("decode frame failed", zap.Error(err), zap.ByteString("sample", sample), zap.Int("len", len(data)))
			s.fanout.ToClient(client, NewErrorFrame(err))
			if decodeErrs >= s.conf.MaxDecodeErrors {
				client.Close(websocket.ClosePolicyViolation, "too many malformed frames")
				return
			}
			continue
		}
		decodeErrs = 0

		if err := s.handle(ctx, client, in); err != nil {
			if errs.Is(err, errs.ErrValidation) {
				log.Debug("frame rejected", zap.String("type", string(in.Kind())), zap.Error(err))
			} else {
				log.Warn("frame failed", zap.String("type", string(in.Kind())), zap.Error(err))
			}
			s.fanout.ToClient(client, NewErrorFrame(err))
		}
	}
}

func (s *Server) handle(ctx context.Context, client *Client, in Inbound) error {
	return safe.Call(func() error {
		return s.disp.Dispatch(ctx, client, in)
	})
}

// reject 认证失败：发送 1008 关闭帧后断开，不处理任何应用帧
func (s *Server) reject(ws *websocket.Conn, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(writeWait))
	_ = ws.Close()
}

// Wait 等待所有会话退出（关停时先 ConnMgr().Close()）
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// credentialFrom ?token= 优先，兼容 Authorization: Bearer xxx
func credentialFrom(c *gin.Context) string {
	if t := strings.TrimSpace(c.Query("token")); t != "" {
		return t
	}
	if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return ""
}
