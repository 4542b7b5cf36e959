package chat

import (
	"hash/fnv"
	"sync"

	"PPRelay/logger"
	"PPRelay/service/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Observer 在线状态变化的同步回调（在线广播器实现）
type Observer interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

const stripeCount = 64

// CloseSuperseded 应用自定义关闭码：同一用户在别处建立了新连接
const CloseSuperseded = 4000

// ConnManager 用户ID -> 唯一在线连接，后连接的顶替先连接的。
// 每次注册/注销都在返回前同步通知 Observer；同一用户的通知按变更顺序串行。
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]*Client

	// 按用户分段的串行锁：变更 + 通知 作为一个整体，不阻塞其他用户
	stripes [stripeCount]sync.Mutex

	observer Observer
	log      *zap.Logger
	m        *metrics.Metrics

	closeOnce sync.Once
	closed    bool
}

func NewConnManager(m *metrics.Metrics) *ConnManager {
	return &ConnManager{
		conns: make(map[string]*Client),
		log:   logger.Named("conn"),
		m:     m,
	}
}

// SetObserver 需在开始接受连接之前调用
func (m *ConnManager) SetObserver(o Observer) {
	m.observer = o
}

func (m *ConnManager) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &m.stripes[h.Sum32()%stripeCount]
}

// Register 登记连接；同一用户已有连接时关闭旧连接
func (m *ConnManager) Register(c *Client) {
	userID := c.UserID()
	if userID == "" {
		return
	}
	s := m.stripe(userID)
	s.Lock()
	defer s.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	old := m.conns[userID]
	m.conns[userID] = c
	n := len(m.conns)
	m.mu.Unlock()

	if old != nil && old != c {
		m.log.Info("connection superseded",
			zap.String("user_id", userID), zap.String("old_conn", old.ConnID), zap.String("new_conn", c.ConnID))
		old.Close(CloseSuperseded, "superseded by a newer connection")
	}
	m.m.ConnectionsSet(n)
	if m.observer != nil {
		m.observer.UserOnline(userID)
	}
}

// Unregister 移除并关闭该用户的连接
func (m *ConnManager) Unregister(userID string) {
	s := m.stripe(userID)
	s.Lock()
	defer s.Unlock()

	m.mu.Lock()
	c, ok := m.conns[userID]
	if ok {
		delete(m.conns, userID)
	}
	n := len(m.conns)
	m.mu.Unlock()
	if !ok {
		return
	}
	c.Close(websocket.CloseNormalClosure, "")
	m.afterRemove(userID, n)
}

// Release 连接断开时调用：仅当 c 仍是该用户的当前连接时才移除。
// 返回 true 表示用户因此下线。
func (m *ConnManager) Release(c *Client) bool {
	userID := c.UserID()
	s := m.stripe(userID)
	s.Lock()
	defer s.Unlock()

	m.mu.Lock()
	cur, ok := m.conns[userID]
	if !ok || cur != c {
		m.mu.Unlock()
		return false
	}
	delete(m.conns, userID)
	n := len(m.conns)
	m.mu.Unlock()

	m.afterRemove(userID, n)
	return true
}

func (m *ConnManager) afterRemove(userID string, n int) {
	m.m.ConnectionsSet(n)
	if m.observer != nil {
		m.observer.UserOffline(userID)
	}
}

func (m *ConnManager) Get(userID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[userID]
	return c, ok
}

func (m *ConnManager) IsOnline(userID string) bool {
	_, ok := m.Get(userID)
	return ok
}

// SendTo 至多一次投递：用户不在线或队列已满返回 false，不排队
func (m *ConnManager) SendTo(userID string, payload []byte) bool {
	c, ok := m.Get(userID)
	if !ok {
		return false
	}
	if !c.Enqueue(payload) {
		m.m.DeliveryDropped()
		m.log.Debug("delivery dropped", zap.String("user_id", userID), zap.String("conn_id", c.ConnID))
		return false
	}
	return true
}

// OnlineUsers 当前在线用户快照
func (m *ConnManager) OnlineUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.conns))
	for id := range m.conns {
		out = append(out, id)
	}
	return out
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Close 关闭所有连接；之后的 Register 直接拒绝。关停阶段不再通知 Observer。
func (m *ConnManager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		all := m.conns
		m.conns = make(map[string]*Client)
		m.mu.Unlock()

		for _, c := range all {
			c.Close(websocket.CloseGoingAway, "server shutting down")
		}
		m.m.ConnectionsSet(0)
	})
}
