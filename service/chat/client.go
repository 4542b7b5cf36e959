package chat

import (
	"sync"
	"time"

	"PPRelay/logger"
	"PPRelay/module/chat/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ---- 常量参数（建议值） ----
const (
	DefaultPingInterval = 25 * time.Second
	DefaultPongWait     = 60 * time.Second
	writeWait           = 10 * time.Second
	DefaultSendQueue    = 256
)

// Client 一个已认证用户的一条连接。
// 下行帧进入 send 队列，由唯一的写协程消费；ws 为 nil 时只用于测试。
type Client struct {
	ConnID   string
	Identity model.Identity
	Created  time.Time

	ws   *websocket.Conn
	send chan []byte

	closeOnce   sync.Once
	done        chan struct{}
	closeCode   int
	closeReason string
}

// NewClient creates a new client connection object.
func NewClient(connID string, id model.Identity, ws *websocket.Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = DefaultSendQueue
	}
	return &Client{
		ConnID:   connID,
		Identity: id,
		Created:  time.Now(),
		ws:       ws,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
}

func (c *Client) UserID() string { return c.Identity.ID }

// Enqueue 非阻塞入队；连接已关闭或队列已满返回 false（慢客户端直接丢帧）
func (c *Client) Enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Outbound 下行队列，测试里代替 socket 读取
func (c *Client) Outbound() <-chan []byte { return c.send }

func (c *Client) Done() <-chan struct{} { return c.done }

// Close 幂等；写协程收到后发送 close 帧并断开底层连接
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// WritePump 唯一写协程：业务帧优先，定时 ping；done 后发 close 帧并关闭连接
func (c *Client) WritePump(pingInterval time.Duration) {
	if c.ws == nil {
		return
	}
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Log.Debug("[WS] write payload err",
					zap.String("conn_id", c.ConnID), zap.String("user_id", c.UserID()), zap.Error(err))
				c.Close(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		case <-c.done:
			// 先把已入队的帧写完（例如紧挨着关闭前的 ERROR）
			c.drain()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeReason), time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) drain() {
	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}
