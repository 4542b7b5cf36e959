package chat

import (
	"context"
	"fmt"

	"PPRelay/service/metrics"
)

// InboundHandler 每种上行帧一个方法；新增帧类型时编译期即可发现遗漏
type InboundHandler interface {
	HandleMessage(ctx context.Context, c *Client, f MessageFrame) error
	HandleTyping(ctx context.Context, c *Client, f TypingFrame) error
	HandleReadReceipt(ctx context.Context, c *Client, f ReadReceiptFrame) error
	HandleRequestOnlineStatus(ctx context.Context, c *Client, f RequestOnlineStatusFrame) error
}

// SessionHooks 连接生命周期回调
type SessionHooks interface {
	// Connected 连接已登记，CONNECTION_ESTABLISHED 已入队
	Connected(ctx context.Context, c *Client)
	// Disconnected 仅在该连接确实导致用户下线时调用
	Disconnected(ctx context.Context, c *Client)
}

type Dispatcher struct {
	h InboundHandler
	m *metrics.Metrics
}

func NewDispatcher(h InboundHandler, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{h: h, m: m}
}

func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, in Inbound) error {
	d.m.FrameIn(string(in.Kind()))
	switch f := in.(type) {
	case MessageFrame:
		return d.h.HandleMessage(ctx, c, f)
	case TypingFrame:
		return d.h.HandleTyping(ctx, c, f)
	case ReadReceiptFrame:
		return d.h.HandleReadReceipt(ctx, c, f)
	case RequestOnlineStatusFrame:
		return d.h.HandleRequestOnlineStatus(ctx, c, f)
	default:
		return fmt.Errorf("no handler for frame %T", in)
	}
}
