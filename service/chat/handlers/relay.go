package handlers

import (
	"context"

	"PPRelay/logger"
	"PPRelay/module/chat/model"
	"PPRelay/service/chat"

	"go.uber.org/zap"
)

type Pipeline interface {
	Submit(ctx context.Context, sender model.Identity, f chat.MessageFrame) (model.Message, error)
}

type Receipts interface {
	Process(ctx context.Context, reader model.Identity, f chat.ReadReceiptFrame) ([]string, error)
}

type Typing interface {
	Signal(ctx context.Context, userID, conversationID string, isTyping bool) error
	ExpireUser(ctx context.Context, userID string) int
}

type Presence interface {
	SendOnlinePeers(ctx context.Context, userID string) int
}

// Relay 上行帧路由到各组件，并处理连接生命周期
type Relay struct {
	pipeline Pipeline
	receipts Receipts
	typing   Typing
	presence Presence
	log      *zap.Logger
}

var (
	_ chat.InboundHandler = (*Relay)(nil)
	_ chat.SessionHooks   = (*Relay)(nil)
)

func NewRelay(p Pipeline, r Receipts, t Typing, pr Presence) *Relay {
	return &Relay{pipeline: p, receipts: r, typing: t, presence: pr, log: logger.Named("relay")}
}

func (h *Relay) HandleMessage(ctx context.Context, c *chat.Client, f chat.MessageFrame) error {
	_, err := h.pipeline.Submit(ctx, c.Identity, f)
	return err
}

func (h *Relay) HandleTyping(ctx context.Context, c *chat.Client, f chat.TypingFrame) error {
	return h.typing.Signal(ctx, c.UserID(), f.ConversationID, f.IsTyping)
}

func (h *Relay) HandleReadReceipt(ctx context.Context, c *chat.Client, f chat.ReadReceiptFrame) error {
	_, err := h.receipts.Process(ctx, c.Identity, f)
	return err
}

func (h *Relay) HandleRequestOnlineStatus(ctx context.Context, c *chat.Client, _ chat.RequestOnlineStatusFrame) error {
	h.presence.SendOnlinePeers(ctx, c.UserID())
	return nil
}

// Connected 新连接拿到当前在线对端的快照
func (h *Relay) Connected(ctx context.Context, c *chat.Client) {
	n := h.presence.SendOnlinePeers(ctx, c.UserID())
	h.log.Debug("online snapshot sent", zap.String("user_id", c.UserID()), zap.Int("peers", n))
}

// Disconnected 用户下线：清理其输入状态
func (h *Relay) Disconnected(ctx context.Context, c *chat.Client) {
	if n := h.typing.ExpireUser(ctx, c.UserID()); n > 0 {
		h.log.Debug("typing flushed on disconnect", zap.String("user_id", c.UserID()), zap.Int("entries", n))
	}
}
