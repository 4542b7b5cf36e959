package chat

import (
	"context"

	"PPRelay/service/metrics"

	"go.uber.org/zap"
)

// Participants 会话成员来源（成员缓存实现）
type Participants interface {
	GetParticipants(ctx context.Context, conversationID string) []string
}

// Fanout 一次编码，按会话成员逐个非阻塞投递；单个接收方失败不影响其他人
type Fanout struct {
	conns   *ConnManager
	members Participants
	m       *metrics.Metrics
	log     *zap.Logger
}

func NewFanout(conns *ConnManager, members Participants, m *metrics.Metrics) *Fanout {
	return &Fanout{conns: conns, members: members, m: m, log: conns.log.Named("fanout")}
}

func (f *Fanout) Conns() *ConnManager { return f.conns }

// ToConversation 投递给会话所有在线成员，except 非空时跳过该用户；返回送达数
func (f *Fanout) ToConversation(ctx context.Context, conversationID string, frame Outbound, except string) int {
	participants := f.members.GetParticipants(ctx, conversationID)
	if len(participants) == 0 {
		return 0
	}
	payload, err := Encode(frame)
	if err != nil {
		f.log.Error("encode frame failed", zap.String("type", string(frame.Kind())), zap.Error(err))
		return 0
	}
	return f.Broadcast(participants, payload, frame.Kind(), except)
}

// Participants 会话成员（可能回源，不要在持有调用方锁时调用）
func (f *Fanout) Participants(ctx context.Context, conversationID string) []string {
	return f.members.GetParticipants(ctx, conversationID)
}

// ToUsers 编码后发给已解析好的一组用户；只做非阻塞入队，可在调用方锁内使用
func (f *Fanout) ToUsers(userIDs []string, frame Outbound, except string) int {
	if len(userIDs) == 0 {
		return 0
	}
	payload, err := Encode(frame)
	if err != nil {
		f.log.Error("encode frame failed", zap.String("type", string(frame.Kind())), zap.Error(err))
		return 0
	}
	return f.Broadcast(userIDs, payload, frame.Kind(), except)
}

// Broadcast 已编码的帧发给一组用户
func (f *Fanout) Broadcast(userIDs []string, payload []byte, kind FrameType, except string) int {
	n := 0
	for _, uid := range userIDs {
		if uid == except {
			continue
		}
		if f.conns.SendTo(uid, payload) {
			f.m.FrameOut(string(kind))
			n++
		}
	}
	return n
}

// ToUser 单播
func (f *Fanout) ToUser(userID string, frame Outbound) bool {
	payload, err := Encode(frame)
	if err != nil {
		f.log.Error("encode frame failed", zap.String("type", string(frame.Kind())), zap.Error(err))
		return false
	}
	if f.conns.SendTo(userID, payload) {
		f.m.FrameOut(string(frame.Kind()))
		return true
	}
	return false
}

// ToClient 直接写入指定连接（握手阶段连接尚未登记）
func (f *Fanout) ToClient(c *Client, frame Outbound) bool {
	payload, err := Encode(frame)
	if err != nil {
		f.log.Error("encode frame failed", zap.String("type", string(frame.Kind())), zap.Error(err))
		return false
	}
	if c.Enqueue(payload) {
		f.m.FrameOut(string(frame.Kind()))
		return true
	}
	return false
}
