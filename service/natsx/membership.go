package natsx

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"PPRelay/tools/decode"
	"PPRelay/tools/errs"
)

const BizMembership = "membership"

// MembershipEvent 会话成员变更通知：relay.membership.changed
type MembershipEvent struct {
	ConversationID string `json:"conversationId"`
}

// MembershipRoute 广播订阅：每个中继节点都要失效自己的缓存
func MembershipRoute(subject string) NatsxRoute {
	return NatsxRoute{Biz: BizMembership, Subject: subject}
}

// DecodeMembershipEvent 兼容 {"conversationId":"c1"} 与裸字符串 c1
func DecodeMembershipEvent(data []byte) (MembershipEvent, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return MembershipEvent{}, errs.ErrArgs.WrapMsg("empty membership event")
	}
	if !strings.HasPrefix(raw, "{") {
		return MembershipEvent{ConversationID: strings.Trim(raw, `"`)}, nil
	}
	ev, err := decode.JSON[MembershipEvent]([]byte(raw))
	if err != nil {
		return MembershipEvent{}, errs.ErrArgs.WrapMsg("malformed membership event", "err", err)
	}
	ev.ConversationID = strings.TrimSpace(ev.ConversationID)
	if ev.ConversationID == "" {
		return MembershipEvent{}, errs.ErrArgs.WrapMsg("membership event without conversationId")
	}
	return *ev, nil
}

// MembershipHandler 解码后回调 onChanged
func MembershipHandler(onChanged func(conversationID string)) NatsxHandler {
	return func(_ context.Context, msg NatsxMessage) error {
		ev, err := DecodeMembershipEvent(msg.Data)
		if err != nil {
			return err
		}
		onChanged(ev.ConversationID)
		return nil
	}
}

// Subscriber 订阅能力（NatsManager 实现）
type Subscriber interface {
	RegisterRoute(r NatsxRoute) error
	Subscribe(biz string, h NatsxHandler) error
}

// SubscribeMembership 注册路由并订阅成员变更
func SubscribeMembership(s Subscriber, subject string, onChanged func(conversationID string)) error {
	if err := s.RegisterRoute(MembershipRoute(subject)); err != nil {
		return err
	}
	return s.Subscribe(BizMembership, MembershipHandler(onChanged))
}

// MembershipNotifier 把本节点收到的变更广播给所有节点
type MembershipNotifier struct {
	pub *NatsxSyncPublisher
}

func NewMembershipNotifier(p Publisher) *MembershipNotifier {
	return &MembershipNotifier{pub: &NatsxSyncPublisher{P: p, Retries: 2, Backoff: 100 * time.Millisecond}}
}

func (n *MembershipNotifier) PublishMembershipChanged(ctx context.Context, conversationID string) error {
	data, err := json.Marshal(MembershipEvent{ConversationID: conversationID})
	if err != nil {
		return err
	}
	return n.pub.Publish(ctx, BizMembership, data, nil)
}
