package message

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"PPRelay/logger"
	"PPRelay/module/chat/model"
	"PPRelay/service/chat"
	"PPRelay/service/metrics"
	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

const (
	DefaultMaxTextLength  = 4000
	DefaultPersistTimeout = 10 * time.Second
)

// Store 消息写入与状态更新（storage.Store 的子集）
type Store interface {
	CreateMessage(ctx context.Context, in model.NewMessage) (model.Message, error)
	UpdateMessagesStatus(ctx context.Context, conversationID string, messageIDs []string, status model.MessageStatus) (int64, error)
}

// Broadcaster 按会话成员投递（chat.Fanout 实现）
type Broadcaster interface {
	ToConversation(ctx context.Context, conversationID string, frame chat.Outbound, except string) int
}

type Options struct {
	MaxTextLength  int // 按 rune 计
	PersistTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

func (o *Options) norm(name string) {
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = DefaultMaxTextLength
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = DefaultPersistTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.Named(name)
	}
}

// Pipeline 校验 -> 落库 -> 广播落库后的记录。
// 落库失败不广播；广播对象包含发送者本人，客户端靠 clientCorrelationId 替换乐观消息。
type Pipeline struct {
	store  Store
	fanout Broadcaster
	opts   Options
	log    *zap.Logger
	m      *metrics.Metrics
}

func NewPipeline(store Store, fanout Broadcaster, opts Options) *Pipeline {
	opts.norm("pipeline")
	return &Pipeline{store: store, fanout: fanout, opts: opts, log: opts.Logger, m: opts.Metrics}
}

// Submit 处理一条 MESSAGE 上行帧，返回落库后的消息
func (p *Pipeline) Submit(ctx context.Context, sender model.Identity, f chat.MessageFrame) (model.Message, error) {
	in, err := p.validate(sender, f)
	if err != nil {
		return model.Message{}, err
	}

	// 已接受的帧即使发送者断开也要写完
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.PersistTimeout)
	defer cancel()
	msg, err := p.store.CreateMessage(pctx, in)
	if err != nil {
		p.m.PersistFailed()
		p.log.Warn("persist message failed",
			zap.String("conversation_id", in.ConversationID),
			zap.String("sender_id", sender.ID),
			zap.Error(err))
		return model.Message{}, persistErr(err, "create message")
	}
	p.m.MessagePersisted()

	n := p.fanout.ToConversation(context.WithoutCancel(ctx), msg.ConversationID, chat.MessageBroadcast{
		Message:             msg,
		ClientCorrelationID: f.ClientCorrelationID,
	}, "")
	p.log.Debug("message broadcast",
		zap.String("message_id", msg.ID),
		zap.String("conversation_id", msg.ConversationID),
		zap.Int("delivered", n))
	return msg, nil
}

func (p *Pipeline) validate(sender model.Identity, f chat.MessageFrame) (model.NewMessage, error) {
	convID := strings.TrimSpace(f.ConversationID)
	if convID == "" {
		return model.NewMessage{}, errs.ErrValidation.WrapMsg("conversationId is required")
	}
	image := strings.TrimSpace(f.ImageRef())
	if strings.TrimSpace(f.Text) == "" && image == "" {
		return model.NewMessage{}, errs.ErrValidation.WrapMsg("message is empty")
	}
	if n := utf8.RuneCountInString(f.Text); n > p.opts.MaxTextLength {
		return model.NewMessage{}, errs.ErrValidation.WrapMsg("text too long", "max", p.opts.MaxTextLength, "got", n)
	}
	return model.NewMessage{
		ConversationID: convID,
		Sender:         sender,
		Text:           f.Text,
		ImageURL:       image,
	}, nil
}

// persistErr 保留存储层的错误码，其余一律归为持久化失败；底层错误文本不进入客户端可见的 Detail
func persistErr(err error, op string) error {
	if errs.CodeOf(err) == errs.ServerInternalError {
		return errs.ErrPersistence.WrapCause(err, op)
	}
	return errs.WrapMsg(err, op)
}
