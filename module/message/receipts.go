package message

import (
	"context"
	"strings"
	"time"

	"PPRelay/module/chat/model"
	"PPRelay/service/chat"
	"PPRelay/service/metrics"
	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

// Receipts 已读回执：一批 id 一次状态更新、一条 READ_RECEIPT
type Receipts struct {
	store  Store
	fanout Broadcaster
	opts   Options
	log    *zap.Logger
	m      *metrics.Metrics
	now    func() time.Time
}

func NewReceipts(store Store, fanout Broadcaster, opts Options) *Receipts {
	opts.norm("receipts")
	return &Receipts{store: store, fanout: fanout, opts: opts, log: opts.Logger, m: opts.Metrics, now: time.Now}
}

// Process 处理一条 READ_RECEIPT 上行帧，返回实际回执的 id 列表
func (r *Receipts) Process(ctx context.Context, reader model.Identity, f chat.ReadReceiptFrame) ([]string, error) {
	convID := strings.TrimSpace(f.ConversationID)
	if convID == "" {
		return nil, errs.ErrValidation.WrapMsg("conversationId is required")
	}
	ids := NormalizeIDs(f.MessageIDs, f.MessageID)
	if len(ids) == 0 {
		return nil, errs.ErrValidation.WrapMsg("messageIds is required")
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.PersistTimeout)
	defer cancel()
	n, err := r.store.UpdateMessagesStatus(pctx, convID, ids, model.StatusRead)
	if err != nil {
		r.m.PersistFailed()
		r.log.Warn("update message status failed",
			zap.String("conversation_id", convID), zap.Int("ids", len(ids)), zap.Error(err))
		return nil, persistErr(err, "update message status")
	}
	if n == 0 {
		// 与批量更新一致：未命中也照常回执
		r.log.Debug("receipt matched no messages", zap.String("conversation_id", convID), zap.Strings("ids", ids))
	}
	r.m.ReceiptProcessed()

	r.fanout.ToConversation(context.WithoutCancel(ctx), convID, chat.ReadReceiptEvent{
		ConversationID: convID,
		MessageIDs:     ids,
		UserID:         reader.ID,
		Timestamp:      r.now().UTC(),
	}, "")
	return ids, nil
}

// NormalizeIDs 合并 messageIds 与单个 messageId：去空白、去重、保持顺序
func NormalizeIDs(list []string, single string) []string {
	out := make([]string, 0, len(list)+1)
	seen := make(map[string]struct{}, len(list)+1)
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range list {
		add(id)
	}
	add(single)
	return out
}
