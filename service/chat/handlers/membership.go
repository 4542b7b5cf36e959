package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"PPRelay/logger"
	"PPRelay/module/chat/model"
	"PPRelay/service/storage"
	"PPRelay/tools/decode"
	"PPRelay/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Invalidator interface {
	Invalidate(conversationID string)
}

// Notifier 把变更转发给其他节点（NATS），可选
type Notifier interface {
	PublishMembershipChanged(ctx context.Context, conversationID string) error
}

type membershipBody struct {
	Participants []string `json:"participants"`
	Name         string   `json:"name"`
	IsGroup      bool     `json:"isGroup"`
}

// MembershipHook 会话成员变更入口：进程内调用、内部 HTTP、NATS 订阅三路汇合到 OnMembershipChanged
type MembershipHook struct {
	cache    Invalidator
	writer   storage.ConversationWriter
	notifier Notifier
	timeout  time.Duration
	log      *zap.Logger
}

// NewMembershipHook writer/notifier 可以为 nil
func NewMembershipHook(cache Invalidator, writer storage.ConversationWriter, notifier Notifier) *MembershipHook {
	return &MembershipHook{
		cache:    cache,
		writer:   writer,
		notifier: notifier,
		timeout:  5 * time.Second,
		log:      logger.Named("membership-hook"),
	}
}

// OnMembershipChanged 失效本节点缓存；下一次读取会回源拿到最新成员
func (h *MembershipHook) OnMembershipChanged(conversationID string) {
	if conversationID == "" {
		return
	}
	h.cache.Invalidate(conversationID)
}

// HandleHTTP POST /internal/conversations/:id/membership
// body 可选：{"participants":[...]}，仅当存储支持直接写入时才落库
func (h *MembershipHook) HandleHTTP(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		writeErr(c, http.StatusBadRequest, errs.ErrArgs.WrapMsg("conversation id is required"))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		writeErr(c, http.StatusBadRequest, errs.ErrArgs.WrapMsg("read body failed"))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if len(strings.TrimSpace(string(raw))) > 0 {
		body, err := decode.JSON[membershipBody](raw)
		if err != nil {
			writeErr(c, http.StatusBadRequest, errs.ErrArgs.WrapMsg("malformed body"))
			return
		}
		if body.Participants != nil {
			if h.writer == nil {
				h.log.Debug("participants ignored, storage is read-only", zap.String("conversation_id", id))
			} else if err := h.writer.UpsertConversation(ctx, model.Conversation{
				ID:           id,
				Name:         body.Name,
				IsGroup:      body.IsGroup,
				Participants: body.Participants,
			}); err != nil {
				writeErr(c, http.StatusInternalServerError, err)
				return
			}
		}
	}

	h.OnMembershipChanged(id)
	if h.notifier != nil {
		if err := h.notifier.PublishMembershipChanged(ctx, id); err != nil {
			// 本节点已失效；其他节点靠 TTL 兜底
			h.log.Warn("publish membership change failed", zap.String("conversation_id", id), zap.Error(err))
		}
	}
	h.log.Info("membership changed", zap.String("conversation_id", id))
	c.JSON(http.StatusOK, gin.H{"code": 0, "conversationId": id})
}

func writeErr(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"code": errs.CodeOf(err), "message": errs.ClientMessage(err)})
}
