package storage

import (
	"context"

	"PPRelay/module/chat/model"
)

// Store 中继依赖的持久化接口；会话的增删改由外部服务负责
type Store interface {
	// GetConversationParticipants 会话不存在时返回 errs.ErrNotFound
	GetConversationParticipants(ctx context.Context, conversationID string) ([]string, error)
	// ListUserConversations 用户参与的全部会话（连接时预热成员缓存）
	ListUserConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	// CreateMessage 分配 ID/时间戳，初始状态 SENT
	CreateMessage(ctx context.Context, in model.NewMessage) (model.Message, error)
	// UpdateMessagesStatus 一次批量更新，只作用于该会话下的消息，返回受影响行数
	UpdateMessagesStatus(ctx context.Context, conversationID string, messageIDs []string, status model.MessageStatus) (int64, error)
	GetMessage(ctx context.Context, id string) (model.Message, error)
	Close(ctx context.Context) error
}

// ConversationWriter 可选能力：允许内部钩子直接写入成员关系（内存存储用）
type ConversationWriter interface {
	UpsertConversation(ctx context.Context, c model.Conversation) error
}
