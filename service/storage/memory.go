package storage

import (
	"context"
	"sync"
	"time"

	"PPRelay/module/chat/model"
	"PPRelay/tools/errs"
	"PPRelay/tools/ids"
)

// MemoryStore 进程内存储，开发与测试用
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]model.Conversation
	messages      map[string]model.Message
	idGen         *ids.Generator
	now           func() time.Time
}

var (
	_ Store              = (*MemoryStore)(nil)
	_ ConversationWriter = (*MemoryStore)(nil)
)

func NewMemoryStore(idGen *ids.Generator) *MemoryStore {
	if idGen == nil {
		idGen = ids.NewGenerator(1)
	}
	return &MemoryStore{
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string]model.Message),
		idGen:         idGen,
		now:           time.Now,
	}
}

func (s *MemoryStore) UpsertConversation(_ context.Context, c model.Conversation) error {
	if c.ID == "" {
		return errs.ErrArgs.WrapMsg("conversation id is empty")
	}
	c.Participants = append([]string(nil), c.Participants...)
	s.mu.Lock()
	s.conversations[c.ID] = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetConversationParticipants(_ context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", conversationID)
	}
	return append([]string(nil), c.Participants...), nil
}

func (s *MemoryStore) ListUserConversations(_ context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			c.Participants = append([]string(nil), c.Participants...)
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, in model.NewMessage) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, errs.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[in.ConversationID]; !ok {
		return model.Message{}, errs.ErrNotFound.WrapMsg("conversation", "id", in.ConversationID)
	}
	msg := model.Message{
		ID:             s.idGen.NextString(),
		ConversationID: in.ConversationID,
		SenderID:       in.Sender.ID,
		SenderName:     in.Sender.DisplayName,
		SenderUsername: in.Sender.Username,
		SenderAvatar:   in.Sender.AvatarURL,
		Text:           in.Text,
		ImageURL:       in.ImageURL,
		Status:         model.StatusSent,
		CreatedAt:      s.now().UTC(),
	}
	s.messages[msg.ID] = msg
	return msg, nil
}

func (s *MemoryStore) UpdateMessagesStatus(ctx context.Context, conversationID string, messageIDs []string, status model.MessageStatus) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errs.Wrap(err)
	}
	if !status.Valid() {
		return 0, errs.ErrArgs.WrapMsg("invalid status", "status", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok || m.ConversationID != conversationID {
			continue
		}
		m.Status = status
		s.messages[id] = m
		n++
	}
	return n, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, errs.ErrNotFound.WrapMsg("message", "id", id)
	}
	return m, nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }
