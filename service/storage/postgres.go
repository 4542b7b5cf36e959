package storage

import (
	"context"
	"errors"

	"PPRelay/module/chat/model"
	"PPRelay/tools/errs"
	"PPRelay/tools/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL DEFAULT '',
    is_group     BOOLEAN NOT NULL DEFAULT FALSE,
    participants TEXT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS conversations_participants_idx ON conversations USING GIN (participants);

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    sender_id       TEXT NOT NULL,
    sender_name     TEXT NOT NULL DEFAULT '',
    sender_username TEXT NOT NULL DEFAULT '',
    sender_avatar   TEXT NOT NULL DEFAULT '',
    text            TEXT NOT NULL DEFAULT '',
    image           TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at);
`

// PostgresStore 基于 pgxpool 的持久化实现
type PostgresStore struct {
	pool  *pgxpool.Pool
	idGen *ids.Generator
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string, idGen *ids.Generator) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "unable to connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "postgres ping failed")
	}
	if idGen == nil {
		idGen = ids.NewGenerator(1)
	}
	return &PostgresStore{pool: pool, idGen: idGen}, nil
}

// EnsureSchema 建表（幂等）
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return errs.WrapMsg(err, "ensure schema")
	}
	return nil
}

func (s *PostgresStore) GetConversationParticipants(ctx context.Context, conversationID string) ([]string, error) {
	var participants []string
	err := s.pool.QueryRow(ctx,
		`SELECT participants FROM `+model.ConversationTableName+` WHERE id = $1`,
		conversationID,
	).Scan(&participants)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", conversationID)
	}
	if err != nil {
		return nil, errs.ErrPersistence.WrapCause(err, "participants")
	}
	return participants, nil
}

func (s *PostgresStore) ListUserConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, is_group, participants FROM `+model.ConversationTableName+` WHERE $1 = ANY(participants)`,
		userID,
	)
	if err != nil {
		return nil, errs.ErrPersistence.WrapCause(err, "list conversations")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Conversation, error) {
		var c model.Conversation
		err := row.Scan(&c.ID, &c.Name, &c.IsGroup, &c.Participants)
		return c, err
	})
	if err != nil {
		return nil, errs.ErrPersistence.WrapCause(err, "list conversations")
	}
	return out, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, in model.NewMessage) (model.Message, error) {
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
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+model.MessageTableName+`
		   (id, conversation_id, sender_id, sender_name, sender_username, sender_avatar, text, image, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderName, msg.SenderUsername,
		msg.SenderAvatar, msg.Text, msg.ImageURL, string(msg.Status),
	).Scan(&msg.CreatedAt)
	if err != nil {
		return model.Message{}, errs.ErrPersistence.WrapCause(err, "create message")
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (s *PostgresStore) UpdateMessagesStatus(ctx context.Context, conversationID string, messageIDs []string, status model.MessageStatus) (int64, error) {
	if !status.Valid() {
		return 0, errs.ErrArgs.WrapMsg("invalid status", "status", status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+model.MessageTableName+` SET status = $1 WHERE conversation_id = $2 AND id = ANY($3)`,
		string(status), conversationID, messageIDs,
	)
	if err != nil {
		return 0, errs.ErrPersistence.WrapCause(err, "update status")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (model.Message, error) {
	var (
		m      model.Message
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, sender_id, sender_name, sender_username, sender_avatar, text, image, status, created_at
		   FROM `+model.MessageTableName+` WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.SenderUsername,
		&m.SenderAvatar, &m.Text, &m.ImageURL, &status, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Message{}, errs.ErrNotFound.WrapMsg("message", "id", id)
	}
	if err != nil {
		return model.Message{}, errs.ErrPersistence.WrapCause(err, "get message")
	}
	m.Status = model.MessageStatus(status)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}
