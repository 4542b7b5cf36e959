package model

import "time"

// MessageStatus 消息状态；DELIVERED 由客户端收到广播自行推断，中继不单独落库
type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

func (s MessageStatus) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

const MessageTableName = "messages"

// Message 持久化后的规范消息；广播帧只是它的只读投影
type Message struct {
	ID             string        `bson:"_id" json:"id"`
	ConversationID string        `bson:"conversation_id" json:"conversationId"`
	SenderID       string        `bson:"sender_id" json:"senderId"`
	SenderName     string        `bson:"sender_name" json:"senderName"`         // 发送时快照
	SenderUsername string        `bson:"sender_username" json:"senderUsername"` // 发送时快照
	SenderAvatar   string        `bson:"sender_avatar,omitempty" json:"senderAvatar,omitempty"`
	Text           string        `bson:"text" json:"text"`
	ImageURL       string        `bson:"image,omitempty" json:"image,omitempty"`
	Status         MessageStatus `bson:"status" json:"status"`
	CreatedAt      time.Time     `bson:"created_at" json:"createdAt"`
}

// NewMessage 写入参数；ID/Status/CreatedAt 由存储层分配
type NewMessage struct {
	ConversationID string
	Sender         Identity
	Text           string
	ImageURL       string
}
