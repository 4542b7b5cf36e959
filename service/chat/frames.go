package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"PPRelay/module/chat/model"
	"PPRelay/tools/decode"
	"PPRelay/tools/errs"
)

type FrameType string

// 入站
const (
	FrameMessage             FrameType = "MESSAGE"
	FrameTyping              FrameType = "TYPING"
	FrameReadReceipt         FrameType = "READ_RECEIPT"
	FrameRequestOnlineStatus FrameType = "REQUEST_ONLINE_STATUS"
)

// 出站（MESSAGE/TYPING/READ_RECEIPT 与入站同名）
const (
	FrameConnectionEstablished FrameType = "CONNECTION_ESTABLISHED"
	FrameOnlineStatus          FrameType = "ONLINE_STATUS"
	FrameError                 FrameType = "ERROR"
)

// Inbound 客户端上行帧，只有本包内的类型能实现
type Inbound interface {
	Kind() FrameType
	inbound()
}

// Outbound 下行帧，只有本包内的类型能实现
type Outbound interface {
	Kind() FrameType
	outbound()
}

// ===== 入站帧 =====

type MessageFrame struct {
	ConversationID      string `json:"conversationId"`
	Text                string `json:"text"`
	Image               string `json:"image"`
	ImageURL            string `json:"imageUrl"` // 旧客户端字段
	ClientCorrelationID string `json:"clientCorrelationId"`
}

// ImageRef image 优先，兼容 imageUrl
func (f MessageFrame) ImageRef() string {
	if f.Image != "" {
		return f.Image
	}
	return f.ImageURL
}

type TypingFrame struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type ReadReceiptFrame struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	MessageID      string   `json:"messageId"`
}

type RequestOnlineStatusFrame struct{}

func (MessageFrame) Kind() FrameType             { return FrameMessage }
func (TypingFrame) Kind() FrameType              { return FrameTyping }
func (ReadReceiptFrame) Kind() FrameType         { return FrameReadReceipt }
func (RequestOnlineStatusFrame) Kind() FrameType { return FrameRequestOnlineStatus }

func (MessageFrame) inbound()             {}
func (TypingFrame) inbound()              {}
func (ReadReceiptFrame) inbound()         {}
func (RequestOnlineStatusFrame) inbound() {}

// ===== 出站帧 =====

type ConnectionEstablished struct {
	Type      FrameType `json:"type"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageBroadcast 持久化记录的只读投影 + 回显的客户端关联ID
type MessageBroadcast struct {
	Type FrameType `json:"type"`
	model.Message
	ClientCorrelationID string `json:"clientCorrelationId,omitempty"`
}

type TypingEvent struct {
	Type           FrameType `json:"type"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	IsTyping       bool      `json:"isTyping"`
	Timestamp      time.Time `json:"timestamp"`
}

type ReadReceiptEvent struct {
	Type           FrameType `json:"type"`
	ConversationID string    `json:"conversationId"`
	MessageIDs     []string  `json:"messageIds"`
	UserID         string    `json:"userId"`
	Timestamp      time.Time `json:"timestamp"`
}

type OnlineStatus struct {
	Type      FrameType `json:"type"`
	UserID    string    `json:"userId"`
	IsOnline  bool      `json:"isOnline"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorFrame struct {
	Type      FrameType `json:"type"`
	Message   string    `json:"message"`
	Code      int       `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (ConnectionEstablished) Kind() FrameType { return FrameConnectionEstablished }
func (MessageBroadcast) Kind() FrameType      { return FrameMessage }
func (TypingEvent) Kind() FrameType           { return FrameTyping }
func (ReadReceiptEvent) Kind() FrameType      { return FrameReadReceipt }
func (OnlineStatus) Kind() FrameType          { return FrameOnlineStatus }
func (ErrorFrame) Kind() FrameType            { return FrameError }

func (ConnectionEstablished) outbound() {}
func (MessageBroadcast) outbound()      {}
func (TypingEvent) outbound()           {}
func (ReadReceiptEvent) outbound()      {}
func (OnlineStatus) outbound()          {}
func (ErrorFrame) outbound()            {}

// NewErrorFrame 从错误码错误构造回给客户端的 ERROR 帧
func NewErrorFrame(err error) ErrorFrame {
	return ErrorFrame{
		Message:   errs.ClientMessage(err),
		Code:      errs.CodeOf(err),
		Timestamp: time.Now().UTC(),
	}
}

// ===== 编解码 =====

// DecodeInbound 解析上行 JSON 帧；字段宽松解码（"true" -> true 等）
func DecodeInbound(raw []byte) (Inbound, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.ErrArgs.WrapMsg("malformed json")
	}
	if m == nil {
		return nil, errs.ErrArgs.WrapMsg("frame must be a json object")
	}
	kind, _ := m["type"].(string)
	delete(m, "type")

	switch FrameType(kind) {
	case FrameMessage:
		return decodeAs[MessageFrame](m)
	case FrameTyping:
		return decodeAs[TypingFrame](m)
	case FrameReadReceipt:
		return decodeAs[ReadReceiptFrame](m)
	case FrameRequestOnlineStatus:
		return RequestOnlineStatusFrame{}, nil
	case "":
		return nil, errs.ErrArgs.WrapMsg("missing frame type")
	default:
		return nil, errs.ErrArgs.WrapMsg("unknown frame type", "type", kind)
	}
}

func decodeAs[T Inbound](m map[string]any) (Inbound, error) {
	v, err := decode.Map[T](m)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error())
	}
	return *v, nil
}

// Encode 序列化下行帧，type 字段由帧类型决定
func Encode(o Outbound) ([]byte, error) {
	switch f := o.(type) {
	case ConnectionEstablished:
		f.Type = FrameConnectionEstablished
		return json.Marshal(f)
	case MessageBroadcast:
		f.Type = FrameMessage
		return json.Marshal(f)
	case TypingEvent:
		f.Type = FrameTyping
		return json.Marshal(f)
	case ReadReceiptEvent:
		f.Type = FrameReadReceipt
		if f.MessageIDs == nil {
			f.MessageIDs = []string{}
		}
		return json.Marshal(f)
	case OnlineStatus:
		f.Type = FrameOnlineStatus
		return json.Marshal(f)
	case ErrorFrame:
		f.Type = FrameError
		return json.Marshal(f)
	default:
		return nil, fmt.Errorf("unknown outbound frame %T", o)
	}
}
