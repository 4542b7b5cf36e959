package chat

import (
	"encoding/json"
	"testing"
	"time"

	"PPRelay/module/chat/model"
	"PPRelay/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"type":"MESSAGE","conversationId":"c1","text":"hi","imageUrl":"https://img/x.png","clientCorrelationId":"tmp-1"}`))
	require.NoError(t, err)
	msg, ok := in.(MessageFrame)
	require.True(t, ok)
	assert.Equal(t, "c1", msg.ConversationID)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, "https://img/x.png", msg.ImageRef())
	assert.Equal(t, "tmp-1", msg.ClientCorrelationID)

	in, err = DecodeInbound([]byte(`{"type":"TYPING","conversationId":"c1","isTyping":true}`))
	require.NoError(t, err)
	assert.Equal(t, TypingFrame{ConversationID: "c1", IsTyping: true}, in)

	in, err = DecodeInbound([]byte(`{"type":"READ_RECEIPT","conversationId":"c1","messageIds":["m1","m2"]}`))
	require.NoError(t, err)
	assert.Equal(t, ReadReceiptFrame{ConversationID: "c1", MessageIDs: []string{"m1", "m2"}}, in)

	in, err = DecodeInbound([]byte(`{"type":"READ_RECEIPT","conversationId":"c1","messageIds":["m1",null]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, in.(ReadReceiptFrame).MessageIDs)

	in, err = DecodeInbound([]byte(`{"type":"READ_RECEIPT","conversationId":"c1","messageId":"m1"}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", in.(ReadReceiptFrame).MessageID)

	in, err = DecodeInbound([]byte(`{"type":"REQUEST_ONLINE_STATUS"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameRequestOnlineStatus, in.Kind())
}

func TestDecodeInboundRejects(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":     `{"type":`,
		"array":        `[1,2]`,
		"null":         `null`,
		"missing type": `{"conversationId":"c1"}`,
		"unknown type": `{"type":"DELETE_EVERYTHING"}`,
		"bad field":    `{"type":"TYPING","conversationId":"c1","isTyping":{"a":1}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(raw))
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.ErrArgs))
		})
	}
}

func TestEncodeSetsType(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []struct {
		frame Outbound
		want  FrameType
	}{
		{ConnectionEstablished{UserID: "u1", Timestamp: ts}, FrameConnectionEstablished},
		{MessageBroadcast{Message: model.Message{ID: "m1"}}, FrameMessage},
		{TypingEvent{UserID: "u1"}, FrameTyping},
		{ReadReceiptEvent{ConversationID: "c1"}, FrameReadReceipt},
		{OnlineStatus{UserID: "u1", IsOnline: true}, FrameOnlineStatus},
		{ErrorFrame{Message: "x"}, FrameError},
	}
	for _, tc := range cases {
		raw, err := Encode(tc.frame)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		assert.Equal(t, string(tc.want), m["type"])
		assert.Equal(t, tc.want, tc.frame.Kind())
	}
}

func TestEncodeMessageBroadcastShape(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := Encode(MessageBroadcast{
		Message: model.Message{
			ID:             "m1",
			ConversationID: "c1",
			SenderID:       "u1",
			SenderName:     "Ada",
			Text:           "hi",
			Status:         model.StatusSent,
			CreatedAt:      created,
		},
		ClientCorrelationID: "tmp-1",
	})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "MESSAGE", m["type"])
	assert.Equal(t, "m1", m["id"])
	assert.Equal(t, "c1", m["conversationId"])
	assert.Equal(t, "SENT", m["status"])
	assert.Equal(t, "tmp-1", m["clientCorrelationId"])
	assert.Equal(t, "2024-01-02T03:04:05Z", m["createdAt"])

	raw, err = Encode(ReadReceiptEvent{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"messageIds":[]`)
}

func TestNewErrorFrame(t *testing.T) {
	f := NewErrorFrame(errs.ErrValidation.WrapMsg("message is empty"))
	assert.Equal(t, errs.ValidationError, f.Code)
	assert.Equal(t, "validation failed: message is empty", f.Message)
}
