package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeErrorIs(t *testing.T) {
	err := ErrPersistence.WrapMsg("insert failed", "table", "messages")
	assert.True(t, Is(err, ErrPersistence))
	assert.False(t, Is(err, ErrValidation))
	assert.Equal(t, PersistenceError, CodeOf(err))

	// ArgsError is registered under ValidationError
	args := ErrArgs.WrapMsg("bad frame")
	assert.True(t, Is(args, ErrValidation))
	assert.False(t, Is(ErrValidation.Wrap(), ErrArgs))

	assert.False(t, Is(nil, ErrAuth))
	assert.Equal(t, 0, CodeOf(nil))
	assert.Equal(t, ServerInternalError, CodeOf(errors.New("plain")))
}

func TestClientMessage(t *testing.T) {
	err := ErrValidation.WrapMsg("message is empty")
	assert.Equal(t, "validation failed: message is empty", ClientMessage(err))

	assert.Equal(t, "internal error", ClientMessage(errors.New("dsn=postgres://secret")))
	assert.Equal(t, "internal error", ClientMessage(ErrPanic("boom")))
}

func TestWrapMsgFormatsPairs(t *testing.T) {
	err := ErrNotFound.WrapMsg("conversation", "id", "c1", "dangling")
	assert.Contains(t, err.Error(), "conversation, id=c1, dangling=MISSING")

	assert.Nil(t, Wrap(nil))
	assert.Nil(t, WrapMsg(nil, "x"))
	assert.ErrorContains(t, WrapMsg(errors.New("boom"), "load", "k", 1), "load, k=1: boom")
}

func TestWrapCauseKeepsCauseOutOfClientMessage(t *testing.T) {
	err := ErrPersistence.WrapCause(errors.New("dial tcp 10.0.0.1:5432: connection refused"), "create message")
	assert.Equal(t, PersistenceError, CodeOf(err))
	assert.Equal(t, "persistence failed: create message", ClientMessage(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, Is(err, ErrPersistence))
}
