package natsx

import (
	"context"
	"errors"
	"testing"
	"time"

	"PPRelay/tools/errs"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

func TestNatsxChainOrder(t *testing.T) {
	var trace []string
	mw := func(name string) NatsxMiddleware {
		return func(next NatsxHandler) NatsxHandler {
			return func(ctx context.Context, msg NatsxMessage) error {
				trace = append(trace, name)
				return next(ctx, msg)
			}
		}
	}
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		trace = append(trace, "handler")
		return nil
	}, mw("a"), mw("b"))
	require.NoError(t, h(ctx, NatsxMessage{}))
	assert.Equal(t, []string{"a", "b", "handler"}, trace)
}

func TestRecoverAndLogMiddleware(t *testing.T) {
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		panic("bad payload")
	}, NatsxLogMiddleware(zap.NewNop()), NatsxRecoverMiddleware())
	err := h(ctx, NatsxMessage{Subject: "x"})
	require.Error(t, err)
	assert.Equal(t, errs.ServerInternalError, errs.CodeOf(err))
}

func TestMemIdemExpires(t *testing.T) {
	clk := clock.NewMock()
	store := NewMemIdem(time.Minute, clk)

	seen, err := store.SeenOnce("k", 0)
	require.NoError(t, err)
	assert.False(t, seen)
	seen, _ = store.SeenOnce("k", 0)
	assert.True(t, seen)

	clk.Add(time.Minute)
	seen, _ = store.SeenOnce("k", 0)
	assert.False(t, seen)
}

func TestIdemMiddlewareOnlyDedupesWithMsgID(t *testing.T) {
	calls := 0
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		calls++
		return nil
	}, NatsxIdemMiddleware(NewMemIdem(time.Minute, clock.NewMock()), 0))

	withID := NatsxMessage{Subject: "s", Data: []byte(`{"conversationId":"c1"}`), Header: map[string]string{HeaderMsgID: "abc"}}
	require.NoError(t, h(ctx, withID))
	require.NoError(t, h(ctx, withID))
	assert.Equal(t, 1, calls)

	// identical payloads without an id are separate membership changes
	plain := NatsxMessage{Subject: "s", Data: []byte(`{"conversationId":"c1"}`)}
	require.NoError(t, h(ctx, plain))
	require.NoError(t, h(ctx, plain))
	assert.Equal(t, 3, calls)
}

func TestDecodeMembershipEvent(t *testing.T) {
	ev, err := DecodeMembershipEvent([]byte(`{"conversationId":" c1 "}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", ev.ConversationID)

	ev, err = DecodeMembershipEvent([]byte(`c2`))
	require.NoError(t, err)
	assert.Equal(t, "c2", ev.ConversationID)

	for _, raw := range []string{``, `{}`, `{"conversationId":""}`, `{"conversationId":`} {
		_, err := DecodeMembershipEvent([]byte(raw))
		assert.Error(t, err, raw)
	}
}

type fakeBus struct {
	routes   []NatsxRoute
	handlers map[string]NatsxHandler
	fail     int
	ids      []string
	payloads [][]byte
}

func (f *fakeBus) RegisterRoute(r NatsxRoute) error {
	f.routes = append(f.routes, r)
	return nil
}

func (f *fakeBus) Subscribe(biz string, h NatsxHandler) error {
	if f.handlers == nil {
		f.handlers = make(map[string]NatsxHandler)
	}
	f.handlers[biz] = h
	return nil
}

func (f *fakeBus) PublishOnce(_ context.Context, biz string, data []byte, _ map[string]string, msgID string) error {
	f.ids = append(f.ids, msgID)
	if f.fail > 0 {
		f.fail--
		return errors.New("nats: timeout")
	}
	f.payloads = append(f.payloads, data)
	// loop back like a real broadcast subject
	if h, ok := f.handlers[biz]; ok {
		return h(context.Background(), NatsxMessage{Subject: "relay.membership.changed", Data: data})
	}
	return nil
}

func TestMembershipRoundTrip(t *testing.T) {
	bus := &fakeBus{fail: 1}
	var invalidated []string
	require.NoError(t, SubscribeMembership(bus, "relay.membership.changed", func(id string) {
		invalidated = append(invalidated, id)
	}))
	require.Len(t, bus.routes, 1)
	assert.Equal(t, "relay.membership.changed", bus.routes[0].Subject)

	n := NewMembershipNotifier(bus)
	n.pub.Backoff = time.Millisecond
	require.NoError(t, n.PublishMembershipChanged(ctx, "c9"))

	assert.Equal(t, []string{"c9"}, invalidated)
	require.Len(t, bus.ids, 2)
	assert.Equal(t, bus.ids[0], bus.ids[1], "retries keep the message id")
	assert.JSONEq(t, `{"conversationId":"c9"}`, string(bus.payloads[0]))
}

func TestSyncPublisherGivesUp(t *testing.T) {
	bus := &fakeBus{fail: 10}
	sp := &NatsxSyncPublisher{P: bus, Retries: 2, Backoff: time.Millisecond}
	err := sp.Publish(ctx, BizMembership, []byte("x"), nil)
	assert.Error(t, err)
	assert.Len(t, bus.ids, 3)
}

func TestRouteValidation(t *testing.T) {
	assert.Error(t, NatsxRoute{}.validate())
	assert.Error(t, NatsxRoute{Biz: "b"}.validate())
	assert.NoError(t, MembershipRoute("s").validate())

	_, err := NewNatsxClient(NatsxConfig{}, zap.NewNop())
	assert.Error(t, err)
}
