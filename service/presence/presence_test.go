package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"PPRelay/module/chat/model"
	"PPRelay/service/chat"
	"PPRelay/service/membership"
	"PPRelay/service/storage"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

type staticMembers map[string][]string // conversation -> participants

func (s staticMembers) ConversationsOf(_ context.Context, userID string) []string {
	var out []string
	for id, ps := range s {
		for _, p := range ps {
			if p == userID {
				out = append(out, id)
			}
		}
	}
	return out
}

func (s staticMembers) GetParticipants(_ context.Context, id string) []string { return s[id] }

type fakeMirror struct {
	mu        sync.Mutex
	calls     []string
	refreshed []string
	err       error
}

func (f *fakeMirror) Online(_ context.Context, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "+"+u)
	return f.err
}

func (f *fakeMirror) Offline(_ context.Context, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "-"+u)
	return f.err
}

func (f *fakeMirror) Refresh(_ context.Context, users []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, users...)
	return f.err
}

type env struct {
	conns *chat.ConnManager
	b     *Broadcaster
	clk   *clock.Mock
}

func newEnv(t *testing.T, members staticMembers, mirror Mirror) *env {
	t.Helper()
	conns := chat.NewConnManager(nil)
	clk := clock.NewMock()
	b := New(members, chat.NewFanout(conns, members, nil), Options{
		Interval: time.Minute,
		Mirror:   mirror,
		Clock:    clk,
		Logger:   zap.NewNop(),
	})
	conns.SetObserver(b)
	return &env{conns: conns, b: b, clk: clk}
}

func (e *env) connect(userID string) *chat.Client {
	c := chat.NewClient("conn-"+userID, model.Identity{ID: userID}, nil, 32)
	e.conns.Register(c)
	return c
}

func frames(c *chat.Client) []map[string]any {
	var out []map[string]any
	for {
		select {
		case raw := <-c.Outbound():
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err == nil {
				out = append(out, m)
			}
		default:
			return out
		}
	}
}

func statuses(fs []map[string]any) map[string]bool {
	out := make(map[string]bool)
	for _, f := range fs {
		if f["type"] == string(chat.FrameOnlineStatus) {
			out[f["userId"].(string)] = f["isOnline"].(bool)
		}
	}
	return out
}

func TestOnlineOfflineReachOnlyPeers(t *testing.T) {
	e := newEnv(t, staticMembers{
		"c1": {"u1", "u2"},
		"c2": {"u1", "u2", "u3"},
		"c3": {"u4", "u5"},
	}, nil)
	u2 := e.connect("u2")
	u3 := e.connect("u3")
	u4 := e.connect("u4")
	frames(u2)
	frames(u3)

	e.connect("u1")
	f2 := frames(u2)
	// shares two conversations with u1 but is told once
	require.Len(t, f2, 1)
	assert.Equal(t, map[string]bool{"u1": true}, statuses(f2))
	assert.Equal(t, map[string]bool{"u1": true}, statuses(frames(u3)))
	assert.Empty(t, frames(u4))

	e.conns.Unregister("u1")
	assert.Equal(t, map[string]bool{"u1": false}, statuses(frames(u2)))
	assert.Equal(t, map[string]bool{"u1": false}, statuses(frames(u3)))
	assert.Empty(t, frames(u4))
}

func TestOnlineNotSentToSelf(t *testing.T) {
	e := newEnv(t, staticMembers{"c1": {"u1", "u2"}}, nil)
	u1 := e.connect("u1")
	assert.Empty(t, statuses(frames(u1)))
}

func TestSendOnlinePeersTargetsRequesterOnly(t *testing.T) {
	e := newEnv(t, staticMembers{
		"c1": {"u1", "u2", "u3"},
		"c2": {"u1", "u4"},
	}, nil)
	u2 := e.connect("u2")
	u4 := e.connect("u4")
	u1 := e.connect("u1")
	frames(u1)
	frames(u2)
	frames(u4)

	n := e.b.SendOnlinePeers(ctx, "u1")
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]bool{"u2": true, "u4": true}, statuses(frames(u1)))
	assert.Empty(t, frames(u2))
	assert.Empty(t, frames(u4))
}

func TestRunReannouncesAndRefreshesMirror(t *testing.T) {
	mirror := &fakeMirror{}
	e := newEnv(t, staticMembers{"c1": {"u1", "u2"}}, mirror)
	u1 := e.connect("u1")
	u2 := e.connect("u2")
	frames(u1)
	frames(u2)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go e.b.Run(runCtx)

	var got1, got2 map[string]bool
	require.Eventually(t, func() bool {
		e.clk.Add(time.Minute)
		for k, v := range statuses(frames(u1)) {
			got1 = map[string]bool{k: v}
		}
		for k, v := range statuses(frames(u2)) {
			got2 = map[string]bool{k: v}
		}
		return got1 != nil && got2 != nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]bool{"u2": true}, got1)
	assert.Equal(t, map[string]bool{"u1": true}, got2)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Equal(t, []string{"+u1", "+u2"}, mirror.calls)
	assert.Subset(t, mirror.refreshed, []string{"u1", "u2"})
}

func TestMirrorFailureDoesNotBlockBroadcast(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("redis down")}
	e := newEnv(t, staticMembers{"c1": {"u1", "u2"}}, mirror)
	u2 := e.connect("u2")
	frames(u2)

	e.connect("u1")
	assert.Equal(t, map[string]bool{"u1": true}, statuses(frames(u2)))
	e.conns.Unregister("u1")
	assert.Equal(t, map[string]bool{"u1": false}, statuses(frames(u2)))

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Equal(t, []string{"+u2", "+u1", "-u1"}, mirror.calls)
}

func TestOfflineReachesPeersOfConversationCreatedAfterConnect(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	require.NoError(t, store.UpsertConversation(ctx, model.Conversation{ID: "c1", Participants: []string{"u1", "u3"}}))

	cache := membership.New(store, membership.Options{Clock: clock.NewMock(), Logger: zap.NewNop()})
	conns := chat.NewConnManager(nil)
	b := New(cache, chat.NewFanout(conns, cache, nil), Options{Clock: clock.NewMock(), Logger: zap.NewNop()})
	conns.SetObserver(b)

	u1 := chat.NewClient("conn-u1", model.Identity{ID: "u1"}, nil, 32)
	u2 := chat.NewClient("conn-u2", model.Identity{ID: "u2"}, nil, 32)
	conns.Register(u1)
	conns.Register(u2)
	assert.Empty(t, statuses(frames(u2)))

	require.NoError(t, store.UpsertConversation(ctx, model.Conversation{ID: "c2", Participants: []string{"u1", "u2"}}))
	cache.Invalidate("c2")

	assert.Equal(t, 1, b.SendOnlinePeers(ctx, "u2"))
	assert.Equal(t, map[string]bool{"u1": true}, statuses(frames(u2)))

	require.True(t, conns.Release(u1))
	assert.Equal(t, map[string]bool{"u1": false}, statuses(frames(u2)))
}
