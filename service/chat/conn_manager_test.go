package chat

import (
	"sync"
	"testing"

	"PPRelay/module/chat/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []string
	conns  *ConnManager
	online []bool // IsOnline observed inside the callback
}

func (o *recordingObserver) UserOnline(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "+"+userID)
	o.online = append(o.online, o.conns.IsOnline(userID))
}

func (o *recordingObserver) UserOffline(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "-"+userID)
	o.online = append(o.online, o.conns.IsOnline(userID))
}

func newTestClient(userID, connID string) *Client {
	return NewClient(connID, model.Identity{ID: userID}, nil, 4)
}

func TestRegisterNotifiesObserverSynchronously(t *testing.T) {
	m := NewConnManager(nil)
	obs := &recordingObserver{conns: m}
	m.SetObserver(obs)

	c := newTestClient("u1", "a")
	m.Register(c)
	assert.Equal(t, []string{"+u1"}, obs.events)
	assert.True(t, m.IsOnline("u1"))

	m.Unregister("u1")
	assert.Equal(t, []string{"+u1", "-u1"}, obs.events)
	// the registry state is already consistent when the observer runs
	assert.Equal(t, []bool{true, false}, obs.online)
	assert.False(t, m.IsOnline("u1"))
	assert.True(t, c.Closed())

	m.Unregister("u1")
	assert.Len(t, obs.events, 2)
}

func TestRegisterSupersedesPreviousConnection(t *testing.T) {
	m := NewConnManager(nil)
	obs := &recordingObserver{conns: m}
	m.SetObserver(obs)

	first := newTestClient("u1", "a")
	second := newTestClient("u1", "b")
	m.Register(first)
	m.Register(second)

	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.Equal(t, CloseSuperseded, first.closeCode)
	got, ok := m.Get("u1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, m.Count())

	// the superseded connection going away must not take the user offline
	assert.False(t, m.Release(first))
	assert.True(t, m.IsOnline("u1"))

	assert.True(t, m.Release(second))
	assert.False(t, m.IsOnline("u1"))
	assert.Equal(t, []string{"+u1", "+u1", "-u1"}, obs.events)
}

func TestSendToIsAtMostOnce(t *testing.T) {
	m := NewConnManager(nil)
	assert.False(t, m.SendTo("ghost", []byte("x")))

	c := newTestClient("u1", "a")
	m.Register(c)
	for i := 0; i < 4; i++ {
		require.True(t, m.SendTo("u1", []byte("x")))
	}
	// queue full: dropped, never blocks
	assert.False(t, m.SendTo("u1", []byte("overflow")))
	assert.Len(t, c.Outbound(), 4)

	c.Close(1000, "")
	assert.False(t, m.SendTo("u1", []byte("after close")))
}

func TestOnlineUsersAndClose(t *testing.T) {
	m := NewConnManager(nil)
	a, b := newTestClient("u1", "a"), newTestClient("u2", "b")
	m.Register(a)
	m.Register(b)
	assert.ElementsMatch(t, []string{"u1", "u2"}, m.OnlineUsers())

	m.Close()
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Zero(t, m.Count())

	late := newTestClient("u3", "c")
	m.Register(late)
	assert.True(t, late.Closed())
	assert.False(t, m.IsOnline("u3"))
}

func TestConcurrentRegisterKeepsOneConnection(t *testing.T) {
	m := NewConnManager(nil)
	var wg sync.WaitGroup
	clients := make([]*Client, 50)
	for i := range clients {
		clients[i] = newTestClient("u1", string(rune('a'+i%26)))
	}
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			m.Register(c)
		}(c)
	}
	wg.Wait()

	cur, ok := m.Get("u1")
	require.True(t, ok)
	open := 0
	for _, c := range clients {
		if !c.Closed() {
			open++
			assert.Same(t, cur, c)
		}
	}
	assert.Equal(t, 1, open)
}
