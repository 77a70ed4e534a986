package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/live-chat-relay/internal/event"
	"github.com/MimeLyc/live-chat-relay/internal/upstream"
)

type fakeConnProvider struct {
	mu       sync.Mutex
	acquires int
	releases int
}

func (f *fakeConnProvider) Acquire(upstream.RoomKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
}

func (f *fakeConnProvider) Release(upstream.RoomKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func (f *fakeConnProvider) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, f.releases
}

type fakeSubscriber struct {
	id            string
	autoTranslate bool

	mu       sync.Mutex
	received []event.Message
	closed   bool
	sendErr  error
}

func newFakeSubscriber(id string, autoTranslate bool) *fakeSubscriber {
	return &fakeSubscriber{id: id, autoTranslate: autoTranslate}
}

func (f *fakeSubscriber) ID() string          { return f.id }
func (f *fakeSubscriber) AutoTranslate() bool { return f.autoTranslate }

func (f *fakeSubscriber) Send(msg event.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.received = append(f.received, msg)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) messages() []event.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Message(nil), f.received...)
}

func (f *fakeSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestSubscribeAcquiresConnectionOnce(t *testing.T) {
	conns := &fakeConnProvider{}
	rooms := NewRooms(conns, time.Hour)
	key := upstream.RoomIDKey(1)

	rooms.Subscribe(key, newFakeSubscriber("a", false))
	rooms.Subscribe(key, newFakeSubscriber("b", true))

	acquires, releases := conns.counts()
	require.Equal(t, 1, acquires)
	require.Equal(t, 0, releases)
	require.True(t, rooms.Has(key))
	require.Equal(t, 1, rooms.AutoTranslateCount(key))
}

func TestTeardownAfterGrace(t *testing.T) {
	conns := &fakeConnProvider{}
	rooms := NewRooms(conns, 30*time.Millisecond)
	key := upstream.RoomIDKey(1)
	sub := newFakeSubscriber("a", false)

	rooms.Subscribe(key, sub)
	rooms.Unsubscribe(key, sub)
	require.True(t, sub.isClosed())

	// Still present during the grace window.
	require.True(t, rooms.Has(key))

	require.Eventually(t, func() bool {
		_, releases := conns.counts()
		return releases == 1 && !rooms.Has(key)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestResubscribeWithinGraceKeepsConnection(t *testing.T) {
	conns := &fakeConnProvider{}
	rooms := NewRooms(conns, 50*time.Millisecond)
	key := upstream.RoomIDKey(1)

	first := newFakeSubscriber("a", false)
	rooms.Subscribe(key, first)
	rooms.Unsubscribe(key, first)

	// A quick reconnect lands inside the grace window.
	rooms.Subscribe(key, newFakeSubscriber("b", false))

	time.Sleep(120 * time.Millisecond)
	acquires, releases := conns.counts()
	require.Equal(t, 1, acquires)
	require.Equal(t, 0, releases)
	require.True(t, rooms.Has(key))
}

func TestUnsubscribeUnknownRoomStillCloses(t *testing.T) {
	rooms := NewRooms(&fakeConnProvider{}, time.Hour)
	sub := newFakeSubscriber("a", false)
	rooms.Unsubscribe(upstream.RoomIDKey(404), sub)
	require.True(t, sub.isClosed())
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	rooms := NewRooms(&fakeConnProvider{}, time.Hour)
	key := upstream.RoomIDKey(1)
	a := newFakeSubscriber("a", true)
	b := newFakeSubscriber("b", false)
	rooms.Subscribe(key, a)
	rooms.Subscribe(key, b)

	msg := event.HeartbeatMessage()
	rooms.Broadcast(key, msg)

	require.Len(t, a.messages(), 1)
	require.Len(t, b.messages(), 1)
}

func TestBroadcastIfFiltersSubscribers(t *testing.T) {
	rooms := NewRooms(&fakeConnProvider{}, time.Hour)
	key := upstream.RoomIDKey(1)
	optIn := newFakeSubscriber("in", true)
	optOut := newFakeSubscriber("out", false)
	rooms.Subscribe(key, optIn)
	rooms.Subscribe(key, optOut)

	msg, err := event.NewUpdateTranslationMessage("m1", "訳")
	require.NoError(t, err)
	rooms.BroadcastIf(key, func(s Subscriber) bool { return s.AutoTranslate() }, msg)

	require.Len(t, optIn.messages(), 1)
	require.Empty(t, optOut.messages())
}

func TestBroadcastSurvivesSendErrors(t *testing.T) {
	rooms := NewRooms(&fakeConnProvider{}, time.Hour)
	key := upstream.RoomIDKey(1)
	broken := newFakeSubscriber("broken", false)
	broken.sendErr = fmt.Errorf("buffer full")
	healthy := newFakeSubscriber("healthy", false)
	rooms.Subscribe(key, broken)
	rooms.Subscribe(key, healthy)

	rooms.Broadcast(key, event.HeartbeatMessage())
	require.Len(t, healthy.messages(), 1)
}

func TestAutoTranslateCountTracksLeaves(t *testing.T) {
	rooms := NewRooms(&fakeConnProvider{}, time.Hour)
	key := upstream.RoomIDKey(1)
	a := newFakeSubscriber("a", true)
	b := newFakeSubscriber("b", true)
	rooms.Subscribe(key, a)
	rooms.Subscribe(key, b)
	require.Equal(t, 2, rooms.AutoTranslateCount(key))

	rooms.Unsubscribe(key, a)
	require.Equal(t, 1, rooms.AutoTranslateCount(key))
}
