package relay

import (
	"sync"
	"time"

	"github.com/MimeLyc/live-chat-relay/internal/event"
	"github.com/MimeLyc/live-chat-relay/internal/upstream"
	"github.com/MimeLyc/live-chat-relay/pkg/log"
)

// DefaultTeardownGrace absorbs quick client reconnects before the upstream
// connection is flapped.
const DefaultTeardownGrace = 10 * time.Second

// ConnProvider is the upstream side seen by the room registry. Implemented
// by upstream.Registry.
type ConnProvider interface {
	Acquire(key upstream.RoomKey)
	Release(key upstream.RoomKey)
}

type room struct {
	key                upstream.RoomKey
	subs               map[string]Subscriber
	autoTranslateCount int
	teardown           *time.Timer
}

// Rooms is the per-room subscriber registry with fan-out send and delayed
// teardown. Creating a room acquires the matching upstream connection;
// removing it after the grace period releases it.
type Rooms struct {
	mu    sync.Mutex
	rooms map[upstream.RoomKey]*room
	conns ConnProvider
	grace time.Duration
}

func NewRooms(conns ConnProvider, grace time.Duration) *Rooms {
	if grace <= 0 {
		grace = DefaultTeardownGrace
	}
	return &Rooms{
		rooms: make(map[upstream.RoomKey]*room),
		conns: conns,
		grace: grace,
	}
}

// Subscribe adds sub to the room for key, creating the room (and acquiring
// the upstream connection) on first subscribe. A pending teardown timer for
// the key is cancelled.
func (rs *Rooms) Subscribe(key upstream.RoomKey, sub Subscriber) {
	rs.mu.Lock()
	r, ok := rs.rooms[key]
	if !ok {
		r = &room{key: key, subs: make(map[string]Subscriber)}
		rs.rooms[key] = r
		rs.conns.Acquire(key)
		log.Info("relay: created room %s", key)
	}
	if r.teardown != nil {
		r.teardown.Stop()
		r.teardown = nil
	}
	r.subs[sub.ID()] = sub
	if sub.AutoTranslate() {
		r.autoTranslateCount++
	}
	count := len(r.subs)
	rs.mu.Unlock()

	log.Info("relay: subscriber %s joined %s (total %d)", sub.ID(), key, count)
}

// Unsubscribe removes sub and closes it. When the room empties, a teardown
// timer starts; if nobody re-subscribes within the grace period the room is
// removed and the upstream connection released.
func (rs *Rooms) Unsubscribe(key upstream.RoomKey, sub Subscriber) {
	rs.mu.Lock()
	r, ok := rs.rooms[key]
	if !ok {
		rs.mu.Unlock()
		sub.Close()
		return
	}
	if _, present := r.subs[sub.ID()]; !present {
		rs.mu.Unlock()
		sub.Close()
		return
	}
	delete(r.subs, sub.ID())
	if sub.AutoTranslate() {
		r.autoTranslateCount--
	}
	if len(r.subs) == 0 && r.teardown == nil {
		r.teardown = time.AfterFunc(rs.grace, func() { rs.tryTeardown(key) })
	}
	remaining := len(r.subs)
	rs.mu.Unlock()

	sub.Close()
	log.Info("relay: subscriber %s left %s (remaining %d)", sub.ID(), key, remaining)
}

func (rs *Rooms) tryTeardown(key upstream.RoomKey) {
	rs.mu.Lock()
	r, ok := rs.rooms[key]
	if !ok || len(r.subs) > 0 {
		rs.mu.Unlock()
		return
	}
	delete(rs.rooms, key)
	rs.mu.Unlock()

	rs.conns.Release(key)
	log.Info("relay: removed empty room %s", key)
}

// Has reports whether a room currently exists for key. Enrichment
// completions re-check this before broadcasting.
func (rs *Rooms) Has(key upstream.RoomKey) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	_, ok := rs.rooms[key]
	return ok
}

// AutoTranslateCount returns how many subscribers of key opted into
// translation.
func (rs *Rooms) AutoTranslateCount(key upstream.RoomKey) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r, ok := rs.rooms[key]; ok {
		return r.autoTranslateCount
	}
	return 0
}

// Broadcast fans msg out to every subscriber of key.
func (rs *Rooms) Broadcast(key upstream.RoomKey, msg event.Message) {
	rs.BroadcastIf(key, nil, msg)
}

// BroadcastIf fans msg out to subscribers matching pred (nil means all).
// Send errors are logged; the transport layer is responsible for closing
// broken connections, which unsubscribes them.
func (rs *Rooms) BroadcastIf(key upstream.RoomKey, pred func(Subscriber) bool, msg event.Message) {
	rs.mu.Lock()
	r, ok := rs.rooms[key]
	if !ok {
		rs.mu.Unlock()
		return
	}
	targets := make([]Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		if pred == nil || pred(sub) {
			targets = append(targets, sub)
		}
	}
	rs.mu.Unlock()

	for _, sub := range targets {
		if err := sub.Send(msg); err != nil {
			log.Warn("relay: failed to send to subscriber %s: %v", sub.ID(), err)
		}
	}
}
