package upstream

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/MimeLyc/live-chat-relay/pkg/log"
)

const initTimeout = 30 * time.Second

// Registry creates and destroys connections on demand, at most one per
// RoomKey. It does not reference-count: the subscription side is expected
// to call Release exactly once per room teardown.
type Registry struct {
	meta    MetaClient
	handler EventHandler
	conns   *xsync.Map[RoomKey, *Connection]
}

func NewRegistry(meta MetaClient, handler EventHandler) *Registry {
	return &Registry{
		meta:    meta,
		handler: handler,
		conns:   xsync.NewMap[RoomKey, *Connection](),
	}
}

// Acquire ensures a connection exists for key. If one is already registered
// this is a no-op. Initialization runs asynchronously; a failed handshake
// removes the entry so a later Acquire retries from scratch.
func (r *Registry) Acquire(key RoomKey) {
	var created *Connection
	r.conns.Compute(key, func(old *Connection, loaded bool) (*Connection, xsync.ComputeOp) {
		if loaded {
			return old, xsync.CancelOp
		}
		created = NewConnection(key, r.meta, r.handler)
		return created, xsync.UpdateOp
	})
	if created == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		if err := created.Init(ctx); err != nil {
			log.Error("upstream: initialization for %s failed: %v", key, err)
			r.removeIfSame(key, created)
			return
		}
		// Release may have raced the handshake; don't start a pump for a
		// connection that is no longer registered.
		if current, ok := r.conns.Load(key); !ok || current != created {
			created.Stop()
			return
		}
		// A dropped session deregisters itself so a later Acquire can
		// dial a fresh one.
		created.onDrop = func() { r.removeIfSame(key, created) }
		created.Start()
	}()
}

// Release stops and discards the connection for key. Idempotent.
func (r *Registry) Release(key RoomKey) {
	if conn, ok := r.conns.LoadAndDelete(key); ok {
		conn.Stop()
		log.Info("upstream: released connection for %s", key)
	}
}

// Get returns the registered connection for key, if any.
func (r *Registry) Get(key RoomKey) (*Connection, bool) {
	return r.conns.Load(key)
}

func (r *Registry) removeIfSame(key RoomKey, conn *Connection) {
	r.conns.Compute(key, func(old *Connection, loaded bool) (*Connection, xsync.ComputeOp) {
		if !loaded || old != conn {
			return old, xsync.CancelOp
		}
		return nil, xsync.DeleteOp
	})
}
