package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MimeLyc/live-chat-relay/internal/event"
	"github.com/MimeLyc/live-chat-relay/pkg/log"
)

// EventHandler receives normalized events decoded from a room's session.
type EventHandler func(key RoomKey, ev event.Event)

// Connection lifecycle states.
const (
	StateInitializing int32 = iota
	StateActive
	StateStopped
)

const heartbeatInterval = 30 * time.Second

// Connection owns one live chat session for exactly one RoomKey. It is
// created by the Registry, initialized asynchronously, and pumps decoded
// events into its handler until stopped or the session drops.
type Connection struct {
	key     RoomKey
	meta    MetaClient
	handler EventHandler
	dialer  *websocket.Dialer
	// onDrop fires when the session drops on its own (not via Stop), so the
	// owner can deregister the dead connection.
	onDrop func()

	state    atomic.Int32
	roomID   int64
	ownerUID int64

	writeMu sync.Mutex
	conn    *websocket.Conn

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewConnection(key RoomKey, meta MetaClient, handler EventHandler) *Connection {
	return &Connection{
		key:     key,
		meta:    meta,
		handler: handler,
		dialer:  websocket.DefaultDialer,
		stopCh:  make(chan struct{}),
	}
}

func (c *Connection) State() int32 { return c.state.Load() }

// RoomID is the platform-assigned canonical room id, valid after Init.
func (c *Connection) RoomID() int64 { return atomic.LoadInt64(&c.roomID) }

// OwnerUID is the room owner's uid, valid after Init.
func (c *Connection) OwnerUID() int64 { return atomic.LoadInt64(&c.ownerUID) }

// Init performs the handshake: metadata fetch, websocket dial, auth packet.
// On failure the connection is useless and should be discarded by the
// caller so a later acquire can retry from scratch.
func (c *Connection) Init(ctx context.Context) error {
	meta, err := c.meta.ResolveRoom(ctx, c.key)
	if err != nil {
		return fmt.Errorf("failed to resolve room %s: %w", c.key, err)
	}
	atomic.StoreInt64(&c.roomID, meta.RoomID)
	atomic.StoreInt64(&c.ownerUID, meta.OwnerUID)

	wsURL := fmt.Sprintf("wss://%s:%d/sub", meta.Host, meta.Port)
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial chat endpoint %s: %w", wsURL, err)
	}

	authBody, err := json.Marshal(map[string]interface{}{
		"uid":      0,
		"roomid":   meta.RoomID,
		"protover": verZlib,
		"platform": "web",
		"type":     2,
		"key":      meta.Token,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to marshal auth body: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encodePacket(verPlain, opAuth, authBody)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send auth packet: %w", err)
	}

	return c.installConn(conn)
}

// installConn hands the dialed socket over to the connection. Stop may have
// fired while the handshake was in flight; in that case Stop already missed
// the socket, so it is closed here instead of leaking.
func (c *Connection) installConn(conn *websocket.Conn) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.stopCh:
		conn.Close()
		return fmt.Errorf("connection for %s stopped during handshake", c.key)
	default:
	}
	c.conn = conn
	return nil
}

// Start launches the heartbeat and read pumps. Only call after Init
// succeeded.
func (c *Connection) Start() {
	c.state.Store(StateActive)
	c.wg.Add(2)
	go c.heartbeatLoop()
	go c.readPump()
	log.Info("upstream: connected to %s (room id %d)", c.key, c.RoomID())
}

// Stop tears the session down. Idempotent.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		c.state.Store(StateStopped)
		close(c.stopCh)
		c.writeMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.writeMu.Unlock()
	})
	c.wg.Wait()
}

func (c *Connection) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteMessage(websocket.BinaryMessage, encodePacket(verPopularity, opHeartbeat, nil))
			c.writeMu.Unlock()
			if err != nil {
				log.Warn("upstream: heartbeat to %s failed: %v", c.key, err)
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer c.wg.Done()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.state.Load() != StateStopped {
				c.state.Store(StateStopped)
				log.Warn("upstream: session for %s dropped: %v", c.key, err)
				if c.onDrop != nil {
					c.onDrop()
				}
			}
			return
		}

		packets, err := decodePackets(data)
		if err != nil {
			log.Warn("upstream: bad frame from %s: %v", c.key, err)
			continue
		}
		for _, p := range packets {
			c.handlePacket(p)
		}
	}
}

func (c *Connection) handlePacket(p packet) {
	switch p.op {
	case opAuthReply:
		log.Debug("upstream: auth acknowledged for %s", c.key)
	case opHeartbeatReply:
		// Body is the room popularity counter; not relayed.
	case opSendMsg:
		if p.ver == verZlib {
			inner, err := inflate(p.body)
			if err != nil {
				log.Warn("upstream: failed to inflate frame from %s: %v", c.key, err)
				return
			}
			packets, err := decodePackets(inner)
			if err != nil {
				log.Warn("upstream: bad nested frame from %s: %v", c.key, err)
				return
			}
			for _, nested := range packets {
				c.handlePacket(nested)
			}
			return
		}
		c.dispatch(p.body)
	}
}

func (c *Connection) dispatch(body []byte) {
	ev, err := parseCommand(body, c.OwnerUID())
	if err != nil {
		log.Debug("upstream: undecodable command from %s: %v", c.key, err)
		return
	}
	if ev == nil {
		return
	}
	c.handler(c.key, ev)
}
