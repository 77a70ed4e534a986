package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MimeLyc/live-chat-relay/internal/event"
	"github.com/MimeLyc/live-chat-relay/internal/upstream"
	"github.com/MimeLyc/live-chat-relay/pkg/log"
)

// Room key discriminators on the downstream join message.
const (
	roomKeyTypeRoomID   = 1
	roomKeyTypeAuthCode = 2
)

const (
	// How many outbound messages a client may lag behind before it is
	// considered too slow and dropped.
	sendBufferSize = 64

	writeTimeout = 10 * time.Second
	joinTimeout  = 30 * time.Second
)

type joinRoomData struct {
	RoomKey struct {
		Type  int             `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"roomKey"`
	Config struct {
		AutoTranslate bool `json:"autoTranslate"`
	} `json:"config"`
}

// handleChat upgrades the request and runs the subscriber session: wait for
// JOIN_ROOM, register with the room, then relay until either side drops.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("httpapi: websocket upgrade failed: %v", err)
		return
	}

	key, autoTranslate, err := s.awaitJoin(conn)
	if err != nil {
		log.Info("httpapi: client %s left before joining: %v", r.RemoteAddr, err)
		conn.Close()
		return
	}

	sub := newWSSubscriber(conn, autoTranslate)
	go sub.writePump(s.heartbeatInterval)
	s.rooms.Subscribe(key, sub)

	s.readLoop(conn, sub)
	s.rooms.Unsubscribe(key, sub)
}

// awaitJoin reads messages until the client sends JOIN_ROOM. Heartbeats
// before the join are tolerated; anything else is a protocol error.
func (s *Server) awaitJoin(conn *websocket.Conn) (upstream.RoomKey, bool, error) {
	deadline := time.Now().Add(joinTimeout)
	_ = conn.SetReadDeadline(deadline)

	for {
		var msg event.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return upstream.RoomKey{}, false, err
		}
		switch msg.Cmd {
		case event.CmdHeartbeat:
			continue
		case event.CmdJoinRoom:
			var data joinRoomData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				return upstream.RoomKey{}, false, fmt.Errorf("bad join payload: %w", err)
			}
			key, err := parseRoomKey(data.RoomKey.Type, data.RoomKey.Value)
			if err != nil {
				return upstream.RoomKey{}, false, err
			}
			return key, data.Config.AutoTranslate, nil
		default:
			return upstream.RoomKey{}, false, fmt.Errorf("unexpected cmd %d before join", msg.Cmd)
		}
	}
}

func parseRoomKey(keyType int, value json.RawMessage) (upstream.RoomKey, error) {
	switch keyType {
	case roomKeyTypeRoomID:
		var id int64
		if err := json.Unmarshal(value, &id); err != nil {
			return upstream.RoomKey{}, fmt.Errorf("bad room id: %w", err)
		}
		if id <= 0 {
			return upstream.RoomKey{}, fmt.Errorf("room id must be positive")
		}
		return upstream.RoomIDKey(id), nil
	case roomKeyTypeAuthCode:
		var code string
		if err := json.Unmarshal(value, &code); err != nil {
			return upstream.RoomKey{}, fmt.Errorf("bad auth code: %w", err)
		}
		if code == "" {
			return upstream.RoomKey{}, fmt.Errorf("auth code must not be empty")
		}
		return upstream.AuthCodeKey(code), nil
	default:
		return upstream.RoomKey{}, fmt.Errorf("unknown room key type %d", keyType)
	}
}

// readLoop consumes client frames after the join. Client heartbeats refresh
// the read deadline; everything else is ignored.
func (s *Server) readLoop(conn *websocket.Conn, sub *wsSubscriber) {
	readTimeout := 3 * s.heartbeatInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	for {
		var msg event.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if sub.Alive() {
				log.Info("httpapi: subscriber %s disconnected: %v", sub.ID(), err)
			}
			return
		}
		if msg.Cmd == event.CmdHeartbeat {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
	}
}

// wsSubscriber adapts one websocket connection to relay.Subscriber. All
// writes go through the send channel and a single write pump.
type wsSubscriber struct {
	id            string
	conn          *websocket.Conn
	autoTranslate bool

	send      chan event.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newWSSubscriber(conn *websocket.Conn, autoTranslate bool) *wsSubscriber {
	return &wsSubscriber{
		id:            uuid.NewString(),
		conn:          conn,
		autoTranslate: autoTranslate,
		send:          make(chan event.Message, sendBufferSize),
		done:          make(chan struct{}),
	}
}

func (s *wsSubscriber) ID() string          { return s.id }
func (s *wsSubscriber) AutoTranslate() bool { return s.autoTranslate }

// Send queues msg without blocking. A full buffer means the client cannot
// keep up; the connection is dropped so it can reconnect fresh.
func (s *wsSubscriber) Send(msg event.Message) error {
	select {
	case <-s.done:
		return fmt.Errorf("subscriber %s is closed", s.id)
	case s.send <- msg:
		return nil
	default:
		s.Close()
		return fmt.Errorf("subscriber %s is too slow, dropping", s.id)
	}
}

func (s *wsSubscriber) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Close shuts the transport down. Idempotent; safe from any goroutine.
func (s *wsSubscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump serializes all writes: queued relay messages plus periodic
// server heartbeats.
func (s *wsSubscriber) writePump(heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(event.HeartbeatMessage()); err != nil {
				s.Close()
				return
			}
		}
	}
}
