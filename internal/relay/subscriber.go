package relay

import "github.com/MimeLyc/live-chat-relay/internal/event"

// Subscriber is one downstream viewer connection. The transport layer owns
// the connection; rooms only hold a non-owning reference and close it on
// unsubscribe.
type Subscriber interface {
	ID() string
	// Send queues a message for delivery. It must not block the caller.
	Send(msg event.Message) error
	// AutoTranslate reports whether the viewer opted into translation
	// patches.
	AutoTranslate() bool
	Close()
}
