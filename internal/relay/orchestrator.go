package relay

import (
	"context"
	"sync"

	"github.com/MimeLyc/live-chat-relay/internal/event"
	"github.com/MimeLyc/live-chat-relay/internal/translate"
	"github.com/MimeLyc/live-chat-relay/internal/upstream"
	"github.com/MimeLyc/live-chat-relay/pkg/log"
)

// Translator is the scheduling surface the orchestrator needs.
// Implemented by translate.Scheduler.
type Translator interface {
	Cached(text string) (string, bool)
	Submit(text string, prio translate.Priority) *translate.Future
}

// AvatarResolver resolves an author's avatar URL. Implementations never
// fail; they degrade to a default URL.
type AvatarResolver interface {
	AvatarURL(ctx context.Context, uid int64) string
}

// Config holds the orchestrator's translation gating settings.
type Config struct {
	TranslateEnabled bool
	// AllowRooms restricts translation to the listed room ids. Empty means
	// every room is allowed.
	AllowRooms []int64
}

// Orchestrator wires decoded upstream events through enrichment to the room
// registry. Base delivery never waits for translation: untranslated events
// go out immediately and a patch follows for opted-in subscribers.
type Orchestrator struct {
	rooms      *Rooms
	translator Translator
	avatars    AvatarResolver
	cfg        Config
	patched    patchGuard
}

func NewOrchestrator(rooms *Rooms, translator Translator, avatars AvatarResolver, cfg Config) *Orchestrator {
	return &Orchestrator{
		rooms:      rooms,
		translator: translator,
		avatars:    avatars,
		cfg:        cfg,
		patched:    newPatchGuard(1024),
	}
}

// HandleEvent implements upstream.EventHandler. It runs on the connection's
// read pump, so events of one room pass through in receipt order.
func (o *Orchestrator) HandleEvent(key upstream.RoomKey, ev event.Event) {
	switch e := ev.(type) {
	case *event.Text:
		o.handleText(key, e)
	case *event.Gift:
		o.handleGift(key, e)
	case *event.Member:
		o.handleMember(key, e)
	case *event.SuperChat:
		o.handleSuperChat(key, e)
	case *event.SuperChatDelete:
		// Retractions bypass enrichment entirely.
		if msg, err := event.NewDelSuperChatMessage(e); err == nil {
			o.rooms.Broadcast(key, msg)
		}
	}
}

func (o *Orchestrator) handleText(key upstream.RoomKey, t *event.Text) {
	t.AvatarURL = o.avatars.AvatarURL(context.Background(), t.Author.UID)
	// The avatar lookup is a suspension point; the room may be gone by now.
	if !o.rooms.Has(key) {
		return
	}

	if o.shouldTranslate(key, t.Content) {
		if cached, ok := o.translator.Cached(t.Content); ok {
			t.Translation = cached
			o.broadcastText(key, t)
			return
		}
		o.broadcastText(key, t)
		fut := o.translator.Submit(t.Content, translate.PriorityNormal)
		go o.patchWhenDone(key, t.ID, fut)
		return
	}
	o.broadcastText(key, t)
}

func (o *Orchestrator) handleSuperChat(key upstream.RoomKey, sc *event.SuperChat) {
	if sc.AvatarURL == "" {
		sc.AvatarURL = o.avatars.AvatarURL(context.Background(), sc.UID)
	}
	if !o.rooms.Has(key) {
		return
	}

	translating := o.shouldTranslate(key, sc.Content)
	if translating {
		if cached, ok := o.translator.Cached(sc.Content); ok {
			sc.Translation = cached
			translating = false
		}
	}
	msg, err := event.NewAddSuperChatMessage(sc)
	if err != nil {
		log.Error("relay: failed to encode super chat %s: %v", sc.ID, err)
		return
	}
	o.rooms.Broadcast(key, msg)

	// Paid messages get the high-priority lane.
	if translating {
		fut := o.translator.Submit(sc.Content, translate.PriorityHigh)
		go o.patchWhenDone(key, sc.ID, fut)
	}
}

func (o *Orchestrator) handleGift(key upstream.RoomKey, g *event.Gift) {
	if !o.rooms.Has(key) {
		return
	}
	if msg, err := event.NewAddGiftMessage(g); err == nil {
		o.rooms.Broadcast(key, msg)
	}
}

func (o *Orchestrator) handleMember(key upstream.RoomKey, m *event.Member) {
	m.AvatarURL = o.avatars.AvatarURL(context.Background(), m.UID)
	if !o.rooms.Has(key) {
		return
	}
	if msg, err := event.NewAddMemberMessage(m); err == nil {
		o.rooms.Broadcast(key, msg)
	}
}

func (o *Orchestrator) broadcastText(key upstream.RoomKey, t *event.Text) {
	msg, err := event.NewAddTextMessage(t)
	if err != nil {
		log.Error("relay: failed to encode text %s: %v", t.ID, err)
		return
	}
	o.rooms.Broadcast(key, msg)
}

func (o *Orchestrator) shouldTranslate(key upstream.RoomKey, text string) bool {
	if !o.cfg.TranslateEnabled {
		return false
	}
	if o.rooms.AutoTranslateCount(key) == 0 {
		return false
	}
	if !o.roomAllowed(key) {
		return false
	}
	return translate.NeedsTranslation(text)
}

func (o *Orchestrator) roomAllowed(key upstream.RoomKey) bool {
	if len(o.cfg.AllowRooms) == 0 {
		return true
	}
	id, ok := key.RoomID()
	if !ok {
		return false
	}
	for _, allowed := range o.cfg.AllowRooms {
		if allowed == id {
			return true
		}
	}
	return false
}

// patchWhenDone waits for a translation future and fans the patch out to
// opted-in subscribers. The patch guard keeps a defensively re-resolved
// future from producing a second patch for the same message id.
func (o *Orchestrator) patchWhenDone(key upstream.RoomKey, id string, fut *translate.Future) {
	<-fut.Done()
	translation := fut.Value()
	if translation == "" {
		return
	}
	if !o.rooms.Has(key) {
		return
	}
	if !o.patched.firstTime(id) {
		return
	}

	msg, err := event.NewUpdateTranslationMessage(id, translation)
	if err != nil {
		log.Error("relay: failed to encode translation patch for %s: %v", id, err)
		return
	}
	o.rooms.BroadcastIf(key, func(s Subscriber) bool { return s.AutoTranslate() }, msg)
}

// patchGuard remembers the last capacity patched message ids.
type patchGuard struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	cap   int
}

func newPatchGuard(capacity int) patchGuard {
	return patchGuard{
		seen: make(map[string]struct{}, capacity),
		cap:  capacity,
	}
}

// firstTime records id and reports whether it was unseen.
func (g *patchGuard) firstTime(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[id]; ok {
		return false
	}
	g.seen[id] = struct{}{}
	g.order = append(g.order, id)
	if len(g.order) > g.cap {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.seen, oldest)
	}
	return true
}
