package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/live-chat-relay/internal/event"
	"github.com/MimeLyc/live-chat-relay/internal/translate"
	"github.com/MimeLyc/live-chat-relay/internal/upstream"
)

type fakeTranslator struct {
	mu      sync.Mutex
	cached  map[string]string
	futures map[string]*translate.Future
	submits []string
}

func newFakeTranslator() *fakeTranslator {
	return &fakeTranslator{
		cached:  make(map[string]string),
		futures: make(map[string]*translate.Future),
	}
}

func (f *fakeTranslator) Cached(text string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.cached[text]
	return v, ok
}

func (f *fakeTranslator) Submit(text string, _ translate.Priority) *translate.Future {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, text)
	if fut, ok := f.futures[text]; ok {
		return fut
	}
	fut := translate.NewFuture()
	f.futures[text] = fut
	return fut
}

func (f *fakeTranslator) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submits...)
}

type fakeAvatars struct{}

func (fakeAvatars) AvatarURL(context.Context, int64) string {
	return "https://example.com/avatar.png"
}

func textEvent(id, content string) *event.Text {
	return &event.Text{
		ID:        id,
		Timestamp: time.Unix(1700000000, 0),
		Author:    event.Author{UID: 1, Name: "viewer"},
		Content:   content,
	}
}

func setupOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *Rooms, *fakeTranslator) {
	t.Helper()
	rooms := NewRooms(&fakeConnProvider{}, time.Hour)
	translator := newFakeTranslator()
	orch := NewOrchestrator(rooms, translator, fakeAvatars{}, cfg)
	return orch, rooms, translator
}

func lastMessage(t *testing.T, sub *fakeSubscriber) event.Message {
	t.Helper()
	msgs := sub.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func TestTextBroadcastThenPatch(t *testing.T) {
	orch, rooms, translator := setupOrchestrator(t, Config{TranslateEnabled: true})
	key := upstream.RoomIDKey(1)
	optIn := newFakeSubscriber("in", true)
	optOut := newFakeSubscriber("out", false)
	rooms.Subscribe(key, optIn)
	rooms.Subscribe(key, optOut)

	orch.HandleEvent(key, textEvent("m1", "今天的直播很精彩"))

	// Base event reaches everyone immediately, untranslated.
	require.Len(t, optIn.messages(), 1)
	require.Len(t, optOut.messages(), 1)
	base := lastMessage(t, optIn)
	require.Equal(t, event.CmdAddText, base.Cmd)
	var fields []interface{}
	require.NoError(t, json.Unmarshal(base.Data, &fields))
	require.Equal(t, "", fields[12])
	require.Equal(t, "https://example.com/avatar.png", fields[0])

	// Resolving the future patches only the opted-in subscriber.
	translator.futures["今天的直播很精彩"].Resolve("今日の配信は最高")
	require.Eventually(t, func() bool {
		return len(optIn.messages()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	patch := lastMessage(t, optIn)
	require.Equal(t, event.CmdUpdateTranslation, patch.Cmd)
	require.JSONEq(t, `["m1","今日の配信は最高"]`, string(patch.Data))

	time.Sleep(50 * time.Millisecond)
	require.Len(t, optOut.messages(), 1)
}

func TestSlowTranslationDoesNotDelayLaterEvents(t *testing.T) {
	orch, rooms, translator := setupOrchestrator(t, Config{TranslateEnabled: true})
	key := upstream.RoomIDKey(1)
	sub := newFakeSubscriber("in", true)
	rooms.Subscribe(key, sub)

	// First event needs translation and its provider is slow; the second
	// does not. Both base events must go out in receipt order before the
	// translation ever lands.
	orch.HandleEvent(key, textEvent("m1", "今天的直播很精彩"))
	orch.HandleEvent(key, textEvent("m2", "hello world"))

	msgs := sub.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, event.CmdAddText, msgs[0].Cmd)
	require.Equal(t, event.CmdAddText, msgs[1].Cmd)

	var first, second []interface{}
	require.NoError(t, json.Unmarshal(msgs[0].Data, &first))
	require.NoError(t, json.Unmarshal(msgs[1].Data, &second))
	require.Equal(t, "m1", first[11])
	require.Equal(t, "", first[12])
	require.Equal(t, "m2", second[11])

	translator.futures["今天的直播很精彩"].Resolve("今日の配信は最高")
	require.Eventually(t, func() bool {
		return len(sub.messages()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	patch := lastMessage(t, sub)
	require.Equal(t, event.CmdUpdateTranslation, patch.Cmd)
	require.JSONEq(t, `["m1","今日の配信は最高"]`, string(patch.Data))
}

func TestCachedTranslationAttachedSynchronously(t *testing.T) {
	orch, rooms, translator := setupOrchestrator(t, Config{TranslateEnabled: true})
	key := upstream.RoomIDKey(1)
	sub := newFakeSubscriber("in", true)
	rooms.Subscribe(key, sub)

	translator.cached["今天的直播很精彩"] = "今日の配信は最高"
	orch.HandleEvent(key, textEvent("m1", "今天的直播很精彩"))

	require.Len(t, sub.messages(), 1)
	var fields []interface{}
	require.NoError(t, json.Unmarshal(lastMessage(t, sub).Data, &fields))
	require.Equal(t, "今日の配信は最高", fields[12])
	require.Empty(t, translator.submitted())
}

func TestNoTranslationWithoutOptIns(t *testing.T) {
	orch, rooms, translator := setupOrchestrator(t, Config{TranslateEnabled: true})
	key := upstream.RoomIDKey(1)
	rooms.Subscribe(key, newFakeSubscriber("out", false))

	orch.HandleEvent(key, textEvent("m1", "今天的直播很精彩"))
	require.Empty(t, translator.submitted())
}

func TestTranslationDisabledGlobally(t *testing.T) {
	orch, rooms, translator := setupOrchestrator(t, Config{TranslateEnabled: false})
	key := upstream.RoomIDKey(1)
	rooms.Subscribe(key, newFakeSubscriber("in", true))

	orch.HandleEvent(key, textEvent("m1", "今天的直播很精彩"))
	require.Empty(t, translator.submitted())
}

func TestAllowListRestrictsRooms(t *testing.T) {
	orch, rooms, translator := setupOrchestrator(t, Config{
		TranslateEnabled: true,
		AllowRooms:       []int64{7},
	})

	allowed := upstream.RoomIDKey(7)
	denied := upstream.RoomIDKey(8)
	rooms.Subscribe(allowed, newFakeSubscriber("a", true))
	rooms.Subscribe(denied, newFakeSubscriber("b", true))

	orch.HandleEvent(denied, textEvent("m1", "今天的直播很精彩"))
	require.Empty(t, translator.submitted())

	orch.HandleEvent(allowed, textEvent("m2", "今天的直播很精彩"))
	require.Len(t, translator.submitted(), 1)
}

func TestIneligibleTextNotSubmitted(t *testing.T) {
	orch, rooms, translator := setupOrchestrator(t, Config{TranslateEnabled: true})
	key := upstream.RoomIDKey(1)
	sub := newFakeSubscriber("in", true)
	rooms.Subscribe(key, sub)

	orch.HandleEvent(key, textEvent("m1", "草"))
	require.Empty(t, translator.submitted())
	// The event itself is still delivered.
	require.Len(t, sub.messages(), 1)
}

func TestEmptyTranslationNotPatched(t *testing.T) {
	orch, rooms, translator := setupOrchestrator(t, Config{TranslateEnabled: true})
	key := upstream.RoomIDKey(1)
	sub := newFakeSubscriber("in", true)
	rooms.Subscribe(key, sub)

	orch.HandleEvent(key, textEvent("m1", "今天的直播很精彩"))
	translator.futures["今天的直播很精彩"].Resolve("")

	time.Sleep(50 * time.Millisecond)
	require.Len(t, sub.messages(), 1)
}

func TestPatchSkippedWhenRoomGone(t *testing.T) {
	orch, rooms, translator := setupOrchestrator(t, Config{TranslateEnabled: true})
	key := upstream.RoomIDKey(1)
	sub := newFakeSubscriber("in", true)
	rooms.Subscribe(key, sub)

	orch.HandleEvent(key, textEvent("m1", "今天的直播很精彩"))
	rooms.Unsubscribe(key, sub)
	rooms.tryTeardown(key)
	require.False(t, rooms.Has(key))

	translator.futures["今天的直播很精彩"].Resolve("今日の配信は最高")
	time.Sleep(50 * time.Millisecond)
	require.Len(t, sub.messages(), 1)
}

func TestSuperChatUsesHighPriorityAndPatches(t *testing.T) {
	rooms := NewRooms(&fakeConnProvider{}, time.Hour)
	translator := newFakeTranslator()
	var gotPrio translate.Priority
	recorder := &priorityRecorder{inner: translator, prio: &gotPrio}
	orch := NewOrchestrator(rooms, recorder, fakeAvatars{}, Config{TranslateEnabled: true})

	key := upstream.RoomIDKey(1)
	sub := newFakeSubscriber("in", true)
	rooms.Subscribe(key, sub)

	orch.HandleEvent(key, &event.SuperChat{
		ID:        "sc-1",
		Timestamp: time.Unix(1700000000, 0),
		UID:       9,
		Name:      "whale",
		Content:   "主播加油",
		Price:     50,
	})

	require.Equal(t, translate.PriorityHigh, gotPrio)
	require.Len(t, sub.messages(), 1)
	require.Equal(t, event.CmdAddSuperChat, lastMessage(t, sub).Cmd)

	translator.futures["主播加油"].Resolve("配信者がんばれ")
	require.Eventually(t, func() bool {
		return len(sub.messages()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, event.CmdUpdateTranslation, lastMessage(t, sub).Cmd)
}

func TestSuperChatDeleteBypassesEnrichment(t *testing.T) {
	orch, rooms, translator := setupOrchestrator(t, Config{TranslateEnabled: true})
	key := upstream.RoomIDKey(1)
	sub := newFakeSubscriber("in", true)
	rooms.Subscribe(key, sub)

	orch.HandleEvent(key, &event.SuperChatDelete{IDs: []string{"sc-1"}})

	require.Len(t, sub.messages(), 1)
	require.Equal(t, event.CmdDelSuperChat, lastMessage(t, sub).Cmd)
	require.Empty(t, translator.submitted())
}

func TestPatchGuardIsIdempotent(t *testing.T) {
	guard := newPatchGuard(4)
	require.True(t, guard.firstTime("a"))
	require.False(t, guard.firstTime("a"))
	require.True(t, guard.firstTime("b"))

	// Capacity eviction forgets the oldest ids.
	for _, id := range []string{"c", "d", "e", "f"} {
		require.True(t, guard.firstTime(id))
	}
	require.True(t, guard.firstTime("a"))
}

type priorityRecorder struct {
	inner *fakeTranslator
	prio  *translate.Priority
}

func (r *priorityRecorder) Cached(text string) (string, bool) {
	return r.inner.Cached(text)
}

func (r *priorityRecorder) Submit(text string, prio translate.Priority) *translate.Future {
	*r.prio = prio
	return r.inner.Submit(text, prio)
}
