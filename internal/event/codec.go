package event

import (
	"encoding/json"
	"fmt"
)

// Downstream command codes. The client sends Heartbeat and JoinRoom; the
// server sends everything else.
const (
	CmdHeartbeat         = 0
	CmdJoinRoom          = 1
	CmdAddText           = 2
	CmdAddGift           = 3
	CmdAddMember         = 4
	CmdAddSuperChat      = 5
	CmdDelSuperChat      = 6
	CmdUpdateTranslation = 7
)

// Message is the downstream wire envelope.
type Message struct {
	Cmd  int             `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

func newMessage(cmd int, data interface{}) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal cmd %d payload: %w", cmd, err)
	}
	return Message{Cmd: cmd, Data: raw}, nil
}

func HeartbeatMessage() Message {
	return Message{Cmd: CmdHeartbeat, Data: json.RawMessage(`{}`)}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewAddTextMessage encodes a text event as the fixed-order positional array
// used on the wire to keep payloads small. Field order is part of the
// protocol and must not change.
func NewAddTextMessage(t *Text) (Message, error) {
	params := t.ContentTypeParams
	if params == nil {
		params = []string{}
	}
	data := []interface{}{
		t.AvatarURL,
		t.Timestamp.Unix(),
		t.Author.Name,
		t.Author.Type,
		t.Content,
		t.Author.GuardLevel,
		boolToInt(t.IsGift),
		t.Author.Level,
		boolToInt(t.Author.IsNewbie),
		boolToInt(t.Author.IsMobileVerified),
		t.Author.MedalLevel,
		t.ID,
		t.Translation,
		t.ContentType,
		params,
		[]interface{}{}, // reserved
		t.Author.UID,
		t.Author.MedalName,
	}
	return newMessage(CmdAddText, data)
}

type giftData struct {
	ID         string `json:"id"`
	AvatarURL  string `json:"avatarUrl"`
	Timestamp  int64  `json:"timestamp"`
	AuthorName string `json:"authorName"`
	UID        int64  `json:"uid"`
	GiftName   string `json:"giftName"`
	Num        int    `json:"num"`
	TotalCoin  int64  `json:"totalCoin"`
}

func NewAddGiftMessage(g *Gift) (Message, error) {
	return newMessage(CmdAddGift, giftData{
		ID:         g.ID,
		AvatarURL:  g.AvatarURL,
		Timestamp:  g.Timestamp.Unix(),
		AuthorName: g.Name,
		UID:        g.UID,
		GiftName:   g.GiftName,
		Num:        g.Num,
		TotalCoin:  g.TotalCoin,
	})
}

type memberData struct {
	ID            string `json:"id"`
	AvatarURL     string `json:"avatarUrl"`
	Timestamp     int64  `json:"timestamp"`
	AuthorName    string `json:"authorName"`
	UID           int64  `json:"uid"`
	PrivilegeType int    `json:"privilegeType"`
	Num           int    `json:"num"`
	Price         int64  `json:"price"`
}

func NewAddMemberMessage(m *Member) (Message, error) {
	return newMessage(CmdAddMember, memberData{
		ID:            m.ID,
		AvatarURL:     m.AvatarURL,
		Timestamp:     m.Timestamp.Unix(),
		AuthorName:    m.Name,
		UID:           m.UID,
		PrivilegeType: m.GuardLevel,
		Num:           m.Num,
		Price:         m.Price,
	})
}

type superChatData struct {
	ID          string `json:"id"`
	AvatarURL   string `json:"avatarUrl"`
	Timestamp   int64  `json:"timestamp"`
	AuthorName  string `json:"authorName"`
	UID         int64  `json:"uid"`
	Price       int64  `json:"price"`
	Content     string `json:"content"`
	Translation string `json:"translation"`
}

func NewAddSuperChatMessage(sc *SuperChat) (Message, error) {
	return newMessage(CmdAddSuperChat, superChatData{
		ID:          sc.ID,
		AvatarURL:   sc.AvatarURL,
		Timestamp:   sc.Timestamp.Unix(),
		AuthorName:  sc.Name,
		UID:         sc.UID,
		Price:       sc.Price,
		Content:     sc.Content,
		Translation: sc.Translation,
	})
}

type delSuperChatData struct {
	IDs []string `json:"ids"`
}

func NewDelSuperChatMessage(d *SuperChatDelete) (Message, error) {
	return newMessage(CmdDelSuperChat, delSuperChatData{IDs: d.IDs})
}

// NewUpdateTranslationMessage encodes a translation patch as the positional
// pair [id, translation].
func NewUpdateTranslationMessage(id, translation string) (Message, error) {
	return newMessage(CmdUpdateTranslation, []interface{}{id, translation})
}
