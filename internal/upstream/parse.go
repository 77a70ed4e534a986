package upstream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/live-chat-relay/internal/event"
)

// parseCommand decodes one platform command body into a normalized event.
// Commands the relay does not care about return (nil, nil).
func parseCommand(body []byte, ownerUID int64) (event.Event, error) {
	var envelope struct {
		Cmd  string          `json:"cmd"`
		Data json.RawMessage `json:"data"`
		Info []interface{}   `json:"info"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse command envelope: %w", err)
	}

	switch {
	// The danmaku command name carries variable suffixes, e.g.
	// "DANMU_MSG:4:0:2:2:2:0".
	case strings.HasPrefix(envelope.Cmd, "DANMU_MSG"):
		return parseDanmu(envelope.Info, ownerUID)
	case envelope.Cmd == "SEND_GIFT":
		return parseGift(envelope.Data)
	case envelope.Cmd == "GUARD_BUY":
		return parseGuardBuy(envelope.Data)
	case envelope.Cmd == "SUPER_CHAT_MESSAGE":
		return parseSuperChat(envelope.Data)
	case envelope.Cmd == "SUPER_CHAT_MESSAGE_DELETE":
		return parseSuperChatDelete(envelope.Data)
	default:
		return nil, nil
	}
}

func parseDanmu(info []interface{}, ownerUID int64) (event.Event, error) {
	if len(info) < 5 {
		return nil, fmt.Errorf("danmaku info too short: %d elements", len(info))
	}
	meta, _ := info[0].([]interface{})
	content, _ := info[1].(string)
	user, _ := info[2].([]interface{})
	medal, _ := info[3].([]interface{})
	levelInfo, _ := info[4].([]interface{})
	if meta == nil || user == nil {
		return nil, fmt.Errorf("danmaku info missing meta or user block")
	}

	author := event.Author{
		UID:  asInt64(indexOf(user, 0)),
		Name: asString(indexOf(user, 1)),
	}
	author.IsMobileVerified = asInt(indexOf(user, 6)) == 1
	// rank 10000 marks an established account.
	author.IsNewbie = asInt(indexOf(user, 5)) != 10000
	if len(medal) >= 2 {
		author.MedalLevel = asInt(medal[0])
		author.MedalName = asString(medal[1])
	}
	if len(levelInfo) >= 1 {
		author.Level = asInt(levelInfo[0])
	}
	if len(info) > 7 {
		author.GuardLevel = asInt(info[7])
	}
	switch {
	case author.UID == ownerUID && ownerUID != 0:
		author.Type = event.AuthorTypeOwner
	case asInt(indexOf(user, 2)) == 1:
		author.Type = event.AuthorTypeAdmin
	case author.GuardLevel > 0:
		author.Type = event.AuthorTypeGuard
	}

	text := &event.Text{
		ID:          uuid.NewString(),
		Timestamp:   time.UnixMilli(asInt64(indexOf(meta, 4))),
		Author:      author,
		Content:     content,
		IsGift:      asInt(indexOf(meta, 9)) > 0,
		ContentType: event.ContentTypeText,
	}
	// Emoticon danmaku carries the image url in the meta block.
	if asInt(indexOf(meta, 12)) == 1 {
		if params, ok := indexOf(meta, 13).(map[string]interface{}); ok {
			text.ContentType = event.ContentTypeEmoticon
			text.ContentTypeParams = []string{asString(params["url"])}
		}
	}
	return text, nil
}

func parseGift(data json.RawMessage) (event.Event, error) {
	var gift struct {
		GiftName  string `json:"giftName"`
		Num       int    `json:"num"`
		UName     string `json:"uname"`
		Face      string `json:"face"`
		UID       int64  `json:"uid"`
		Timestamp int64  `json:"timestamp"`
		CoinType  string `json:"coin_type"`
		TotalCoin int64  `json:"total_coin"`
	}
	if err := json.Unmarshal(data, &gift); err != nil {
		return nil, fmt.Errorf("failed to parse gift: %w", err)
	}
	// Free (silver) gifts are noise; only paid gifts are relayed.
	if gift.CoinType != "gold" {
		return nil, nil
	}
	return &event.Gift{
		ID:        uuid.NewString(),
		Timestamp: time.Unix(gift.Timestamp, 0),
		UID:       gift.UID,
		Name:      gift.UName,
		AvatarURL: gift.Face,
		GiftName:  gift.GiftName,
		Num:       gift.Num,
		TotalCoin: gift.TotalCoin,
	}, nil
}

func parseGuardBuy(data json.RawMessage) (event.Event, error) {
	var guard struct {
		UID        int64  `json:"uid"`
		Username   string `json:"username"`
		GuardLevel int    `json:"guard_level"`
		Num        int    `json:"num"`
		Price      int64  `json:"price"`
		StartTime  int64  `json:"start_time"`
	}
	if err := json.Unmarshal(data, &guard); err != nil {
		return nil, fmt.Errorf("failed to parse guard purchase: %w", err)
	}
	return &event.Member{
		ID:         uuid.NewString(),
		Timestamp:  time.Unix(guard.StartTime, 0),
		UID:        guard.UID,
		Name:       guard.Username,
		GuardLevel: guard.GuardLevel,
		Num:        guard.Num,
		Price:      guard.Price,
	}, nil
}

func parseSuperChat(data json.RawMessage) (event.Event, error) {
	var sc struct {
		ID        int64  `json:"id"`
		UID       int64  `json:"uid"`
		Price     int64  `json:"price"`
		Message   string `json:"message"`
		StartTime int64  `json:"start_time"`
		UserInfo  struct {
			UName string `json:"uname"`
			Face  string `json:"face"`
		} `json:"user_info"`
	}
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse super chat: %w", err)
	}
	return &event.SuperChat{
		ID:        strconv.FormatInt(sc.ID, 10),
		Timestamp: time.Unix(sc.StartTime, 0),
		UID:       sc.UID,
		Name:      sc.UserInfo.UName,
		AvatarURL: sc.UserInfo.Face,
		Content:   sc.Message,
		Price:     sc.Price,
	}, nil
}

func parseSuperChatDelete(data json.RawMessage) (event.Event, error) {
	var del struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.Unmarshal(data, &del); err != nil {
		return nil, fmt.Errorf("failed to parse super chat deletion: %w", err)
	}
	ids := make([]string, 0, len(del.IDs))
	for _, id := range del.IDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return &event.SuperChatDelete{IDs: ids}, nil
}

func indexOf(arr []interface{}, i int) interface{} {
	if i < 0 || i >= len(arr) {
		return nil
	}
	return arr[i]
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

func asInt(v interface{}) int {
	return int(asInt64(v))
}
