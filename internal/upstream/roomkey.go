package upstream

import "strconv"

// KeyKind discriminates the two ways a room can be addressed.
type KeyKind int

const (
	// KeyKindRoomID addresses a room by its public numeric id.
	KeyKindRoomID KeyKind = iota
	// KeyKindAuthCode addresses a room by an opaque identity code issued by
	// the platform's open interface.
	KeyKindAuthCode
)

// RoomKey is the immutable identifier of a room. It is comparable and used
// directly as a map key on both the subscription and connection side.
type RoomKey struct {
	Kind  KeyKind
	Value string
}

func RoomIDKey(id int64) RoomKey {
	return RoomKey{Kind: KeyKindRoomID, Value: strconv.FormatInt(id, 10)}
}

func AuthCodeKey(code string) RoomKey {
	return RoomKey{Kind: KeyKindAuthCode, Value: code}
}

// RoomID returns the numeric id for KeyKindRoomID keys.
func (k RoomKey) RoomID() (int64, bool) {
	if k.Kind != KeyKindRoomID {
		return 0, false
	}
	id, err := strconv.ParseInt(k.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// String renders the key for logs. Identity codes are partially masked so
// they cannot be replayed from log output.
func (k RoomKey) String() string {
	if k.Kind == KeyKindAuthCode {
		return "authcode:" + maskCode(k.Value)
	}
	return "room:" + k.Value
}

func maskCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:2] + "****" + code[len(code)-2:]
}
