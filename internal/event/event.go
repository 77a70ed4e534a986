package event

import "time"

// Author type values carried in the ADD_TEXT payload.
const (
	AuthorTypeNormal = 0
	AuthorTypeGuard  = 1
	AuthorTypeAdmin  = 2
	AuthorTypeOwner  = 3
)

// Guard (membership) tiers. Zero means no guard.
const (
	GuardLevelNone       = 0
	GuardLevelGovernor   = 1
	GuardLevelSupervisor = 2
	GuardLevelCaptain    = 3
)

// Text content types.
const (
	ContentTypeText     = 0
	ContentTypeEmoticon = 1
)

// Author identifies the sender of an upstream chat event.
type Author struct {
	UID              int64
	Name             string
	Type             int
	Level            int
	GuardLevel       int
	MedalLevel       int
	MedalName        string
	IsNewbie         bool
	IsMobileVerified bool
}

// Event is the normalized union of upstream chat events. Exactly one of the
// concrete types below implements it.
type Event interface {
	isEvent()
}

// Text is a chat (danmaku) message. Translation starts empty and is patched
// at most once by a later UPDATE_TRANSLATION message.
type Text struct {
	ID                string
	Timestamp         time.Time
	Author            Author
	Content           string
	IsGift            bool
	ContentType       int
	ContentTypeParams []string
	AvatarURL         string
	Translation       string
}

// Gift is a paid gift event.
type Gift struct {
	ID        string
	Timestamp time.Time
	UID       int64
	Name      string
	AvatarURL string
	GiftName  string
	Num       int
	TotalCoin int64
}

// Member is a membership (guard) purchase.
type Member struct {
	ID         string
	Timestamp  time.Time
	UID        int64
	Name       string
	AvatarURL  string
	GuardLevel int
	Num        int
	Price      int64
}

// SuperChat is a paid highlighted message.
type SuperChat struct {
	ID          string
	Timestamp   time.Time
	UID         int64
	Name        string
	AvatarURL   string
	Content     string
	Price       int64
	Translation string
}

// SuperChatDelete retracts previously delivered super chats by id.
type SuperChatDelete struct {
	IDs []string
}

func (*Text) isEvent()            {}
func (*Gift) isEvent()            {}
func (*Member) isEvent()          {}
func (*SuperChat) isEvent()       {}
func (*SuperChatDelete) isEvent() {}
