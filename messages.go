package peers

import (
	"fmt"
	"html"
	"strings"

	"github.com/maxbolgarin/errm"
)

// MessageProvider is an interface for providing messages based on the user language code.
type MessageProvider interface {
	// Messages returns messages for a specific language.
	Messages(language Language) Messages
}

// Messages is a collection of messages for a specific language.
type Messages interface {
	// GeneralError returns the message that is sent when info request failed unexpectedly.
	GeneralError() string
	// PeerInvalid returns the message for a reference that is neither a user nor a chat.
	PeerInvalid() string
	// InvalidIdentifier returns the message for an identifier that is not found in DB.
	InvalidIdentifier() string

	// UserInfoTitle returns the header of user info.
	UserInfoTitle(isBot bool) string
	// ChatInfoTitle returns the header of chat info.
	ChatInfoTitle() string
	// Label returns the name of an info field.
	Label(f InfoField) string
	// NotAvailable is shown instead of a missing value.
	NotAvailable() string

	// OwnerNote is added to info about the bot owner.
	OwnerNote() string
	// DevNote is added to info about the bot developers.
	DevNote() string
	// SelfNote is added to info about the bot itself.
	SelfNote() string
	// SeenOnChats returns a line with the number of chats where the user was observed.
	SeenOnChats(n int) string
}

// InfoField is a field of peer info.
type InfoField string

const (
	FieldID            InfoField = "id"
	FieldDCID          InfoField = "dc_id"
	FieldFirstName     InfoField = "first_name"
	FieldLastName      InfoField = "last_name"
	FieldUsername      InfoField = "username"
	FieldLink          InfoField = "link"
	FieldProfilePhotos InfoField = "profile_photos"
	FieldLastSeen      InfoField = "last_seen"
	FieldIdentifier    InfoField = "identifier"
	FieldReputation    InfoField = "reputation"
	FieldChatType      InfoField = "chat_type"
	FieldTitle         InfoField = "title"
	FieldChatUsername  InfoField = "chat_username"
	FieldMembers       InfoField = "members"
	FieldLinkedChat    InfoField = "linked_chat"
)

// Language is a language code in ISO 639-1 format.
type Language string

const (
	LanguageDefault Language = "en"

	LanguageEnglish Language = "en"
	LanguageRussian Language = "ru"
)

// String returns the string representation of the language.
func (l Language) String() string {
	return string(l)
}

// ParseLanguage parses a language code in any case, e.g. "en", "EN", "en-US".
func ParseLanguage(code string) (Language, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "", errm.New("language code cannot be empty")
	}
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if len(code) < 2 || len(code) > 3 || strings.IndexFunc(code, notLatinLetter) >= 0 {
		return "", errm.New("invalid language code", "code", code)
	}
	return Language(code), nil
}

func notLatinLetter(r rune) bool {
	return r < 'a' || r > 'z'
}

// ParseLanguageOrDefault parses a language code and returns the default language if it is invalid.
func ParseLanguageOrDefault(code string) Language {
	l, err := ParseLanguage(code)
	if err != nil {
		return LanguageDefault
	}
	return l
}

// Format is a type of message formatting in Telegram in HTML format.
type Format string

const (
	Bold   Format = "<b>"
	Italic Format = "<i>"
	Code   Format = "<code>"

	boldEnd   = "</b>"
	italicEnd = "</i>"
	codeEnd   = "</code>"
)

// F returns a formatted string.
func F(msg string, formats ...Format) string {
	for _, f := range formats {
		switch f {
		case Bold:
			msg = string(Bold) + msg + boldEnd
		case Italic:
			msg = string(Italic) + msg + italicEnd
		case Code:
			msg = string(Code) + msg + codeEnd
		}
	}
	return msg
}

// Escape escapes a value from Telegram so it can be placed in HTML message.
func Escape(s string) string {
	return html.EscapeString(s)
}

// Builder is a wrapper for strings.Builder with additional methods.
// Empty value of Builder is ready to use.
type Builder struct {
	strings.Builder
}

// NewBuilder creates a new Builder instance.
func NewBuilder() *Builder {
	return &Builder{}
}

// Writef writes a formatted string to the builder using fmt.Sprintf.
func (b *Builder) Writef(format string, args ...any) {
	b.WriteString(fmt.Sprintf(format, args...))
}

// Writeln writes a string to the builder and adds a newline at the end.
func (b *Builder) Writeln(s string) {
	b.WriteString(s + "\n")
}

// WriteField writes a line "<b>label:</b> value".
func (b *Builder) WriteField(label, value string) {
	b.Writeln(F(label+":", Bold) + " " + value)
}

// IsEmpty returns true if the builder's length is 0.
func (b *Builder) IsEmpty() bool {
	return b.Builder.Len() == 0
}

// NewDefaultMessageProvider returns a provider with English and Russian messages.
// Unknown languages get English messages.
func NewDefaultMessageProvider() MessageProvider {
	return defaultMessageProvider{}
}

type defaultMessageProvider struct{}

func (defaultMessageProvider) Messages(language Language) Messages {
	if language == LanguageRussian {
		return ruMessages{}
	}
	return enMessages{}
}

type enMessages struct{}

func (enMessages) GeneralError() string      { return "Something went wrong, try again later" }
func (enMessages) PeerInvalid() string       { return "I can't find a user or a chat with this reference" }
func (enMessages) InvalidIdentifier() string { return "I don't know anyone with this identifier" }
func (enMessages) ChatInfoTitle() string     { return "Chat info" }
func (enMessages) NotAvailable() string      { return "N/A" }

func (enMessages) UserInfoTitle(isBot bool) string {
	if isBot {
		return "Bot info"
	}
	return "User info"
}

func (enMessages) OwnerNote() string {
	return "This person is my " + F("owner", Bold) + "!\nI would never do anything against them."
}

func (enMessages) DevNote() string {
	return "This person is one of my " + F("devs", Bold) + "!\nNearly as powerful as my owner."
}

func (enMessages) SelfNote() string {
	return "I've seen them in every chat... wait, it's me!\nAre you stalking me?"
}

func (enMessages) SeenOnChats(n int) string {
	if n == 1 {
		return "I've seen them on 1 chat."
	}
	return fmt.Sprintf("I've seen them on %d chats.", n)
}

func (enMessages) Label(f InfoField) string {
	switch f {
	case FieldID:
		return "ID"
	case FieldDCID:
		return "DC ID"
	case FieldFirstName:
		return "First name"
	case FieldLastName:
		return "Last name"
	case FieldUsername:
		return "Username"
	case FieldLink:
		return "Permanent user link"
	case FieldProfilePhotos:
		return "Number of profile pics"
	case FieldLastSeen:
		return "Last seen"
	case FieldIdentifier:
		return "Identifier"
	case FieldReputation:
		return "Reputation"
	case FieldChatType:
		return "Chat type"
	case FieldTitle:
		return "Title"
	case FieldChatUsername:
		return "Chat username"
	case FieldMembers:
		return "Member count"
	case FieldLinkedChat:
		return "Linked chat"
	}
	return string(f)
}

type ruMessages struct{}

func (ruMessages) GeneralError() string      { return "Произошла ошибка, попробуйте позже" }
func (ruMessages) PeerInvalid() string       { return "Не могу найти пользователя или чат по этой ссылке" }
func (ruMessages) InvalidIdentifier() string { return "Я не знаю никого с таким идентификатором" }
func (ruMessages) ChatInfoTitle() string     { return "Информация о чате" }
func (ruMessages) NotAvailable() string      { return "н/д" }

func (ruMessages) UserInfoTitle(isBot bool) string {
	if isBot {
		return "Информация о боте"
	}
	return "Информация о пользователе"
}

func (ruMessages) OwnerNote() string {
	return "Это мой " + F("владелец", Bold) + "!\nЯ никогда не пойду против него."
}

func (ruMessages) DevNote() string {
	return "Это один из моих " + F("разработчиков", Bold) + "!\nПочти так же всемогущ, как владелец."
}

func (ruMessages) SelfNote() string {
	return "Я видел его во всех чатах... стоп, это же я!\nВы за мной следите?"
}

func (ruMessages) SeenOnChats(n int) string {
	return fmt.Sprintf("Я видел его в чатах: %d.", n)
}

func (ruMessages) Label(f InfoField) string {
	switch f {
	case FieldID:
		return "ID"
	case FieldDCID:
		return "DC ID"
	case FieldFirstName:
		return "Имя"
	case FieldLastName:
		return "Фамилия"
	case FieldUsername:
		return "Юзернейм"
	case FieldLink:
		return "Постоянная ссылка"
	case FieldProfilePhotos:
		return "Фото профиля"
	case FieldLastSeen:
		return "Был в сети"
	case FieldIdentifier:
		return "Идентификатор"
	case FieldReputation:
		return "Репутация"
	case FieldChatType:
		return "Тип чата"
	case FieldTitle:
		return "Название"
	case FieldChatUsername:
		return "Юзернейм чата"
	case FieldMembers:
		return "Участников"
	case FieldLinkedChat:
		return "Связанный чат"
	}
	return string(f)
}
