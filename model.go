package peers

import (
	"slices"
	"strconv"

	tele "gopkg.in/telebot.v4"
)

const (
	// UsersCollectionName is a default name of the users collection.
	UsersCollectionName = "USERS"
	// ChatsCollectionName is a default name of the chats collection.
	ChatsCollectionName = "CHATS"
)

// DB field names of users and chats collections.
const (
	UserIDField         = "_id"
	UserUsernameField   = "username"
	UserHashField       = "hash"
	UserReputationField = "reputation"
	UserChatsField      = "chats"

	ChatIDField      = "chat_id"
	ChatNameField    = "chat_name"
	ChatTypeField    = "type"
	ChatHashField    = "hash"
	ChatMembersField = "member"
)

// UserRecord is a structure that represents an observed user in DB.
type UserRecord struct {
	// ID is Telegram user ID.
	ID int64 `bson:"_id" json:"id"`
	// Username is the last observed username (without @).
	Username string `bson:"username" json:"username"`
	// Hash is an opaque identifier of the user. It is set once and never changed.
	Hash string `bson:"hash,omitempty" json:"hash,omitempty"`
	// Reputation is a counter initialized with zero on the first insert with predictive features.
	// It is nil if the record was created without them.
	Reputation *int `bson:"reputation,omitempty" json:"reputation,omitempty"`
	// Chats contains IDs of group chats where the user was seen. It is a set.
	Chats []int64 `bson:"chats,omitempty" json:"chats,omitempty"`
}

// HasChat returns true if the user was seen in the chat.
func (u UserRecord) HasChat(chatID int64) bool {
	return slices.Contains(u.Chats, chatID)
}

// String returns user in format '[@username|id]'.
func (u UserRecord) String() string {
	if u.Username == "" {
		return "[" + strconv.FormatInt(u.ID, 10) + "]"
	}
	return "[@" + u.Username + "|" + strconv.FormatInt(u.ID, 10) + "]"
}

// ChatRecord is a structure that represents an observed chat in DB.
type ChatRecord struct {
	// ChatID is Telegram chat ID. It is not an _id of the document because it changes
	// after a group is upgraded to a supergroup.
	ChatID int64 `bson:"chat_id" json:"chat_id"`
	// ChatName is the last observed chat title.
	ChatName string `bson:"chat_name" json:"chat_name"`
	// Type is the last observed chat type.
	Type tele.ChatType `bson:"type" json:"type"`
	// Hash is an opaque identifier of the chat. It is set once and never changed.
	Hash string `bson:"hash,omitempty" json:"hash,omitempty"`
	// Members contains IDs of users known to be present in the chat. It is a set.
	Members []int64 `bson:"member,omitempty" json:"member,omitempty"`
}

// HasMember returns true if the user is known to be present in the chat.
func (c ChatRecord) HasMember(userID int64) bool {
	return slices.Contains(c.Members, userID)
}

// UserUpsert contains changes of a user record produced by a single event.
type UserUpsert struct {
	// ID is the user ID, it is required.
	ID int64
	// Username is always set, empty string clears the username.
	Username string
	// Hash is set only if it is not empty. Caller is responsible to provide it only for records without hash.
	Hash string
	// InitReputation sets reputation to zero if the record is inserted.
	InitReputation bool
	// ChatID is added to the chats set if it is not zero.
	ChatID int64
}

// ChatUpsert contains changes of a chat record produced by a single event.
type ChatUpsert struct {
	// ID is the chat ID, it is required.
	ID int64
	// Name is the chat title.
	Name string
	// Type is the chat type.
	Type tele.ChatType
	// Hash is set only if it is not empty. Caller is responsible to provide it only for records without hash.
	Hash string
	// MemberID is added to the members set if it is not zero.
	MemberID int64
}

func isGroupType(t tele.ChatType) bool {
	return t == tele.ChatGroup || t == tele.ChatSuperGroup
}

func isChannelType(t tele.ChatType) bool {
	return t == tele.ChatChannel || t == tele.ChatChannelPrivate
}
