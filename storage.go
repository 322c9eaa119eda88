package peers

import (
	"context"

	"github.com/maxbolgarin/errm"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errm.New("not found")
	// ErrDuplicate is returned when a record with the same key already exists.
	ErrDuplicate = errm.New("duplicate")
)

// UsersStorage is a storage of observed users.
// Every method should be atomic on a single record. Removals of absent records are not errors.
type UsersStorage interface {
	// FindUser returns the user record or [ErrNotFound].
	FindUser(ctx context.Context, userID int64) (UserRecord, error)
	// FindUserByHash returns the user record with the provided hash or [ErrNotFound].
	FindUserByHash(ctx context.Context, hash string) (UserRecord, error)
	// UpsertUser applies changes to the user record, creating it if it doesn't exist.
	UpsertUser(ctx context.Context, upd UserUpsert) error
	// ReplaceChat replaces oldChatID with newChatID in chats of every user that has oldChatID.
	ReplaceChat(ctx context.Context, oldChatID, newChatID int64) error
	// PullChat removes chatID from chats of every user.
	PullChat(ctx context.Context, chatID int64) error
	// PullUserChat removes chatID from chats of the user.
	PullUserChat(ctx context.Context, userID, chatID int64) error
}

// ChatsStorage is a storage of observed chats.
// Every method should be atomic on a single record. Removals of absent records are not errors.
type ChatsStorage interface {
	// FindChat returns the chat record or [ErrNotFound].
	FindChat(ctx context.Context, chatID int64) (ChatRecord, error)
	// FindChatByHash returns the chat record with the provided hash or [ErrNotFound].
	FindChatByHash(ctx context.Context, hash string) (ChatRecord, error)
	// UpsertChat applies changes to the chat record, creating it if it doesn't exist.
	UpsertChat(ctx context.Context, upd ChatUpsert) error
	// MigrateChat rewrites the key of the chat record from oldChatID to newChatID.
	// It returns [ErrDuplicate] if a record with newChatID already exists.
	MigrateChat(ctx context.Context, oldChatID, newChatID int64) error
	// DeleteChat deletes the chat record.
	DeleteChat(ctx context.Context, chatID int64) error
	// PullMember removes userID from members of the chat.
	PullMember(ctx context.Context, chatID, userID int64) error
}
