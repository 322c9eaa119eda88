package peers

import (
	"context"
	"slices"
	"sync"

	"github.com/maxbolgarin/lang"
)

// MemoryUsers is an in-memory [UsersStorage]. It is used when DB is disabled and in tests.
type MemoryUsers struct {
	users map[int64]UserRecord
	mu    sync.RWMutex
}

// NewMemoryUsers returns an empty in-memory users storage.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[int64]UserRecord)}
}

func (m *MemoryUsers) FindUser(_ context.Context, userID int64) (UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrNotFound
	}
	return copyUser(u), nil
}

func (m *MemoryUsers) FindUserByHash(_ context.Context, hash string) (UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Hash != "" && u.Hash == hash {
			return copyUser(u), nil
		}
	}
	return UserRecord{}, ErrNotFound
}

func (m *MemoryUsers) UpsertUser(_ context.Context, upd UserUpsert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, found := m.users[upd.ID]
	if !found {
		u = UserRecord{ID: upd.ID}
		if upd.InitReputation {
			u.Reputation = lang.Ptr(0)
		}
	}

	u.Username = upd.Username
	if upd.Hash != "" {
		u.Hash = upd.Hash
	}
	if upd.ChatID != 0 {
		u.Chats = appendUnique(u.Chats, upd.ChatID)
	}

	m.users[upd.ID] = u
	return nil
}

func (m *MemoryUsers) ReplaceChat(_ context.Context, oldChatID, newChatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, u := range m.users {
		if !u.HasChat(oldChatID) {
			continue
		}
		u.Chats = appendUnique(pullFromSet(u.Chats, oldChatID), newChatID)
		m.users[id] = u
	}
	return nil
}

func (m *MemoryUsers) PullChat(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, u := range m.users {
		if !u.HasChat(chatID) {
			continue
		}
		u.Chats = pullFromSet(u.Chats, chatID)
		m.users[id] = u
	}
	return nil
}

func (m *MemoryUsers) PullUserChat(_ context.Context, userID, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.Chats = pullFromSet(u.Chats, chatID)
	m.users[userID] = u
	return nil
}

// Len returns number of stored users.
func (m *MemoryUsers) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// MemoryChats is an in-memory [ChatsStorage]. It is used when DB is disabled and in tests.
type MemoryChats struct {
	chats map[int64]ChatRecord
	mu    sync.RWMutex
}

// NewMemoryChats returns an empty in-memory chats storage.
func NewMemoryChats() *MemoryChats {
	return &MemoryChats{chats: make(map[int64]ChatRecord)}
}

func (m *MemoryChats) FindChat(_ context.Context, chatID int64) (ChatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chats[chatID]
	if !ok {
		return ChatRecord{}, ErrNotFound
	}
	return copyChat(c), nil
}

func (m *MemoryChats) FindChatByHash(_ context.Context, hash string) (ChatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.chats {
		if c.Hash != "" && c.Hash == hash {
			return copyChat(c), nil
		}
	}
	return ChatRecord{}, ErrNotFound
}

func (m *MemoryChats) UpsertChat(_ context.Context, upd ChatUpsert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, found := m.chats[upd.ID]
	if !found {
		c = ChatRecord{ChatID: upd.ID}
	}

	c.ChatName = upd.Name
	c.Type = upd.Type
	if upd.Hash != "" {
		c.Hash = upd.Hash
	}
	if upd.MemberID != 0 {
		c.Members = appendUnique(c.Members, upd.MemberID)
	}

	m.chats[upd.ID] = c
	return nil
}

func (m *MemoryChats) MigrateChat(_ context.Context, oldChatID, newChatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[oldChatID]
	if !ok {
		return nil
	}
	if _, exists := m.chats[newChatID]; exists {
		return ErrDuplicate
	}

	delete(m.chats, oldChatID)
	c.ChatID = newChatID
	m.chats[newChatID] = c

	return nil
}

func (m *MemoryChats) DeleteChat(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.chats, chatID)
	return nil
}

func (m *MemoryChats) PullMember(_ context.Context, chatID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok || !c.HasMember(userID) {
		return nil
	}
	c.Members = pullFromSet(c.Members, userID)
	m.chats[chatID] = c
	return nil
}

// Len returns number of stored chats.
func (m *MemoryChats) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chats)
}

func appendUnique(s []int64, v int64) []int64 {
	if slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}

func pullFromSet(s []int64, v int64) []int64 {
	return slices.DeleteFunc(s, func(x int64) bool { return x == v })
}

func copyUser(u UserRecord) UserRecord {
	u.Chats = slices.Clone(u.Chats)
	if u.Reputation != nil {
		u.Reputation = lang.Ptr(*u.Reputation)
	}
	return u
}

func copyChat(c ChatRecord) ChatRecord {
	c.Members = slices.Clone(c.Members)
	return c
}
