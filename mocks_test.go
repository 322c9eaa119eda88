package peers

import (
	"context"
	"os"
	"path/filepath"

	"github.com/stretchr/testify/mock"
	tele "gopkg.in/telebot.v4"
)

// MockClient is a mock implementation of Client interface using testify/mock
type MockClient struct {
	mock.Mock
}

func (m *MockClient) User(ctx context.Context, ref string) (UserProfile, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(UserProfile), args.Error(1)
}

func (m *MockClient) Chat(ctx context.Context, ref string) (ChatProfile, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(ChatProfile), args.Error(1)
}

func (m *MockClient) ProfilePhotos(ctx context.Context, userID int64) (int, string, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.String(1), args.Error(2)
}

func (m *MockClient) Download(ctx context.Context, fileID, dir string) (string, error) {
	args := m.Called(ctx, fileID, dir)
	return args.String(0), args.Error(1)
}

func (m *MockClient) SendPhoto(ctx context.Context, chatID int64, replyTo int, path, caption string) error {
	args := m.Called(ctx, chatID, replyTo, path, caption)
	return args.Error(0)
}

func (m *MockClient) Notify(ctx context.Context, chatID int64, action tele.ChatAction) error {
	args := m.Called(ctx, chatID, action)
	return args.Error(0)
}

// MockUsersStorage is a mock implementation of UsersStorage interface using testify/mock
type MockUsersStorage struct {
	mock.Mock
}

func (m *MockUsersStorage) FindUser(ctx context.Context, userID int64) (UserRecord, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(UserRecord), args.Error(1)
}

func (m *MockUsersStorage) FindUserByHash(ctx context.Context, hash string) (UserRecord, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(UserRecord), args.Error(1)
}

func (m *MockUsersStorage) UpsertUser(ctx context.Context, upd UserUpsert) error {
	return m.Called(ctx, upd).Error(0)
}

func (m *MockUsersStorage) ReplaceChat(ctx context.Context, oldChatID, newChatID int64) error {
	return m.Called(ctx, oldChatID, newChatID).Error(0)
}

func (m *MockUsersStorage) PullChat(ctx context.Context, chatID int64) error {
	return m.Called(ctx, chatID).Error(0)
}

func (m *MockUsersStorage) PullUserChat(ctx context.Context, userID, chatID int64) error {
	return m.Called(ctx, userID, chatID).Error(0)
}

// tempPhoto creates a file that imitates a downloaded photo.
func tempPhoto(dir string) string {
	path := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o600); err != nil {
		panic(err)
	}
	return path
}
