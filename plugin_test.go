package peers

import (
	"context"
	"testing"

	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/logze"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func newTestPlugin(t *testing.T, optsFuncs ...func(*Options)) (*Plugin, *MemoryUsers, *MemoryChats) {
	t.Helper()

	ctx := contem.New()
	t.Cleanup(func() { _ = ctx.Shutdown() })

	users, chats := NewMemoryUsers(), NewMemoryChats()
	cfg := Config{
		TestMode:       true,
		BotUsername:    "test_bot",
		PredictEnabled: true,
		DB:             DatabaseConfig{Disabled: true},
	}

	opts := append([]func(*Options){
		WithConfig(cfg),
		WithStorage(users, chats),
		WithClient(new(MockClient)),
		WithLogger(logze.NewDefault()),
	}, optsFuncs...)

	p, err := New(ctx, opts...)
	require.NoError(t, err)

	return p, users, chats
}

func TestNewPlugin(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		p, _, _ := newTestPlugin(t)

		assert.NotNil(t, p.Bot())
		assert.NotNil(t, p.Ingestor())
		assert.NotNil(t, p.Reporter())
		assert.True(t, p.Feature().Enabled())

		// stop without start doesn't block
		p.Stop()
		p.Stop()
	})

	t.Run("invalid config", func(t *testing.T) {
		ctx := contem.New()
		defer ctx.Shutdown()

		_, err := New(ctx, WithConfig(Config{DB: DatabaseConfig{Disabled: true}}))
		assert.Error(t, err)
	})
}

func TestPluginMiddleware(t *testing.T) {
	ctx := context.Background()

	var seen []int
	p, users, chats := newTestPlugin(t, WithMiddleware(func(upd *tele.Update) bool {
		seen = append(seen, upd.ID)
		return upd.ID != 2
	}))

	upd := &tele.Update{
		ID: 1,
		Message: &tele.Message{
			Chat:   &tele.Chat{ID: -100, Type: tele.ChatSuperGroup, Title: "group"},
			Sender: &tele.User{ID: 42, Username: "alice"},
		},
	}
	assert.True(t, p.middleware(upd))
	assert.False(t, p.middleware(&tele.Update{ID: 2}))
	p.Ingestor().Wait()

	assert.Equal(t, []int{1, 2}, seen)

	u, err := users.FindUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []int64{-100}, u.Chats)
	assert.Equal(t, NewHasher("test_bot").Hash(42), u.Hash)

	c, err := chats.FindChat(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, c.Members)
}

func TestSenderOf(t *testing.T) {
	user := &tele.User{ID: 1}

	assert.Equal(t, user, senderOf(&tele.Update{Message: &tele.Message{Sender: user}}))
	assert.Equal(t, user, senderOf(&tele.Update{EditedMessage: &tele.Message{Sender: user}}))
	assert.Equal(t, user, senderOf(&tele.Update{MyChatMember: &tele.ChatMemberUpdate{Sender: user}}))
	assert.Nil(t, senderOf(&tele.Update{}))
}
