package peers

import (
	"context"
	"testing"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

const testSelfID = 777

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{TestMode: true, DB: DatabaseConfig{Disabled: true}}
	require.NoError(t, cfg.prepareAndValidate())
	return cfg
}

func newTestIngestor(t *testing.T, predict bool, users UsersStorage, chats ChatsStorage) *Ingestor {
	t.Helper()
	return newTestIngestorWithConfig(t, testConfig(t), predict, users, chats)
}

func newTestIngestorWithConfig(t *testing.T, cfg Config, predict bool, users UsersStorage, chats ChatsStorage) *Ingestor {
	t.Helper()

	f := NewFeature()
	f.Set(predict)

	ing, err := NewIngestor(IngestorOptions{
		Users:   users,
		Chats:   chats,
		Hasher:  NewHasher("test_bot"),
		Feature: f,
		Logger:  logze.NewDefault(),
		SelfID:  testSelfID,
	}, cfg)
	require.NoError(t, err)
	t.Cleanup(ing.Close)

	return ing
}

// slowChats delays every chat upsert to make reordering of events visible.
type slowChats struct {
	*MemoryChats
	delay time.Duration
}

func (s slowChats) UpsertChat(ctx context.Context, upd ChatUpsert) error {
	time.Sleep(s.delay)
	return s.MemoryChats.UpsertChat(ctx, upd)
}

func groupChat(id int64) *tele.Chat {
	return &tele.Chat{ID: id, Type: tele.ChatSuperGroup, Title: "group"}
}

func TestOnPeerActivityGroup(t *testing.T) {
	ctx := context.Background()
	hasher := NewHasher("test_bot")

	t.Run("new user in new chat", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		err := ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 42, Username: "alice"}, nil)
		require.NoError(t, err)

		u, err := users.FindUser(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, []int64{100}, u.Chats)
		assert.Equal(t, "alice", u.Username)
		require.NotNil(t, u.Reputation)
		assert.Equal(t, 0, *u.Reputation)
		assert.Equal(t, hasher.Hash(42), u.Hash)

		c, err := chats.FindChat(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, []int64{42}, c.Members)
		assert.Equal(t, hasher.Hash(100), c.Hash)
		assert.Equal(t, tele.ChatSuperGroup, c.Type)
		assert.Equal(t, "group", c.ChatName)
	})

	t.Run("idempotent", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		chat, user := groupChat(100), &tele.User{ID: 42, Username: "alice"}
		require.NoError(t, ing.OnPeerActivity(ctx, chat, user, nil))
		u1, _ := users.FindUser(ctx, 42)
		c1, _ := chats.FindChat(ctx, 100)

		require.NoError(t, ing.OnPeerActivity(ctx, chat, user, nil))
		u2, _ := users.FindUser(ctx, 42)
		c2, _ := chats.FindChat(ctx, 100)

		assert.Equal(t, u1, u2)
		assert.Equal(t, c1, c2)
	})

	t.Run("predictive off", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, false, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 42}, nil))

		u, err := users.FindUser(ctx, 42)
		require.NoError(t, err)
		assert.Empty(t, u.Hash)
		assert.Nil(t, u.Reputation)
		assert.Equal(t, []int64{100}, u.Chats)

		c, err := chats.FindChat(ctx, 100)
		require.NoError(t, err)
		assert.Empty(t, c.Hash)
		assert.Equal(t, []int64{42}, c.Members)
	})

	t.Run("hash is never changed", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		require.NoError(t, users.UpsertUser(ctx, UserUpsert{ID: 42, Hash: "fixed"}))
		require.NoError(t, chats.UpsertChat(ctx, ChatUpsert{ID: 100, Hash: "fixed-chat"}))

		ing := newTestIngestor(t, true, users, chats)
		for range 3 {
			require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 42}, nil))
		}

		u, _ := users.FindUser(ctx, 42)
		c, _ := chats.FindChat(ctx, 100)
		assert.Equal(t, "fixed", u.Hash)
		assert.Equal(t, "fixed-chat", c.Hash)
	})

	t.Run("lazy backfill after predictive turned on", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, false, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 42}, nil))
		ing.feature.Set(true)
		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 42}, nil))

		u, _ := users.FindUser(ctx, 42)
		c, _ := chats.FindChat(ctx, 100)
		assert.Equal(t, hasher.Hash(42), u.Hash)
		assert.Equal(t, hasher.Hash(100), c.Hash)
		// record already existed, reputation is set only on insert
		assert.Nil(t, u.Reputation)
	})

	t.Run("channel message has no members", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		chat := &tele.Chat{ID: -1001, Type: tele.ChatChannel, Title: "news"}
		require.NoError(t, ing.OnPeerActivity(ctx, chat, &tele.User{ID: 42}, nil))

		c, err := chats.FindChat(ctx, -1001)
		require.NoError(t, err)
		assert.Empty(t, c.Members)
		assert.Equal(t, hasher.Hash(-1001), c.Hash)

		u, _ := users.FindUser(ctx, 42)
		assert.Empty(t, u.Chats)
	})

	t.Run("nil user is ignored", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), nil, nil))
		assert.Equal(t, 0, users.Len())
		assert.Equal(t, 0, chats.Len())
	})
}

func TestOnPeerActivityPrivate(t *testing.T) {
	ctx := context.Background()
	private := &tele.Chat{ID: 42, Type: tele.ChatPrivate}

	t.Run("predictive on", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, private, &tele.User{ID: 42, Username: "alice"}, nil))

		u, err := users.FindUser(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
		assert.Equal(t, NewHasher("test_bot").Hash(42), u.Hash)
		assert.Empty(t, u.Chats)
		assert.Equal(t, 0, chats.Len())
	})

	t.Run("predictive off", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, false, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, private, &tele.User{ID: 42, Username: "alice"}, nil))

		u, err := users.FindUser(ctx, 42)
		require.NoError(t, err)
		assert.Empty(t, u.Hash)
		assert.Nil(t, u.Reputation)
	})
}

func TestForwardedChannel(t *testing.T) {
	ctx := context.Background()
	channel := &tele.Chat{ID: -1002, Type: tele.ChatChannel, Title: "news"}

	t.Run("channel is tracked in background", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, &tele.Chat{ID: 42, Type: tele.ChatPrivate}, &tele.User{ID: 42}, channel))
		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 42}, channel))
		ing.Wait()

		c, err := chats.FindChat(ctx, -1002)
		require.NoError(t, err)
		assert.Equal(t, "news", c.ChatName)
		assert.Equal(t, tele.ChatChannel, c.Type)
		assert.Equal(t, NewHasher("test_bot").Hash(-1002), c.Hash)
		assert.Empty(t, c.Members)
	})

	t.Run("skipped without predictive", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, false, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 42}, channel))
		ing.Wait()

		_, err := chats.FindChat(ctx, -1002)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("only channels are tracked", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 42}, groupChat(200)))
		ing.Wait()

		_, err := chats.FindChat(ctx, 200)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestOnChatMigrated(t *testing.T) {
	ctx := context.Background()

	t.Run("users and chat get new id", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 1}, nil))
		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 2}, nil))
		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(200), &tele.User{ID: 2}, nil))
		before, _ := chats.FindChat(ctx, 100)

		require.NoError(t, ing.OnChatMigrated(ctx, 100, 101))

		u1, _ := users.FindUser(ctx, 1)
		u2, _ := users.FindUser(ctx, 2)
		assert.Equal(t, []int64{101}, u1.Chats)
		assert.ElementsMatch(t, []int64{101, 200}, u2.Chats)

		_, err := chats.FindChat(ctx, 100)
		assert.ErrorIs(t, err, ErrNotFound)

		after, err := chats.FindChat(ctx, 101)
		require.NoError(t, err)
		assert.Equal(t, before.Hash, after.Hash)
		assert.ElementsMatch(t, []int64{1, 2}, after.Members)
	})

	t.Run("new chat already observed", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, false, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 1}, nil))
		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(101), &tele.User{ID: 1}, nil))

		require.NoError(t, ing.OnChatMigrated(ctx, 100, 101))

		_, err := chats.FindChat(ctx, 100)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = chats.FindChat(ctx, 101)
		assert.NoError(t, err)

		u, _ := users.FindUser(ctx, 1)
		assert.Equal(t, []int64{101}, u.Chats)
	})

	t.Run("unknown chat", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		require.NoError(t, ing.OnChatMigrated(ctx, 100, 101))
		assert.Equal(t, 0, chats.Len())
	})
}

func TestOnMemberLeft(t *testing.T) {
	ctx := context.Background()

	t.Run("bot leaves", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		// user 3 was stored before this session
		require.NoError(t, users.UpsertUser(ctx, UserUpsert{ID: 3, ChatID: 100}))

		ing := newTestIngestor(t, true, users, chats)
		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 1}, nil))
		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(200), &tele.User{ID: 1}, nil))

		require.NoError(t, ing.OnMemberLeft(ctx, groupChat(100), &tele.User{ID: testSelfID}))

		_, err := chats.FindChat(ctx, 100)
		assert.ErrorIs(t, err, ErrNotFound)

		u1, _ := users.FindUser(ctx, 1)
		u3, _ := users.FindUser(ctx, 3)
		assert.Equal(t, []int64{200}, u1.Chats)
		assert.Empty(t, u3.Chats)
	})

	t.Run("bot rejoins and gets a hash again", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 1}, nil))
		require.NoError(t, ing.OnMemberLeft(ctx, groupChat(100), &tele.User{ID: testSelfID}))
		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 1}, nil))

		c, err := chats.FindChat(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, NewHasher("test_bot").Hash(100), c.Hash)
	})

	t.Run("user leaves", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 1}, nil))
		require.NoError(t, ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 2}, nil))

		require.NoError(t, ing.OnMemberLeft(ctx, groupChat(100), &tele.User{ID: 1}))

		u1, _ := users.FindUser(ctx, 1)
		assert.Empty(t, u1.Chats)

		c, err := chats.FindChat(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, c.Members)
	})

	t.Run("unknown records", func(t *testing.T) {
		ing := newTestIngestor(t, true, NewMemoryUsers(), NewMemoryChats())
		assert.NoError(t, ing.OnMemberLeft(ctx, groupChat(100), &tele.User{ID: 1}))
		assert.NoError(t, ing.OnMemberLeft(ctx, groupChat(100), &tele.User{ID: testSelfID}))
	})
}

func TestIngestorStoreErrors(t *testing.T) {
	ctx := context.Background()
	errStore := errm.New("connection reset")

	users := new(MockUsersStorage)
	users.On("UpsertUser", mock.Anything, mock.Anything).Return(errStore)
	chats := NewMemoryChats()

	ing := newTestIngestor(t, false, users, chats)

	err := ing.OnPeerActivity(ctx, groupChat(100), &tele.User{ID: 42}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	// chat mutation is not stopped by the failed user mutation
	c, err := chats.FindChat(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, c.Members)

	users.AssertExpectations(t)
}

func TestObserve(t *testing.T) {
	ctx := context.Background()

	users, chats := NewMemoryUsers(), NewMemoryChats()
	ing := newTestIngestor(t, true, users, chats)

	assert.True(t, ing.Observe(&tele.Update{}))
	assert.True(t, ing.Observe(&tele.Update{Message: &tele.Message{Chat: groupChat(100), Sender: &tele.User{ID: 1}}}))
	assert.True(t, ing.Observe(&tele.Update{EditedMessage: &tele.Message{Chat: groupChat(100), Sender: &tele.User{ID: 2}}}))
	ing.Wait()

	c, err := chats.FindChat(ctx, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, c.Members)

	// old group reports migration too, it is ignored
	assert.True(t, ing.Observe(&tele.Update{Message: &tele.Message{Chat: groupChat(100), MigrateTo: 101}}))
	ing.Wait()
	_, err = chats.FindChat(ctx, 100)
	require.NoError(t, err)

	assert.True(t, ing.Observe(&tele.Update{Message: &tele.Message{Chat: groupChat(101), MigrateFrom: 100}}))
	ing.Wait()

	_, err = chats.FindChat(ctx, 100)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = chats.FindChat(ctx, 101)
	require.NoError(t, err)
	u, _ := users.FindUser(ctx, 1)
	assert.Equal(t, []int64{101}, u.Chats)

	assert.True(t, ing.Observe(&tele.Update{Message: &tele.Message{
		Chat:     groupChat(101),
		Sender:   &tele.User{ID: 2},
		UserLeft: &tele.User{ID: 2},
	}}))
	ing.Wait()

	c, _ = chats.FindChat(ctx, 101)
	assert.Equal(t, []int64{1}, c.Members)
	u, _ = users.FindUser(ctx, 2)
	assert.Empty(t, u.Chats)
}

func TestObserveKeepsChatOrder(t *testing.T) {
	ctx := context.Background()

	users, chats := NewMemoryUsers(), NewMemoryChats()
	ing := newTestIngestor(t, true, users, slowChats{MemoryChats: chats, delay: 50 * time.Millisecond})

	ing.Observe(&tele.Update{Message: &tele.Message{Chat: groupChat(100), Sender: &tele.User{ID: 2}}})
	ing.Observe(&tele.Update{Message: &tele.Message{Chat: groupChat(100), UserLeft: &tele.User{ID: 2}}})
	ing.Wait()

	c, err := chats.FindChat(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, c.Members)
	u, err := users.FindUser(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, u.Chats)
}

func TestObserveDoesNotDropEvents(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Workers = 2

	users, chats := NewMemoryUsers(), NewMemoryChats()
	ing := newTestIngestorWithConfig(t, cfg, false, users, slowChats{MemoryChats: chats, delay: 20 * time.Millisecond})

	for id := int64(1); id <= 5; id++ {
		assert.True(t, ing.Observe(&tele.Update{Message: &tele.Message{Chat: groupChat(100), Sender: &tele.User{ID: id}}}))
	}
	for id := int64(200); id < 205; id++ {
		assert.True(t, ing.Observe(&tele.Update{Message: &tele.Message{Chat: groupChat(id), Sender: &tele.User{ID: 1}}}))
	}
	ing.Wait()

	c, err := chats.FindChat(ctx, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4, 5}, c.Members)
	u, err := users.FindUser(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{100, 200, 201, 202, 203, 204}, u.Chats)
}

func TestObserveBotRemoved(t *testing.T) {
	ctx := context.Background()

	for _, role := range []tele.MemberStatus{tele.Kicked, tele.Left} {
		t.Run(string(role), func(t *testing.T) {
			users, chats := NewMemoryUsers(), NewMemoryChats()
			ing := newTestIngestor(t, true, users, chats)

			ing.Observe(&tele.Update{Message: &tele.Message{Chat: groupChat(100), Sender: &tele.User{ID: 1}}})
			ing.Observe(&tele.Update{Message: &tele.Message{Chat: groupChat(200), Sender: &tele.User{ID: 1}}})
			assert.True(t, ing.Observe(&tele.Update{MyChatMember: &tele.ChatMemberUpdate{
				Chat:          groupChat(100),
				Sender:        &tele.User{ID: 1},
				OldChatMember: &tele.ChatMember{Role: tele.Member, User: &tele.User{ID: testSelfID}},
				NewChatMember: &tele.ChatMember{Role: role, User: &tele.User{ID: testSelfID}},
			}}))
			ing.Wait()

			_, err := chats.FindChat(ctx, 100)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = chats.FindChat(ctx, 200)
			require.NoError(t, err)
			u, err := users.FindUser(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, []int64{200}, u.Chats)
		})
	}

	t.Run("bot promoted", func(t *testing.T) {
		users, chats := NewMemoryUsers(), NewMemoryChats()
		ing := newTestIngestor(t, true, users, chats)

		ing.Observe(&tele.Update{Message: &tele.Message{Chat: groupChat(100), Sender: &tele.User{ID: 1}}})
		ing.Observe(&tele.Update{MyChatMember: &tele.ChatMemberUpdate{
			Chat:          groupChat(100),
			NewChatMember: &tele.ChatMember{Role: tele.Administrator, User: &tele.User{ID: testSelfID}},
		}})
		ing.Wait()

		_, err := chats.FindChat(ctx, 100)
		require.NoError(t, err)
	})
}
