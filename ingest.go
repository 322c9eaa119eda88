package peers

import (
	"context"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze"
	tele "gopkg.in/telebot.v4"
)

// Ingestor keeps users and chats collections up to date with observed events.
// Every handler is idempotent: applying the same event twice leaves records as after the first one.
type Ingestor struct {
	users   UsersStorage
	chats   ChatsStorage
	hasher  Hasher
	feature *Feature
	cache   *hashCache
	events  *eventQueue
	tasks   *taskPool
	log     logze.Logger
	metr    *metrics

	selfID int64
}

// IngestorOptions contains dependencies of [Ingestor].
type IngestorOptions struct {
	Users   UsersStorage
	Chats   ChatsStorage
	Hasher  Hasher
	Feature *Feature
	Logger  logze.Logger
	// SelfID is the bot's own user ID, it is used to detect that the bot left a chat.
	SelfID int64

	cache  *hashCache
	events *eventQueue
	tasks  *taskPool
	metr   *metrics
}

// NewIngestor creates an [Ingestor]. Events are handled in background queues
// that should be stopped with [Ingestor.Close].
func NewIngestor(opts IngestorOptions, cfg Config) (*Ingestor, error) {
	if opts.Users == nil || opts.Chats == nil {
		return nil, errm.New("users and chats storages are required")
	}
	if opts.Feature == nil {
		opts.Feature = NewFeature()
	}

	var err error
	if opts.cache == nil {
		opts.cache, err = newHashCache(cfg.HashCacheCapacity, cfg.HashCacheTTL)
		if err != nil {
			return nil, errm.Wrap(err, "new hash cache")
		}
	}
	if opts.events == nil {
		opts.events = newEventQueue(cfg.Workers, cfg.OperationTimeout, opts.Logger, opts.metr)
	}
	if opts.tasks == nil {
		opts.tasks, err = newTaskPool(cfg.Workers, cfg.OperationTimeout, opts.Logger, opts.metr)
		if err != nil {
			return nil, errm.Wrap(err, "new task pool")
		}
	}

	return &Ingestor{
		users:   opts.Users,
		chats:   opts.Chats,
		hasher:  opts.Hasher,
		feature: opts.Feature,
		cache:   opts.cache,
		events:  opts.events,
		tasks:   opts.tasks,
		log:     opts.Logger,
		metr:    opts.metr,
		selfID:  opts.SelfID,
	}, nil
}

// Observe dispatches an update to the corresponding handler in background and returns true.
// It has a signature of telebot poller middleware, so it never blocks polling on DB.
// Events of the same chat are applied in the order of observing.
func (i *Ingestor) Observe(upd *tele.Update) bool {
	if m := upd.MyChatMember; m != nil && m.Chat != nil && m.NewChatMember != nil {
		if role := m.NewChatMember.Role; role == tele.Kicked || role == tele.Left {
			chatID := m.Chat.ID
			i.handle(chatID, MetricsEventLeft, func(ctx context.Context) error {
				return i.forgetChat(ctx, chatID)
			})
		}
		return true
	}

	msg := upd.Message
	if msg == nil {
		msg = upd.EditedMessage
	}
	if msg == nil || msg.Chat == nil {
		return true
	}

	switch {
	case msg.MigrateFrom != 0 && msg.MigrateTo == 0:
		oldChatID, newChatID := msg.MigrateFrom, msg.Chat.ID
		// keyed by the new chat to precede its messages
		i.handle(newChatID, MetricsEventMigration, func(ctx context.Context) error {
			return i.OnChatMigrated(ctx, oldChatID, newChatID)
		})

	case msg.MigrateTo != 0:
		// the same migration is reported by the new chat with MigrateFrom

	case msg.UserLeft != nil:
		chat, user := msg.Chat, msg.UserLeft
		i.handle(chat.ID, MetricsEventLeft, func(ctx context.Context) error {
			return i.OnMemberLeft(ctx, chat, user)
		})

	case msg.Sender != nil:
		chat, user, channel := msg.Chat, msg.Sender, forwardedChannel(msg)
		i.handle(chat.ID, MetricsEventActivity, func(ctx context.Context) error {
			return i.OnPeerActivity(ctx, chat, user, channel)
		})
	}

	return true
}

// OnPeerActivity handles a message from user in chat.
// Channel is a chat from which the message was forwarded, it can be nil.
func (i *Ingestor) OnPeerActivity(ctx context.Context, chat *tele.Chat, user *tele.User, channel *tele.Chat) error {
	if chat == nil || user == nil {
		return nil
	}

	predict := i.feature.Enabled()
	if predict && channel != nil {
		i.trackChannel(channel)
	}

	userUpd := UserUpsert{
		ID:       user.ID,
		Username: user.Username,
	}

	if chat.Type == tele.ChatPrivate {
		if predict {
			hash, err := i.missingUserHash(ctx, user.ID)
			if err != nil {
				return errm.Wrap(err, "find user", "user_id", user.ID)
			}
			userUpd.Hash = hash
		}

		if err := runAll(ctx, i.metr, i.upsertUser(userUpd)); err != nil {
			return err
		}
		i.cache.setUserHash(user.ID, userUpd.Hash)
		return nil
	}

	chatUpd := ChatUpsert{
		ID:   chat.ID,
		Name: chat.Title,
		Type: chat.Type,
	}
	if isGroupType(chat.Type) {
		chatUpd.MemberID = user.ID
		userUpd.ChatID = chat.ID
	}

	if predict {
		userHash, err := i.missingUserHash(ctx, user.ID)
		if err != nil {
			return errm.Wrap(err, "find user", "user_id", user.ID)
		}
		chatHash, err := i.missingChatHash(ctx, chat.ID)
		if err != nil {
			return errm.Wrap(err, "find chat", "chat_id", chat.ID)
		}
		userUpd.Hash = userHash
		userUpd.InitReputation = true
		chatUpd.Hash = chatHash
	}

	err := runAll(ctx, i.metr, i.upsertUser(userUpd), i.upsertChat(chatUpd))
	if err != nil {
		return err
	}

	i.cache.setUserHash(user.ID, userUpd.Hash)
	i.cache.setChatHash(chat.ID, chatUpd.Hash)

	return nil
}

// OnChatMigrated handles upgrade of a group to a supergroup.
// Every user with oldChatID gets newChatID instead of it and the chat record gets the new key.
func (i *Ingestor) OnChatMigrated(ctx context.Context, oldChatID, newChatID int64) error {
	if oldChatID == 0 || newChatID == 0 || oldChatID == newChatID {
		return nil
	}
	i.cache.deleteChat(oldChatID)

	return runAll(ctx, i.metr,
		mutation{"replace chat in users", func(ctx context.Context) error {
			return i.users.ReplaceChat(ctx, oldChatID, newChatID)
		}},
		mutation{"migrate chat", func(ctx context.Context) error {
			err := i.chats.MigrateChat(ctx, oldChatID, newChatID)
			if !errm.Is(err, ErrDuplicate) {
				return err
			}
			// new chat was observed before migration event, it is more recent
			i.log.Warn("migrated chat already exists, delete old record", "old_chat_id", oldChatID, "new_chat_id", newChatID)
			return i.chats.DeleteChat(ctx, oldChatID)
		}},
	)
}

// OnMemberLeft handles user leaving the chat.
// If the user is the bot itself, the chat record is deleted and the chat is removed from every user.
func (i *Ingestor) OnMemberLeft(ctx context.Context, chat *tele.Chat, user *tele.User) error {
	if chat == nil || user == nil {
		return nil
	}

	if i.selfID != 0 && user.ID == i.selfID {
		return i.forgetChat(ctx, chat.ID)
	}

	return runAll(ctx, i.metr,
		mutation{"pull chat from user", func(ctx context.Context) error {
			return i.users.PullUserChat(ctx, user.ID, chat.ID)
		}},
		mutation{"pull member", func(ctx context.Context) error {
			return i.chats.PullMember(ctx, chat.ID, user.ID)
		}},
	)
}

// forgetChat deletes the chat record and removes the chat from every user.
func (i *Ingestor) forgetChat(ctx context.Context, chatID int64) error {
	i.cache.deleteChat(chatID)
	return runAll(ctx, i.metr,
		mutation{"delete chat", func(ctx context.Context) error {
			return i.chats.DeleteChat(ctx, chatID)
		}},
		mutation{"pull chat from users", func(ctx context.Context) error {
			return i.users.PullChat(ctx, chatID)
		}},
	)
}

// Wait blocks until all background tasks are finished.
func (i *Ingestor) Wait() {
	i.events.Wait()
	i.tasks.Wait()
}

// Close waits for background tasks and stops workers.
func (i *Ingestor) Close() {
	if err := i.events.Shutdown(context.Background()); err != nil {
		i.log.Warn("cannot shutdown event queue", "error", err)
	}
	i.tasks.Release()
}

func (i *Ingestor) handle(chatID int64, event string, fn func(ctx context.Context) error) {
	i.metr.incEvent(event)
	i.events.Push(chatID, event, fn)
}

// trackChannel saves a channel from a forwarded message, nobody waits for the result.
func (i *Ingestor) trackChannel(channel *tele.Chat) {
	if !isChannelType(channel.Type) {
		return
	}
	upd := ChatUpsert{
		ID:   channel.ID,
		Name: channel.Title,
		Type: tele.ChatChannel,
	}
	i.metr.incEvent(MetricsEventChannel)
	i.tasks.Go("track channel", func(ctx context.Context) error {
		hash, err := i.missingChatHash(ctx, upd.ID)
		if err != nil {
			return errm.Wrap(err, "find channel", "chat_id", upd.ID)
		}
		upd.Hash = hash
		if err := i.chats.UpsertChat(ctx, upd); err != nil {
			return errm.Wrap(err, "upsert channel", "chat_id", upd.ID)
		}
		i.cache.setChatHash(upd.ID, hash)
		return nil
	})
}

func (i *Ingestor) upsertUser(upd UserUpsert) mutation {
	return mutation{"upsert user", func(ctx context.Context) error {
		return i.users.UpsertUser(ctx, upd)
	}}
}

func (i *Ingestor) upsertChat(upd ChatUpsert) mutation {
	return mutation{"upsert chat", func(ctx context.Context) error {
		return i.chats.UpsertChat(ctx, upd)
	}}
}

// missingUserHash returns a hash to set or empty string if the user already has one.
func (i *Ingestor) missingUserHash(ctx context.Context, userID int64) (string, error) {
	if _, ok := i.cache.userHash(userID); ok {
		return "", nil
	}
	user, err := i.users.FindUser(ctx, userID)
	switch {
	case errm.Is(err, ErrNotFound):
		return i.hasher.Hash(userID), nil
	case err != nil:
		return "", err
	}
	if user.Hash != "" {
		i.cache.setUserHash(userID, user.Hash)
		return "", nil
	}
	return i.hasher.Hash(userID), nil
}

// missingChatHash returns a hash to set or empty string if the chat already has one.
func (i *Ingestor) missingChatHash(ctx context.Context, chatID int64) (string, error) {
	if _, ok := i.cache.chatHash(chatID); ok {
		return "", nil
	}
	chat, err := i.chats.FindChat(ctx, chatID)
	switch {
	case errm.Is(err, ErrNotFound):
		return i.hasher.Hash(chatID), nil
	case err != nil:
		return "", err
	}
	if chat.Hash != "" {
		i.cache.setChatHash(chatID, chat.Hash)
		return "", nil
	}
	return i.hasher.Hash(chatID), nil
}

func forwardedChannel(msg *tele.Message) *tele.Chat {
	if msg.Origin == nil || msg.Origin.Chat == nil {
		return nil
	}
	return msg.Origin.Chat
}
