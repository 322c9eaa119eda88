package peers

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze"
	tele "gopkg.in/telebot.v4"
)

// Resolution paths of info requests, they are used as metric labels.
const (
	PathReply     = "reply"
	PathSelf      = "self"
	PathHash      = "hash"
	PathReference = "reference"
)

// Request is an info command invocation.
type Request struct {
	// ChatID is the chat where the command was sent.
	ChatID int64
	// MessageID is the ID of the command message, photo is sent as a reply to it.
	MessageID int
	// Author is the user who sent the command.
	Author *tele.User
	// ReplyTo is the sender of the message the command replies to, it can be nil.
	ReplyTo *tele.User
	// Args is the command payload: a peer reference or an identifier.
	Args string
	// Language is the language of the author.
	Language Language
}

// Reply is a result of an info request.
// If PhotoSent is true, info was already sent as a photo caption and Text is empty.
type Reply struct {
	Text      string
	PhotoSent bool
}

// Reporter formats info about users and chats merged from live client data and stored records.
type Reporter struct {
	users   UsersStorage
	chats   ChatsStorage
	client  Client
	feature *Feature
	msgs    MessageProvider
	log     logze.Logger
	metr    *metrics

	owner         int64
	staff         map[int64]struct{}
	selfID        int64
	tempDir       string
	actionRefresh time.Duration
}

// ReporterOptions contains dependencies of [Reporter].
type ReporterOptions struct {
	Users    UsersStorage
	Chats    ChatsStorage
	Client   Client
	Feature  *Feature
	Messages MessageProvider
	Logger   logze.Logger
	// SelfID is the bot's own user ID.
	SelfID int64

	metr *metrics
}

// NewReporter creates a [Reporter]. Config should be prepared.
func NewReporter(opts ReporterOptions, cfg Config) (*Reporter, error) {
	if opts.Users == nil || opts.Chats == nil {
		return nil, errm.New("users and chats storages are required")
	}
	if opts.Client == nil {
		return nil, errm.New("client is required")
	}

	staff := make(map[int64]struct{}, len(cfg.Staff)+1)
	for _, id := range cfg.Staff {
		staff[id] = struct{}{}
	}
	if cfg.Owner != 0 {
		staff[cfg.Owner] = struct{}{}
	}

	return &Reporter{
		users:         opts.Users,
		chats:         opts.Chats,
		client:        opts.Client,
		feature:       opts.Feature,
		msgs:          lang.If(opts.Messages != nil, opts.Messages, NewDefaultMessageProvider()),
		log:           opts.Logger,
		metr:          opts.metr,
		owner:         cfg.Owner,
		staff:         staff,
		selfID:        opts.SelfID,
		tempDir:       lang.Check(cfg.TempDir, os.TempDir()),
		actionRefresh: lang.Check(cfg.ActionRefresh, 4*time.Second),
	}, nil
}

// ResolveAndDescribe resolves the peer of the request and describes it.
//
// Without arguments it describes the sender of the replied message or the author.
// With arguments it looks up an identifier first (only with predictive features),
// then tries the argument as a user reference and as a chat reference.
// Unresolvable references and unknown identifiers give a localized message, not an error.
func (r *Reporter) ResolveAndDescribe(ctx context.Context, req Request) (_ Reply, err error) {
	msgs := r.msgs.Messages(req.Language)
	args := strings.TrimSpace(req.Args)

	path := PathReference
	defer func() {
		r.metr.incInfoRequest(path, lang.If(err == nil, MetricsResultOK, MetricsResultError))
	}()

	if args == "" {
		user := req.Author
		path = PathSelf
		if req.ReplyTo != nil {
			user = req.ReplyTo
			path = PathReply
		}
		if user == nil {
			return Reply{Text: msgs.PeerInvalid()}, nil
		}
		return r.DescribeUser(ctx, req, profileFromUser(user))
	}

	if r.feature.Enabled() {
		if hash, ok := FindHash(args); ok {
			path = PathHash
			return r.describeByHash(ctx, req, strings.ToLower(hash))
		}
	}

	user, err := r.client.User(ctx, args)
	switch {
	case err == nil:
		return r.DescribeUser(ctx, req, user)
	case !errm.Is(err, ErrNotUser) && !errm.Is(err, ErrPeerInvalid):
		return Reply{}, errm.Wrap(err, "resolve user", "ref", args)
	}

	chat, err := r.client.Chat(ctx, args)
	switch {
	case errm.Is(err, ErrPeerInvalid):
		r.log.Debug("invalid peer reference", "ref", args, "chat_id", req.ChatID)
		return Reply{Text: msgs.PeerInvalid()}, nil
	case err != nil:
		return Reply{}, errm.Wrap(err, "resolve chat", "ref", args)
	}

	return r.DescribeChat(ctx, req, chat)
}

// DescribeUser formats info about the user. If the user has a profile photo,
// info is sent as a photo caption and the returned Reply has PhotoSent.
func (r *Reporter) DescribeUser(ctx context.Context, req Request, u UserProfile) (Reply, error) {
	msgs := r.msgs.Messages(req.Language)

	photos, photoID, err := r.client.ProfilePhotos(ctx, u.ID)
	if err != nil {
		r.log.Warn("cannot get profile photos", "user_id", u.ID, "error", err)
	}

	b := NewBuilder()
	b.Writeln(F(msgs.UserInfoTitle(u.IsBot), Bold))
	b.Writeln("")
	b.WriteField(msgs.Label(FieldID), F(strconv.FormatInt(u.ID, 10), Code))
	b.WriteField(msgs.Label(FieldDCID), F(lang.If(u.DCID != 0, strconv.Itoa(u.DCID), msgs.NotAvailable()), Code))
	if u.FirstName != "" {
		b.WriteField(msgs.Label(FieldFirstName), Escape(u.FirstName))
	}
	if u.LastName != "" {
		b.WriteField(msgs.Label(FieldLastName), Escape(u.LastName))
	}
	if u.Username != "" {
		b.WriteField(msgs.Label(FieldUsername), "@"+Escape(u.Username))
	}
	b.WriteField(msgs.Label(FieldLink), u.Mention())
	b.WriteField(msgs.Label(FieldProfilePhotos), F(strconv.Itoa(photos), Code))
	if u.Status != "" {
		b.WriteField(msgs.Label(FieldLastSeen), F(Escape(u.Status), Code))
	}

	switch {
	case r.owner != 0 && u.ID == r.owner:
		b.Writeln("")
		b.Writeln(msgs.OwnerNote())
	case r.isStaff(u.ID):
		b.Writeln("")
		b.Writeln(msgs.DevNote())
	case r.selfID != 0 && u.ID == r.selfID:
		b.Writeln("")
		b.Writeln(msgs.SelfNote())
	}

	if r.feature.Enabled() {
		rec, err := r.users.FindUser(ctx, u.ID)
		switch {
		case err == nil:
			b.Writeln("")
			b.WriteField(msgs.Label(FieldIdentifier), F(lang.Check(rec.Hash, "unknown"), Code))
			b.WriteField(msgs.Label(FieldReputation), F(strconv.Itoa(lang.Deref(rec.Reputation)), Code))
			b.Writeln(msgs.SeenOnChats(len(rec.Chats)))
		case !errm.Is(err, ErrNotFound):
			return Reply{}, errm.Wrap(err, "find user", "user_id", u.ID)
		}
	}

	return r.reply(ctx, req, strings.TrimSpace(b.String()), photoID)
}

// DescribeChat formats info about the chat. Preview chats have only type, title and members count.
// If the chat has a photo, info is sent as a photo caption and the returned Reply has PhotoSent.
func (r *Reporter) DescribeChat(ctx context.Context, req Request, c ChatProfile) (Reply, error) {
	msgs := r.msgs.Messages(req.Language)

	b := NewBuilder()
	b.Writeln(F(msgs.ChatInfoTitle(), Bold))
	b.Writeln("")

	if c.Preview {
		b.WriteField(msgs.Label(FieldChatType), F(string(c.Type), Code))
		b.WriteField(msgs.Label(FieldTitle), F(Escape(c.Title), Code))
		b.WriteField(msgs.Label(FieldMembers), F(strconv.Itoa(c.MembersCount), Code))
		return r.reply(ctx, req, strings.TrimSpace(b.String()), c.PhotoFileID)
	}

	b.WriteField(msgs.Label(FieldID), F(strconv.FormatInt(c.ID, 10), Code))
	if c.DCID != 0 {
		b.WriteField(msgs.Label(FieldDCID), F(strconv.Itoa(c.DCID), Code))
	}
	b.WriteField(msgs.Label(FieldChatType), F(string(c.Type), Code))
	b.WriteField(msgs.Label(FieldTitle), F(Escape(c.Title), Code))
	if c.Username != "" {
		b.WriteField(msgs.Label(FieldChatUsername), "@"+Escape(c.Username))
	}
	b.WriteField(msgs.Label(FieldMembers), F(strconv.Itoa(c.MembersCount), Code))
	if c.LinkedChatTitle != "" {
		b.WriteField(msgs.Label(FieldLinkedChat), F(Escape(c.LinkedChatTitle), Code))
	}

	if r.feature.Enabled() {
		rec, err := r.chats.FindChat(ctx, c.ID)
		switch {
		case err == nil:
			b.WriteField(msgs.Label(FieldIdentifier), F(lang.Check(rec.Hash, "unknown"), Code))
		case !errm.Is(err, ErrNotFound):
			return Reply{}, errm.Wrap(err, "find chat", "chat_id", c.ID)
		}
	}

	return r.reply(ctx, req, strings.TrimSpace(b.String()), c.PhotoFileID)
}

func (r *Reporter) describeByHash(ctx context.Context, req Request, hash string) (Reply, error) {
	msgs := r.msgs.Messages(req.Language)

	user, err := r.users.FindUserByHash(ctx, hash)
	switch {
	case err == nil:
		r.log.Debug("identifier resolved", "user", user.String(), "chat_id", req.ChatID)
		profile, err := r.client.User(ctx, strconv.FormatInt(user.ID, 10))
		switch {
		case errm.Is(err, ErrPeerInvalid), errm.Is(err, ErrNotUser):
			// bot can't see the user right now, show what is known
			profile = UserProfile{ID: user.ID, Username: user.Username}
		case err != nil:
			return Reply{}, errm.Wrap(err, "get user", "user_id", user.ID)
		}
		return r.DescribeUser(ctx, req, profile)

	case !errm.Is(err, ErrNotFound):
		return Reply{}, errm.Wrap(err, "find user by hash")
	}

	chat, err := r.chats.FindChatByHash(ctx, hash)
	switch {
	case errm.Is(err, ErrNotFound):
		return Reply{Text: msgs.InvalidIdentifier()}, nil
	case err != nil:
		return Reply{}, errm.Wrap(err, "find chat by hash")
	}

	profile, err := r.client.Chat(ctx, strconv.FormatInt(chat.ChatID, 10))
	switch {
	case errm.Is(err, ErrPeerInvalid):
		profile = ChatProfile{ID: chat.ChatID, Type: chat.Type, Title: chat.ChatName}
	case err != nil:
		return Reply{}, errm.Wrap(err, "get chat", "chat_id", chat.ChatID)
	}

	return r.DescribeChat(ctx, req, profile)
}

// reply sends text as a photo caption if there is a photo, otherwise returns it as a text reply.
func (r *Reporter) reply(ctx context.Context, req Request, text, photoID string) (Reply, error) {
	if photoID == "" || req.ChatID == 0 {
		return Reply{Text: text}, nil
	}

	sent, err := r.sendPhoto(ctx, req, photoID, text)
	if err != nil {
		return Reply{}, err
	}
	if !sent {
		return Reply{Text: text}, nil
	}
	return Reply{PhotoSent: true}, nil
}

// sendPhoto downloads the photo and sends it with the caption while showing "uploading photo" action.
// The downloaded file is removed on every path. It returns false if the photo cannot be downloaded.
func (r *Reporter) sendPhoto(ctx context.Context, req Request, fileID, caption string) (bool, error) {
	stop := r.startAction(ctx, req.ChatID, tele.UploadingPhoto)
	defer stop()

	path, err := r.client.Download(ctx, fileID, r.tempDir)
	if err != nil {
		r.log.Warn("cannot download photo, send text", "chat_id", req.ChatID, "error", err)
		return false, nil
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.log.Warn("cannot remove downloaded photo", "path", path, "error", err)
		}
	}()

	if err := r.client.SendPhoto(ctx, req.ChatID, req.MessageID, path, caption); err != nil {
		return false, errm.Wrap(err, "send photo")
	}

	return true, nil
}

// startAction sends chat action until the returned function is called.
// The returned function waits for the last action request to finish.
func (r *Reporter) startAction(ctx context.Context, chatID int64, action tele.ChatAction) func() {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(r.actionRefresh)
		defer ticker.Stop()

		for {
			if err := r.client.Notify(ctx, chatID, action); err != nil && ctx.Err() == nil {
				r.log.Debug("cannot send chat action", "chat_id", chatID, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (r *Reporter) isStaff(userID int64) bool {
	_, ok := r.staff[userID]
	return ok
}

func profileFromUser(u *tele.User) UserProfile {
	return UserProfile{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		IsBot:     u.IsBot,
	}
}
