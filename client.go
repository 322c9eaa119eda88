package peers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	tele "gopkg.in/telebot.v4"
)

var (
	// ErrNotUser is returned by [Client.User] when the reference points to a chat.
	ErrNotUser = errm.New("peer is not a user")
	// ErrPeerInvalid is returned when the reference can't be resolved to any peer.
	ErrPeerInvalid = errm.New("peer id invalid")
)

// UserProfile is live data about a user.
type UserProfile struct {
	ID        int64
	DCID      int
	FirstName string
	LastName  string
	Username  string
	IsBot     bool
	// Status is the last seen status, it is empty if it is hidden or unknown.
	Status string
}

// Mention returns a permanent HTML link to the user.
func (u UserProfile) Mention() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = strconv.FormatInt(u.ID, 10)
	}
	return `<a href="tg://user?id=` + strconv.FormatInt(u.ID, 10) + `">` + Escape(name) + "</a>"
}

// ChatProfile is live data about a chat.
// Preview profile is built from an invite link and has only type, title and members count.
type ChatProfile struct {
	ID              int64
	DCID            int
	Type            tele.ChatType
	Title           string
	Username        string
	MembersCount    int
	LinkedChatTitle string
	PhotoFileID     string
	Preview         bool
}

// Client is a messaging client that resolves peers and sends info.
type Client interface {
	// User returns a user by ID or username. It returns [ErrNotUser] if the reference is a chat
	// and [ErrPeerInvalid] if it can't be resolved.
	User(ctx context.Context, ref string) (UserProfile, error)
	// Chat returns a chat by ID, username or invite link. It returns [ErrPeerInvalid] if it can't be resolved.
	Chat(ctx context.Context, ref string) (ChatProfile, error)
	// ProfilePhotos returns the number of profile photos of the user and file ID of the current one.
	ProfilePhotos(ctx context.Context, userID int64) (int, string, error)
	// Download downloads a file to the directory and returns its path.
	Download(ctx context.Context, fileID, dir string) (string, error)
	// SendPhoto sends a photo from disk with HTML caption as a reply.
	SendPhoto(ctx context.Context, chatID int64, replyTo int, path, caption string) error
	// Notify sends a chat action, e.g. [tele.UploadingPhoto].
	Notify(ctx context.Context, chatID int64, action tele.ChatAction) error
}

// teleClient is a [Client] on top of telebot.
// Bot API doesn't expose DC IDs and last seen statuses, so they are always empty.
type teleClient struct {
	bot *tele.Bot
}

// NewClient returns a [Client] that uses the provided bot.
func NewClient(bot *tele.Bot) Client {
	return &teleClient{bot: bot}
}

func (c *teleClient) User(ctx context.Context, ref string) (UserProfile, error) {
	chat, err := c.getChat(ctx, ref)
	if err != nil {
		return UserProfile{}, err
	}
	if chat.Type != tele.ChatPrivate {
		return UserProfile{}, ErrNotUser
	}
	return UserProfile{
		ID:        chat.ID,
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
		Username:  chat.Username,
	}, nil
}

func (c *teleClient) Chat(ctx context.Context, ref string) (ChatProfile, error) {
	chat, err := c.getChat(ctx, ref)
	if err != nil {
		return ChatProfile{}, err
	}

	out := ChatProfile{
		ID:       chat.ID,
		Type:     chat.Type,
		Title:    lang.Check(chat.Title, strings.TrimSpace(chat.FirstName+" "+chat.LastName)),
		Username: chat.Username,
	}
	if chat.Photo != nil {
		out.PhotoFileID = chat.Photo.BigFileID
	}

	if chat.Type != tele.ChatPrivate {
		// members count is optional, info is shown without it
		if n, err := c.bot.Len(chat); err == nil {
			out.MembersCount = n
		}
	}
	if chat.LinkedChatID != 0 {
		if linked, err := c.bot.ChatByID(chat.LinkedChatID); err == nil {
			out.LinkedChatTitle = linked.Title
		}
	}

	return out, nil
}

func (c *teleClient) ProfilePhotos(ctx context.Context, userID int64) (int, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	// ProfilePhotosOf returns at most 100 photos without the total count
	data, err := c.bot.Raw("getUserProfilePhotos", map[string]any{
		"user_id": userID,
		"limit":   1,
	})
	if err != nil {
		return 0, "", errm.Wrap(err, "get profile photos", "user_id", userID)
	}
	return parseProfilePhotos(data)
}

// parseProfilePhotos returns total_count and file ID of the biggest size of the current photo.
func parseProfilePhotos(data []byte) (int, string, error) {
	var resp struct {
		Result struct {
			TotalCount int `json:"total_count"`
			Photos     [][]struct {
				FileID   string `json:"file_id"`
				FileSize int    `json:"file_size"`
			} `json:"photos"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, "", errm.Wrap(err, "decode profile photos")
	}

	var fileID string
	if photos := resp.Result.Photos; len(photos) > 0 && len(photos[0]) > 0 {
		sizes := photos[0]
		fileID = sizes[len(sizes)-1].FileID
	}
	return resp.Result.TotalCount, fileID, nil
}

func (c *teleClient) Download(ctx context.Context, fileID, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "peer-*.jpg")
	if err != nil {
		return "", errm.Wrap(err, "create temp file")
	}
	path := f.Name()
	f.Close()

	if err := c.bot.Download(&tele.File{FileID: fileID}, path); err != nil {
		os.Remove(path)
		return "", errm.Wrap(err, "download", "file_id", fileID)
	}
	return filepath.Clean(path), nil
}

func (c *teleClient) SendPhoto(ctx context.Context, chatID int64, replyTo int, path, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if replyTo != 0 {
		opts.ReplyTo = &tele.Message{ID: replyTo, Chat: &tele.Chat{ID: chatID}}
	}
	photo := &tele.Photo{File: tele.FromDisk(path), Caption: caption}
	if _, err := c.bot.Send(chatIDWrapper(chatID), photo, opts); err != nil {
		return errm.Wrap(err, "send photo", "chat_id", chatID)
	}
	return nil
}

func (c *teleClient) Notify(ctx context.Context, chatID int64, action tele.ChatAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.bot.Notify(chatIDWrapper(chatID), action)
}

func (c *teleClient) getChat(ctx context.Context, ref string) (*tele.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref, ok := normalizeRef(ref)
	if !ok {
		return nil, ErrPeerInvalid
	}

	var (
		chat *tele.Chat
		err  error
	)
	if id, parseErr := strconv.ParseInt(ref, 10, 64); parseErr == nil {
		chat, err = c.bot.ChatByID(id)
	} else {
		chat, err = c.bot.ChatByUsername(ref)
	}
	if err != nil || chat == nil {
		return nil, errm.Wrap(ErrPeerInvalid, "get chat", "ref", ref, "error", err)
	}
	return chat, nil
}

// normalizeRef converts a peer reference to ID or @username.
// Links like t.me/username are converted to @username, invite links can't be resolved by Bot API.
func normalizeRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	for _, prefix := range []string{"https://", "http://"} {
		ref = strings.TrimPrefix(ref, prefix)
	}
	for _, prefix := range []string{"t.me/", "telegram.me/"} {
		ref = strings.TrimPrefix(ref, prefix)
	}
	ref = strings.TrimSuffix(ref, "/")

	switch {
	case ref == "":
		return "", false
	case strings.HasPrefix(ref, "+"), strings.HasPrefix(ref, "joinchat/"):
		return "", false
	case strings.ContainsAny(ref, " /?"):
		return "", false
	}

	if _, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return ref, true
	}
	return "@" + strings.TrimPrefix(ref, "@"), true
}

type chatIDWrapper int64

func (u chatIDWrapper) Recipient() string {
	return strconv.FormatInt(int64(u), 10)
}
