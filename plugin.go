package peers

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/maxbolgarin/abstract"
	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze"
	tele "gopkg.in/telebot.v4"
)

// InfoCommand is the command that describes a peer.
const InfoCommand = "/info"

// Options contains peers additional options.
type Options struct {
	// Config contains peers configuration. It is optional and has default values for all fields except token.
	Config Config

	// Users is a storage for users. It uses MongoDB from Config.DB or in-memory storage if DB is disabled.
	Users UsersStorage

	// Chats is a storage for chats. It uses MongoDB from Config.DB or in-memory storage if DB is disabled.
	Chats ChatsStorage

	// Client resolves peers and sends photos. It uses the created telebot bot by default.
	Client Client

	// Msgs is a message provider. It uses English and Russian messages by default.
	Msgs MessageProvider

	// Metrics is a metrics configuration. Metrics are disabled if Registry is nil.
	Metrics MetricsConfig

	// Probe reports whether the spam prediction plugin is available, it is called once
	// after Config.PredictProbeDelay. Predictive features are disabled if it is nil and
	// Config.PredictEnabled is false.
	Probe ProbeFunc

	// Middlewares are called on every update after it is observed by the plugin.
	Middlewares []MiddlewareFunc

	// Poller is a poller for the bot. It uses webhook from Config.Webhook or long poller by default.
	Poller tele.Poller

	logger *logze.Logger
}

// WithConfig returns an option that sets the config.
func WithConfig(cfg Config) func(*Options) {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithStorage returns an option that sets users and chats storages.
func WithStorage(users UsersStorage, chats ChatsStorage) func(*Options) {
	return func(o *Options) {
		o.Users = users
		o.Chats = chats
	}
}

// WithClient returns an option that sets the messaging client.
func WithClient(client Client) func(*Options) {
	return func(o *Options) {
		o.Client = client
	}
}

// WithMessages returns an option that sets the message provider.
func WithMessages(msgs MessageProvider) func(*Options) {
	return func(o *Options) {
		o.Msgs = msgs
	}
}

// WithLogger returns an option that sets the logger.
func WithLogger(l logze.Logger) func(*Options) {
	return func(o *Options) {
		o.logger = &l
	}
}

// WithMetrics returns an option that enables metrics.
func WithMetrics(cfg MetricsConfig) func(*Options) {
	return func(o *Options) {
		o.Metrics = cfg
	}
}

// WithProbe returns an option that sets the predictive features probe.
func WithProbe(probe ProbeFunc) func(*Options) {
	return func(o *Options) {
		o.Probe = probe
	}
}

// WithMiddleware returns an option that adds middlewares.
func WithMiddleware(f ...MiddlewareFunc) func(*Options) {
	return func(o *Options) {
		o.Middlewares = append(o.Middlewares, f...)
	}
}

// WithPoller returns an option that sets the poller.
func WithPoller(poller tele.Poller) func(*Options) {
	return func(o *Options) {
		o.Poller = poller
	}
}

// Plugin observes bot updates to keep users and chats collections up to date and answers /info command.
type Plugin struct {
	bot      *tele.Bot
	cfg      Config
	log      logze.Logger
	msgs     MessageProvider
	feature  *Feature
	ingestor *Ingestor
	reporter *Reporter

	middlewares *abstract.SafeSlice[MiddlewareFunc]

	started  atomic.Bool
	stopOnce sync.Once
}

// New creates the plugin with its own bot. The plugin is stopped on context shutdown.
// Call [Plugin.Start] to start polling.
func New(ctx contem.Context, optsFuncs ...func(*Options)) (*Plugin, error) {
	var opts Options
	for _, f := range optsFuncs {
		f(&opts)
	}
	return NewWithOptions(ctx, opts)
}

// NewWithOptions creates the plugin with options.
func NewWithOptions(ctx contem.Context, opts Options) (*Plugin, error) {
	cfg := opts.Config
	if err := cfg.prepareAndValidate(); err != nil {
		return nil, errm.Wrap(err, "validate config")
	}

	log := logze.NewDefault()
	if opts.logger != nil {
		log = *opts.logger
	}

	metr := newMetrics(opts.Metrics)

	users, chats, err := prepareStorage(ctx, cfg, opts, log)
	if err != nil {
		return nil, errm.Wrap(err, "prepare storage")
	}

	p := &Plugin{
		cfg:     cfg,
		log:     log,
		msgs:    lang.If(opts.Msgs != nil, opts.Msgs, NewDefaultMessageProvider()),
		feature: NewFeature(),

		middlewares: abstract.NewSafeSlice[MiddlewareFunc](),
	}
	p.middlewares.Append(opts.Middlewares...)

	poller := newPoller(cfg)
	if opts.Poller != nil {
		poller = opts.Poller
	}

	p.bot, err = tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  tele.NewMiddlewarePoller(poller, p.middleware),
		Client:  &http.Client{Timeout: lang.If(cfg.Webhook.Enabled(), webhookClientTimeout, 2*cfg.LPTimeout)},
		Verbose: cfg.Debug,
		OnError: func(err error, c tele.Context) {
			var chatID int64
			if c != nil && c.Chat() != nil {
				chatID = c.Chat().ID
			}
			p.log.Error(err, "bot error", "chat_id", chatID)
		},
		Offline: cfg.TestMode,
	})
	if err != nil {
		return nil, errm.Wrap(err, "new telebot")
	}

	me := lang.Deref(p.bot.Me)
	botUsername := lang.Check(cfg.BotUsername, me.Username)
	if botUsername == "" {
		log.Warn("bot username is empty, identifiers are salted with empty string")
	}

	client := opts.Client
	if client == nil {
		client = NewClient(p.bot)
	}

	p.ingestor, err = NewIngestor(IngestorOptions{
		Users:   users,
		Chats:   chats,
		Hasher:  NewHasher(botUsername),
		Feature: p.feature,
		Logger:  log,
		SelfID:  me.ID,
		metr:    metr,
	}, cfg)
	if err != nil {
		return nil, errm.Wrap(err, "new ingestor")
	}

	p.reporter, err = NewReporter(ReporterOptions{
		Users:    users,
		Chats:    chats,
		Client:   client,
		Feature:  p.feature,
		Messages: p.msgs,
		Logger:   log,
		SelfID:   me.ID,
		metr:     metr,
	}, cfg)
	if err != nil {
		return nil, errm.Wrap(err, "new reporter")
	}

	if cfg.PredictEnabled {
		p.feature.Set(true)
	} else {
		p.feature.Probe(ctx, cfg.PredictProbeDelay, opts.Probe)
	}

	p.bot.Handle(InfoCommand, p.handleInfo)

	ctx.AddFunc(p.Stop)

	return p, nil
}

// Start starts polling in a separate goroutine.
func (p *Plugin) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.log.Info("bot is starting", "username", lang.Deref(p.bot.Me).Username, "webhook", p.cfg.Webhook.Enabled())
	go p.bot.Start()
}

// Stop gracefully shuts the poller down and waits for background event handlers.
func (p *Plugin) Stop() {
	p.stopOnce.Do(func() {
		if p.started.Load() {
			p.log.Info("bot is stopping")
			p.bot.Stop()
		}
		p.ingestor.Close()
	})
}

// AddMiddleware adds middleware functions that will be called on each update.
func (p *Plugin) AddMiddleware(f ...MiddlewareFunc) {
	p.middlewares.Append(f...)
}

// Bot returns the underlying *tele.Bot.
func (p *Plugin) Bot() *tele.Bot {
	return p.bot
}

// Ingestor returns the events ingestor.
func (p *Plugin) Ingestor() *Ingestor {
	return p.ingestor
}

// Reporter returns the info reporter.
func (p *Plugin) Reporter() *Reporter {
	return p.reporter
}

// Feature returns the predictive features switch.
func (p *Plugin) Feature() *Feature {
	return p.feature
}

func (p *Plugin) middleware(upd *tele.Update) bool {
	if upd.MyChatMember != nil {
		newRole := lang.Deref(upd.MyChatMember.NewChatMember).Role
		if newRole == tele.Kicked || newRole == tele.Left {
			p.log.Info("bot is removed from chat",
				"chat_id", lang.Deref(upd.MyChatMember.Chat).ID,
				"user_id", lang.Deref(senderOf(upd)).ID,
				"old_role", lang.Deref(upd.MyChatMember.OldChatMember).Role,
				"new_role", newRole)
		}
	}

	if !p.ingestor.Observe(upd) {
		return false
	}

	for i := 0; i < p.middlewares.Len(); i++ {
		if !p.middlewares.Get(i)(upd) {
			return false
		}
	}
	return true
}

func (p *Plugin) handleInfo(c tele.Context) error {
	msg := c.Message()
	if msg == nil || c.Chat() == nil {
		return nil
	}

	timer := abstract.StartTimer()
	sender := c.Sender()

	req := Request{
		ChatID:    c.Chat().ID,
		MessageID: msg.ID,
		Author:    sender,
		Args:      msg.Payload,
		Language:  ParseLanguageOrDefault(p.cfg.DefaultLanguageCode),
	}
	if sender != nil && sender.LanguageCode != "" {
		req.Language = ParseLanguageOrDefault(sender.LanguageCode)
	}
	if msg.ReplyTo != nil {
		req.ReplyTo = msg.ReplyTo.Sender
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.OperationTimeout)
	defer cancel()

	reply, err := p.reporter.ResolveAndDescribe(ctx, req)
	if err != nil {
		p.log.Error(err, "cannot handle info", "chat_id", req.ChatID, "args", req.Args)
		return c.Reply(p.msgs.Messages(req.Language).GeneralError())
	}

	p.log.Debug("info handled", "chat_id", req.ChatID, "photo", reply.PhotoSent, "elapsed_time", timer.ElapsedTime())

	if reply.PhotoSent {
		return nil
	}
	return c.Reply(reply.Text, p.cfg.ParseMode, tele.NoPreview)
}

func prepareStorage(ctx contem.Context, cfg Config, opts Options, log logze.Logger) (UsersStorage, ChatsStorage, error) {
	if opts.Users != nil && opts.Chats != nil {
		return opts.Users, opts.Chats, nil
	}

	if cfg.DB.Disabled {
		log.Warn("database is disabled, users and chats are kept in memory")
		return NewMemoryUsers(), NewMemoryChats(), nil
	}

	db, err := NewMongo(ctx, cfg.DB, log)
	if err != nil {
		return nil, nil, errm.Wrap(err, "connect to mongodb")
	}

	users := NewMongoUsers(db.GetCollection(cfg.DB.UsersCollection))
	chats := NewMongoChats(db.GetCollection(cfg.DB.ChatsCollection))

	if err := users.EnsureIndexes(ctx); err != nil {
		return nil, nil, errm.Wrap(err, "users indexes")
	}
	if err := chats.EnsureIndexes(ctx); err != nil {
		return nil, nil, errm.Wrap(err, "chats indexes")
	}

	return lang.If[UsersStorage](opts.Users != nil, opts.Users, users),
		lang.If[ChatsStorage](opts.Chats != nil, opts.Chats, chats), nil
}
