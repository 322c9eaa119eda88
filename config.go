package peers

import (
	"os"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/maxbolgarin/lang"
	tele "gopkg.in/telebot.v4"
)

// Config contains peers configurations.
//
// You can use environment variables to fill it:
// PEERS_TOKEN - bot token
// PEERS_BOT_USERNAME - username of the bot for identifiers, it is taken from Telegram if empty
// PEERS_OWNER - ID of the bot owner
// PEERS_STAFF - comma separated IDs of the bot developers
// PEERS_LP_TIMEOUT - long polling timeout
// PEERS_PARSE_MODE - parse mode of info messages
// PEERS_DEFAULT_LANGUAGE_CODE - default language code
// PEERS_PREDICT_ENABLED - enable predictive features without probing
// PEERS_PREDICT_PROBE_DELAY - delay before probing predictive features
// PEERS_HASH_CACHE_CAPACITY - capacity of the known identifiers cache
// PEERS_HASH_CACHE_TTL - TTL of the known identifiers cache
// PEERS_WORKERS - number of background workers
// PEERS_OPERATION_TIMEOUT - timeout of a single event handling
// PEERS_ACTION_REFRESH - period of chat action refreshing while sending photo
// PEERS_TEMP_DIR - directory for downloaded photos
// PEERS_DEBUG - enable debug mode
// PEERS_WEBHOOK_* - webhook settings, see [WebhookConfig]
// PEERS_DB_* - MongoDB settings, see [DatabaseConfig]
type Config struct {
	// Token is the Telegram bot token.
	Token string `yaml:"token" json:"token" env:"PEERS_TOKEN"`

	// BotUsername is the username of the bot that salts identifiers.
	// Default is the username of the bot returned by Telegram.
	BotUsername string `yaml:"bot_username" json:"bot_username" env:"PEERS_BOT_USERNAME"`

	// Owner is the ID of the bot owner, info about them contains a special note.
	Owner int64 `yaml:"owner" json:"owner" env:"PEERS_OWNER"`

	// Staff is a list of IDs of the bot developers, info about them contains a special note.
	Staff []int64 `yaml:"staff" json:"staff" env:"PEERS_STAFF" env-separator:","`

	// LPTimeout is the long polling timeout.
	// Default is 15 seconds.
	LPTimeout time.Duration `yaml:"lp_timeout" json:"lp_timeout" env:"PEERS_LP_TIMEOUT"`

	// ParseMode is the parse mode of info messages. Only HTML is supported by formatting helpers.
	// Default is HTML.
	ParseMode tele.ParseMode `yaml:"mode" json:"mode" env:"PEERS_PARSE_MODE"`

	// DefaultLanguageCode is the language of messages when a user has no language code.
	// Default is "en".
	DefaultLanguageCode string `yaml:"default_language_code" json:"default_language_code" env:"PEERS_DEFAULT_LANGUAGE_CODE"`

	// PredictEnabled enables predictive features right after start without probing.
	PredictEnabled bool `yaml:"predict_enabled" json:"predict_enabled" env:"PEERS_PREDICT_ENABLED"`

	// PredictProbeDelay is a delay before probing the spam prediction plugin.
	// Default is 2 seconds.
	PredictProbeDelay time.Duration `yaml:"predict_probe_delay" json:"predict_probe_delay" env:"PEERS_PREDICT_PROBE_DELAY"`

	// HashCacheCapacity is the maximum number of cached identifiers per collection.
	// Default is 10000.
	HashCacheCapacity int `yaml:"hash_cache_capacity" json:"hash_cache_capacity" env:"PEERS_HASH_CACHE_CAPACITY"`

	// HashCacheTTL is the TTL of cached identifiers.
	// Default is 1 hour.
	HashCacheTTL time.Duration `yaml:"hash_cache_ttl" json:"hash_cache_ttl" env:"PEERS_HASH_CACHE_TTL"`

	// Workers is the number of workers that handle events in background.
	// Default is 100.
	Workers int `yaml:"workers" json:"workers" env:"PEERS_WORKERS"`

	// OperationTimeout is the timeout of handling a single event or info request.
	// Default is 10 seconds.
	OperationTimeout time.Duration `yaml:"operation_timeout" json:"operation_timeout" env:"PEERS_OPERATION_TIMEOUT"`

	// ActionRefresh is the period of sending "uploading photo" action while info photo is prepared.
	// Default is 4 seconds.
	ActionRefresh time.Duration `yaml:"action_refresh" json:"action_refresh" env:"PEERS_ACTION_REFRESH"`

	// TempDir is a directory for downloaded profile photos.
	// Default is the system temporary directory.
	TempDir string `yaml:"temp_dir" json:"temp_dir" env:"PEERS_TEMP_DIR"`

	// Debug is a flag that enables debug mode.
	Debug bool `yaml:"debug" json:"debug" env:"PEERS_DEBUG"`

	// TestMode is a flag that creates the bot in offline mode, it doesn't make requests to Telegram.
	TestMode bool `yaml:"test_mode" json:"test_mode" env:"PEERS_TEST_MODE"`

	// Webhook is the configuration of webhook, long polling is used if its URL is empty.
	Webhook WebhookConfig `yaml:"webhook" json:"webhook"`

	// DB is the configuration of MongoDB storage.
	DB DatabaseConfig `yaml:"db" json:"db"`
}

var httpsRx = regexp.MustCompile(`^https://`)

// Read reads config from the file if it is provided or from environment variables.
func (cfg *Config) Read(fileName ...string) error {
	if len(fileName) > 0 {
		return cleanenv.ReadConfig(fileName[0], cfg)
	}
	return cleanenv.ReadEnv(cfg)
}

func (cfg *Config) prepareAndValidate() error {
	cfg.ParseMode = lang.Check(cfg.ParseMode, tele.ModeHTML)
	cfg.LPTimeout = lang.Check(cfg.LPTimeout, 15*time.Second)
	cfg.DefaultLanguageCode = lang.Check(cfg.DefaultLanguageCode, "en")
	cfg.PredictProbeDelay = lang.Check(cfg.PredictProbeDelay, 2*time.Second)
	cfg.HashCacheCapacity = lang.Check(cfg.HashCacheCapacity, 10_000)
	cfg.HashCacheTTL = lang.Check(cfg.HashCacheTTL, time.Hour)
	cfg.Workers = lang.Check(cfg.Workers, 100)
	cfg.OperationTimeout = lang.Check(cfg.OperationTimeout, 10*time.Second)
	cfg.ActionRefresh = lang.Check(cfg.ActionRefresh, 4*time.Second)
	cfg.TempDir = lang.Check(cfg.TempDir, os.TempDir())
	cfg.DB.UsersCollection = lang.Check(cfg.DB.UsersCollection, UsersCollectionName)
	cfg.DB.ChatsCollection = lang.Check(cfg.DB.ChatsCollection, ChatsCollectionName)
	cfg.Webhook.prepare()

	err := validation.ValidateStruct(cfg,
		validation.Field(&cfg.Token, validation.Required.When(!cfg.TestMode)),
		validation.Field(&cfg.LPTimeout, validation.Required, validation.Min(1*time.Second)),
		validation.Field(&cfg.ParseMode, validation.Required),
		validation.Field(&cfg.DefaultLanguageCode, validation.Required, validation.Length(2, 2)),
		validation.Field(&cfg.HashCacheCapacity, validation.Min(1)),
		validation.Field(&cfg.HashCacheTTL, validation.Min(1*time.Second)),
		validation.Field(&cfg.Workers, validation.Min(1)),
		validation.Field(&cfg.OperationTimeout, validation.Min(100*time.Millisecond)),
		validation.Field(&cfg.ActionRefresh, validation.Min(1*time.Second)),
	)
	if err != nil {
		return err
	}

	err = validation.ValidateStruct(&cfg.Webhook,
		validation.Field(&cfg.Webhook.URL, is.URL, validation.Match(httpsRx).Error("must be an https URL")),
		validation.Field(&cfg.Webhook.Listen, validation.Required.When(cfg.Webhook.Enabled())),
		validation.Field(&cfg.Webhook.MaxConnections, validation.Min(0), validation.Max(100)),
		validation.Field(&cfg.Webhook.CertFile, validation.Required.When(cfg.Webhook.KeyFile != "")),
		validation.Field(&cfg.Webhook.KeyFile, validation.Required.When(cfg.Webhook.CertFile != "")),
	)
	if err != nil {
		return err
	}

	return cfg.DB.Validate()
}
