package peers

import (
	"time"

	"github.com/maxbolgarin/lang"
	tele "gopkg.in/telebot.v4"
)

// allowedUpdates are update types the plugin needs: messages for ingestion and /info,
// my_chat_member for logging of bot removals.
var allowedUpdates = []string{"message", "edited_message", "my_chat_member"}

// WebhookConfig contains webhook configuration. Webhook is used instead of long polling if URL is set.
type WebhookConfig struct {
	// URL is the public HTTPS URL Telegram sends updates to.
	URL string `yaml:"url" json:"url" env:"PEERS_WEBHOOK_URL"`

	// Listen is the address of the local HTTP server.
	// Default is ":8443".
	Listen string `yaml:"listen" json:"listen" env:"PEERS_WEBHOOK_LISTEN"`

	// SecretToken is checked in X-Telegram-Bot-Api-Secret-Token header of every request.
	SecretToken string `yaml:"secret_token" json:"secret_token" env:"PEERS_WEBHOOK_SECRET_TOKEN"`

	// MaxConnections is the maximum number of simultaneous connections from Telegram.
	// Default is 40.
	MaxConnections int `yaml:"max_connections" json:"max_connections" env:"PEERS_WEBHOOK_MAX_CONNECTIONS"`

	// DropPendingUpdates drops updates that were sent while the webhook was not set.
	DropPendingUpdates bool `yaml:"drop_pending_updates" json:"drop_pending_updates" env:"PEERS_WEBHOOK_DROP_PENDING_UPDATES"`

	// CertFile and KeyFile enable TLS on the local server.
	CertFile string `yaml:"cert_file" json:"cert_file" env:"PEERS_WEBHOOK_CERT_FILE"`
	KeyFile  string `yaml:"key_file" json:"key_file" env:"PEERS_WEBHOOK_KEY_FILE"`
}

// Enabled returns true if webhook should be used instead of long polling.
func (cfg WebhookConfig) Enabled() bool {
	return cfg.URL != ""
}

func (cfg *WebhookConfig) prepare() {
	if !cfg.Enabled() {
		return
	}
	cfg.Listen = lang.Check(cfg.Listen, ":8443")
	cfg.MaxConnections = lang.Check(cfg.MaxConnections, 40)
}

// newPoller returns a poller for updates: webhook if it is configured, long poller otherwise.
func newPoller(cfg Config) tele.Poller {
	if !cfg.Webhook.Enabled() {
		return &tele.LongPoller{Timeout: cfg.LPTimeout, AllowedUpdates: allowedUpdates}
	}

	wh := &tele.Webhook{
		Listen:         cfg.Webhook.Listen,
		MaxConnections: cfg.Webhook.MaxConnections,
		AllowedUpdates: allowedUpdates,
		DropUpdates:    cfg.Webhook.DropPendingUpdates,
		SecretToken:    cfg.Webhook.SecretToken,
		Endpoint:       &tele.WebhookEndpoint{PublicURL: cfg.Webhook.URL},
	}
	if cfg.Webhook.CertFile != "" && cfg.Webhook.KeyFile != "" {
		wh.TLS = &tele.WebhookTLS{Key: cfg.Webhook.KeyFile, Cert: cfg.Webhook.CertFile}
	}

	return wh
}

// webhookClientTimeout is an HTTP client timeout when updates are pushed by Telegram
// and there are no long polling requests.
const webhookClientTimeout = 30 * time.Second
