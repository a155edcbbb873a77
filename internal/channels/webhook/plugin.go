// Package webhook is the inbound HTTP channel. The gateway owns the HTTP
// surface and feeds accepted posts into this plugin; the plugin validates
// sources and optionally relays replies to a callback URL.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

// Config holds the webhook plugin settings.
type Config struct {
	// Sources are the accepted source names; posts naming anything else
	// are rejected.
	Sources []string

	// CallbackURL, when set, receives assistant replies as JSON posts.
	// Without it the channel is inbound-only and replies are dropped.
	CallbackURL string
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return errdefs.Configf("webhook: at least one source is required")
	}
	for _, s := range c.Sources {
		if strings.ContainsAny(s, ":/ ") || s == "" {
			return errdefs.Configf("webhook: bad source name %q", s)
		}
	}
	return nil
}

func configFromSettings(cc config.ChannelConfig) Config {
	return Config{
		Sources:     cc.SettingStrings("sources"),
		CallbackURL: cc.SettingString("callbackUrl"),
	}
}

// Plugin implements channels.Plugin for webhook ingest.
type Plugin struct {
	mu     sync.RWMutex
	cfg    Config
	status models.ChannelStatus
	rt     channels.Runtime
	logger *slog.Logger
	client *http.Client
	now    func() time.Time
}

func New() *Plugin {
	return &Plugin{
		logger: slog.Default(),
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (p *Plugin) ID() models.ChannelType { return models.ChannelWebhook }
func (p *Plugin) Name() string           { return "Webhook" }

func (p *Plugin) Capabilities() channels.Capabilities {
	return channels.Capabilities{ChatTypes: []string{"dm"}}
}

// Start validates the source list; there is no socket to open.
func (p *Plugin) Start(_ context.Context, cc config.ChannelConfig, rt channels.Runtime) error {
	cfg := configFromSettings(cc)
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg
	p.rt = rt
	if rt.Logger != nil {
		p.logger = rt.Logger
	}
	p.status = models.ChannelStatus{Connected: true, ConnectedSince: p.now().UnixMilli()}
	p.mu.Unlock()
	p.logger.Info("webhook channel ready", "sources", cfg.Sources)
	return nil
}

// Ingest accepts one inbound post from the gateway's HTTP handler. The
// source must be configured; unknown sources get a not-found error.
func (p *Plugin) Ingest(ctx context.Context, source, senderID, text string) error {
	p.mu.RLock()
	cfg := p.cfg
	rt := p.rt
	connected := p.status.Connected
	p.mu.RUnlock()
	if !connected {
		return errors.New("webhook: not started")
	}
	if !contains(cfg.Sources, source) {
		return &errdefs.NotFoundError{Kind: "webhook source", ID: source}
	}
	if strings.TrimSpace(text) == "" {
		return errdefs.Validationf("webhook: empty message")
	}
	if senderID == "" {
		senderID = source
	}

	rt.OnMessage(ctx, &models.InboundMessage{
		Channel:   models.ChannelWebhook,
		ChannelID: source,
		SenderID:  senderID,
		Content:   text,
		Timestamp: p.now().UnixMilli(),
		Metadata: map[string]any{
			"sessionKey": channels.WebhookKey(source),
			"isGroup":    false,
		},
	})
	return nil
}

// Stop marks the channel down.
func (p *Plugin) Stop(context.Context) error {
	p.mu.Lock()
	p.status = models.ChannelStatus{}
	p.mu.Unlock()
	return nil
}

func (p *Plugin) Status() models.ChannelStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SendMessage relays a reply to the callback URL when one is configured;
// without one the reply is logged and dropped.
func (p *Plugin) SendMessage(ctx context.Context, channelID string, msg models.OutboundMessage) error {
	p.mu.RLock()
	cfg := p.cfg
	connected := p.status.Connected
	p.mu.RUnlock()
	if !connected {
		return errors.New("webhook: not started")
	}
	if cfg.CallbackURL == "" {
		p.logger.Debug("webhook reply dropped, no callback url", "source", channelID)
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"source":  channelID,
		"content": msg.Content,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.CallbackURL, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook callback: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook callback status %d", resp.StatusCode)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, entry := range list {
		if entry == v {
			return true
		}
	}
	return false
}
