// Package teams connects the assistant to Microsoft Teams by polling the
// Graph API. Webhook subscriptions need a public HTTPS endpoint; polling
// keeps the plugin self-contained for a personal deployment.
package teams

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

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// Config holds the teams plugin settings.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// ChatIDs are the Graph chat ids to poll. Application permissions
	// cannot enumerate /me/chats, so the chats are named explicitly.
	ChatIDs []string

	// PollInterval is the delay between Graph polling passes.
	PollInterval time.Duration
}

// Validate checks required settings and applies defaults.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return errdefs.Configf("teams: tenantId is required")
	}
	if c.ClientID == "" {
		return errdefs.Configf("teams: clientId is required")
	}
	if c.ClientSecret == "" {
		return errdefs.Configf("teams: client secret is required")
	}
	if len(c.ChatIDs) == 0 {
		return errdefs.Configf("teams: at least one chat id is required")
	}
	if c.PollInterval == 0 {
		c.PollInterval = 15 * time.Second
	}
	return nil
}

func configFromSettings(cc config.ChannelConfig) (Config, error) {
	secret, err := cc.SecretSetting("clientSecretEnvVar")
	if err != nil {
		return Config{}, err
	}
	return Config{
		TenantID:     cc.SettingString("tenantId"),
		ClientID:     cc.SettingString("clientId"),
		ClientSecret: secret,
		ChatIDs:      cc.SettingStrings("chats"),
	}, nil
}

type graphMessage struct {
	ID   string `json:"id"`
	From *struct {
		User *struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	CreatedDateTime time.Time `json:"createdDateTime"`
}

// Plugin implements channels.Plugin for Microsoft Teams.
type Plugin struct {
	mu     sync.RWMutex
	cfg    Config
	client *http.Client
	status models.ChannelStatus
	cancel context.CancelFunc
	wg     sync.WaitGroup
	rt     channels.Runtime
	logger *slog.Logger

	// lastSeen tracks the newest delivered message id per chat.
	lastSeen map[string]string
	// startedAt filters the backlog on the first poll.
	startedAt time.Time
}

func New() *Plugin { return &Plugin{logger: slog.Default()} }

func (p *Plugin) ID() models.ChannelType { return models.ChannelTeams }
func (p *Plugin) Name() string           { return "Microsoft Teams" }

func (p *Plugin) Capabilities() channels.Capabilities {
	return channels.Capabilities{
		ChatTypes: []string{"dm", "channel"},
		Threads:   true,
		Reactions: false,
		Media:     false,
	}
}

// Start acquires a Graph token via the client-credentials flow and begins
// polling. The oauth2 token source refreshes transparently.
func (p *Plugin) Start(ctx context.Context, cc config.ChannelConfig, rt channels.Runtime) error {
	cfg, err := configFromSettings(cc)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	if _, err := creds.Token(ctx); err != nil {
		p.setStatus(false, fmt.Sprintf("token: %v", err))
		return &errdefs.AuthError{Msg: fmt.Sprintf("teams: token request failed: %v", err)}
	}
	client := oauth2.NewClient(context.Background(), creds.TokenSource(context.Background()))
	client.Timeout = 30 * time.Second

	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cfg = cfg
	p.rt = rt
	if rt.Logger != nil {
		p.logger = rt.Logger
	}
	p.client = client
	p.cancel = cancel
	p.lastSeen = make(map[string]string)
	p.startedAt = time.Now()
	p.mu.Unlock()

	p.wg.Add(1)
	go p.pollLoop(runCtx)

	p.setStatus(true, "")
	p.logger.Info("teams connected", "chats", len(cfg.ChatIDs))
	return nil
}

func (p *Plugin) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.setStatus(false, "")
			return
		case <-ticker.C:
			for _, chatID := range p.cfg.ChatIDs {
				if err := p.pollChat(ctx, chatID); err != nil {
					if ctx.Err() != nil {
						return
					}
					p.logger.Warn("teams poll failed", "chat", chatID, "error", err)
				}
			}
		}
	}
}

func (p *Plugin) pollChat(ctx context.Context, chatID string) error {
	url := fmt.Sprintf("%s/chats/%s/messages?$top=20", graphBaseURL, chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("graph %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page struct {
		Value []graphMessage `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return fmt.Errorf("decode graph page: %w", err)
	}

	p.mu.Lock()
	last := p.lastSeen[chatID]
	startedAt := p.startedAt
	rt := p.rt
	p.mu.Unlock()

	// Graph returns newest first; deliver oldest first.
	var fresh []graphMessage
	for _, m := range page.Value {
		if m.ID == last {
			break
		}
		if m.CreatedDateTime.Before(startedAt) {
			continue
		}
		fresh = append(fresh, m)
	}
	if len(page.Value) > 0 {
		p.mu.Lock()
		p.lastSeen[chatID] = page.Value[0].ID
		p.mu.Unlock()
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		m := fresh[i]
		if m.From == nil || m.From.User == nil {
			continue // system or bot message
		}
		text := m.Body.Content
		if m.Body.ContentType == "html" {
			text = stripHTML(text)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		rt.OnMessage(ctx, &models.InboundMessage{
			Channel:    models.ChannelTeams,
			ChannelID:  chatID,
			SenderID:   m.From.User.ID,
			SenderName: m.From.User.DisplayName,
			Content:    text,
			Timestamp:  m.CreatedDateTime.UnixMilli(),
			Metadata: map[string]any{
				"sessionKey": channels.TeamsChannelKey(chatID),
				"isGroup":    false,
			},
		})
	}
	return nil
}

// stripHTML reduces a Graph HTML body to its text. Good enough for chat
// messages; full fidelity is not required.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	out := b.String()
	out = strings.ReplaceAll(out, "&nbsp;", " ")
	out = strings.ReplaceAll(out, "&amp;", "&")
	out = strings.ReplaceAll(out, "&lt;", "<")
	out = strings.ReplaceAll(out, "&gt;", ">")
	return strings.TrimSpace(out)
}

// Stop halts the poll loop.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.setStatus(false, "")
	p.logger.Info("teams stopped")
	return nil
}

func (p *Plugin) Status() models.ChannelStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SendMessage posts a text message into a chat.
func (p *Plugin) SendMessage(ctx context.Context, channelID string, msg models.OutboundMessage) error {
	p.mu.RLock()
	client := p.client
	connected := p.status.Connected
	p.mu.RUnlock()
	if client == nil || !connected {
		return errors.New("teams: not connected")
	}

	payload, err := json.Marshal(map[string]any{
		"body": map[string]string{"contentType": "text", "content": msg.Content},
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/chats/%s/messages", graphBaseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("teams send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("teams send %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (p *Plugin) setStatus(connected bool, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Connected = connected
	p.status.Error = errMsg
	if connected {
		if p.status.ConnectedSince == 0 {
			p.status.ConnectedSince = time.Now().UnixMilli()
		}
	} else {
		p.status.ConnectedSince = 0
	}
}
