// Package telegram connects the assistant to Telegram via long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

// Config holds the telegram plugin settings.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	// MaxReconnectAttempts bounds the polling restart loop.
	MaxReconnectAttempts int

	// ReconnectDelay is the wait between restarts.
	ReconnectDelay time.Duration
}

// Validate checks required settings and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errdefs.Configf("telegram: token is required")
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	return nil
}

// configFromSettings reads the channel blob. The token is indirect: the
// setting names an environment variable.
func configFromSettings(cc config.ChannelConfig) (Config, error) {
	token, err := cc.SecretSetting("botTokenEnvVar")
	if err != nil {
		return Config{}, err
	}
	return Config{Token: token}, nil
}

// Plugin implements channels.Plugin for Telegram.
type Plugin struct {
	mu     sync.RWMutex
	cfg    Config
	bot    *bot.Bot
	status models.ChannelStatus
	cancel context.CancelFunc
	wg     sync.WaitGroup
	rt     channels.Runtime
	logger *slog.Logger
}

func New() *Plugin { return &Plugin{logger: slog.Default()} }

func (p *Plugin) ID() models.ChannelType { return models.ChannelTelegram }
func (p *Plugin) Name() string           { return "Telegram" }

func (p *Plugin) Capabilities() channels.Capabilities {
	return channels.Capabilities{
		ChatTypes: []string{"dm", "group"},
		Threads:   false,
		Reactions: true,
		Media:     true,
	}
}

// Start connects the bot and begins long polling. It returns an error when
// the token is rejected; polling restarts are handled internally.
func (p *Plugin) Start(ctx context.Context, cc config.ChannelConfig, rt channels.Runtime) error {
	cfg, err := configFromSettings(cc)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	p.cfg = cfg
	p.rt = rt
	if rt.Logger != nil {
		p.logger = rt.Logger
	}
	p.mu.Unlock()

	b, err := bot.New(cfg.Token, bot.WithDefaultHandler(p.handleUpdate))
	if err != nil {
		p.setStatus(false, fmt.Sprintf("create bot: %v", err))
		return &errdefs.AuthError{Msg: fmt.Sprintf("telegram: bot token rejected: %v", err)}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.bot = b
	p.cancel = cancel
	p.mu.Unlock()

	p.setStatus(true, "")
	p.wg.Add(1)
	go p.pollWithRestart(runCtx)

	p.logger.Info("telegram connected")
	return nil
}

// pollWithRestart runs the long-poll loop, restarting after transient
// failures up to the configured attempt bound.
func (p *Plugin) pollWithRestart(ctx context.Context) {
	defer p.wg.Done()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			p.setStatus(false, "")
			return
		default:
		}

		// bot.Start blocks until the context is cancelled; it returning
		// early means the poll loop died.
		p.bot.Start(ctx)
		if ctx.Err() != nil {
			p.setStatus(false, "")
			return
		}

		attempts++
		msg := fmt.Sprintf("polling stopped (attempt %d/%d)", attempts, p.cfg.MaxReconnectAttempts)
		p.setStatus(false, msg)
		p.logger.Warn("telegram polling stopped", "attempt", attempts)

		if attempts >= p.cfg.MaxReconnectAttempts {
			p.logger.Error("telegram gave up reconnecting")
			return
		}
		select {
		case <-ctx.Done():
			p.setStatus(false, "")
			return
		case <-time.After(p.cfg.ReconnectDelay):
		}
		p.setStatus(true, "")
	}
}

func (p *Plugin) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	m := update.Message
	chatID := strconv.FormatInt(m.Chat.ID, 10)

	var key string
	isGroup := m.Chat.Type != "private"
	if isGroup {
		key = channels.TelegramGroupKey(chatID)
	} else {
		key = channels.TelegramDMKey(chatID)
	}

	inbound := &models.InboundMessage{
		Channel:   models.ChannelTelegram,
		ChannelID: chatID,
		SenderID:  strconv.FormatInt(m.From.ID, 10),
		Content:   m.Text,
		Timestamp: int64(m.Date) * 1000,
		Metadata: map[string]any{
			"sessionKey": key,
			"isGroup":    isGroup,
		},
	}
	if m.From.Username != "" {
		inbound.SenderName = m.From.Username
	}

	p.mu.RLock()
	rt := p.rt
	p.mu.RUnlock()
	rt.OnMessage(ctx, inbound)
}

// Stop cancels the polling loop and waits for it to exit.
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
	p.logger.Info("telegram stopped")
	return nil
}

func (p *Plugin) Status() models.ChannelStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SendMessage delivers text to a chat id.
func (p *Plugin) SendMessage(ctx context.Context, channelID string, msg models.OutboundMessage) error {
	p.mu.RLock()
	b := p.bot
	connected := p.status.Connected
	p.mu.RUnlock()
	if b == nil || !connected {
		return errors.New("telegram: not connected")
	}

	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return errdefs.Validationf("telegram: bad chat id %q", channelID)
	}
	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Content,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
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
