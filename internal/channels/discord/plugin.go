// Package discord connects the assistant to Discord over the gateway
// websocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

// Config holds the discord plugin settings.
type Config struct {
	// Token is the bot token from the developer portal.
	Token string

	// GuildAllowlist restricts guild messages to these guild ids when set.
	GuildAllowlist []string
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errdefs.Configf("discord: token is required")
	}
	return nil
}

func configFromSettings(cc config.ChannelConfig) (Config, error) {
	token, err := cc.SecretSetting("botTokenEnvVar")
	if err != nil {
		return Config{}, err
	}
	return Config{
		Token:          token,
		GuildAllowlist: cc.SettingStrings("guilds"),
	}, nil
}

// Plugin implements channels.Plugin for Discord.
type Plugin struct {
	mu      sync.RWMutex
	cfg     Config
	session *discordgo.Session
	selfID  string
	status  models.ChannelStatus
	rt      channels.Runtime
	logger  *slog.Logger
}

func New() *Plugin { return &Plugin{logger: slog.Default()} }

func (p *Plugin) ID() models.ChannelType { return models.ChannelDiscord }
func (p *Plugin) Name() string           { return "Discord" }

func (p *Plugin) Capabilities() channels.Capabilities {
	return channels.Capabilities{
		ChatTypes: []string{"dm", "channel"},
		Threads:   true,
		Reactions: true,
		Media:     true,
	}
}

// Start opens the gateway session. discordgo reconnects on its own; Start
// only fails on bad credentials or an unreachable gateway.
func (p *Plugin) Start(_ context.Context, cc config.ChannelConfig, rt channels.Runtime) error {
	cfg, err := configFromSettings(cc)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return &errdefs.AuthError{Msg: fmt.Sprintf("discord: session: %v", err)}
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	p.mu.Lock()
	p.cfg = cfg
	p.rt = rt
	if rt.Logger != nil {
		p.logger = rt.Logger
	}
	p.session = s
	p.mu.Unlock()

	s.AddHandler(p.onMessageCreate)
	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Connect) {
		p.setStatus(true, "")
	})
	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		p.setStatus(false, "gateway disconnected")
	})

	if err := s.Open(); err != nil {
		p.setStatus(false, fmt.Sprintf("open: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}
	if s.State != nil && s.State.User != nil {
		p.mu.Lock()
		p.selfID = s.State.User.ID
		p.mu.Unlock()
	}
	p.setStatus(true, "")
	p.logger.Info("discord connected")
	return nil
}

func (p *Plugin) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	p.mu.RLock()
	selfID := p.selfID
	cfg := p.cfg
	rt := p.rt
	p.mu.RUnlock()

	if m.Author == nil || m.Author.ID == selfID || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	isDM := m.GuildID == ""
	if !isDM && len(cfg.GuildAllowlist) > 0 && !contains(cfg.GuildAllowlist, m.GuildID) {
		return
	}

	var key string
	if isDM {
		key = channels.DiscordDMKey(m.Author.ID)
	} else {
		key = channels.DiscordChannelKey(m.ChannelID)
	}

	inbound := &models.InboundMessage{
		Channel:    models.ChannelDiscord,
		ChannelID:  m.ChannelID,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		Content:    m.Content,
		Timestamp:  m.Timestamp.UnixMilli(),
		Metadata: map[string]any{
			"sessionKey": key,
			"isGroup":    !isDM,
		},
	}
	rt.OnMessage(context.Background(), inbound)
}

// Stop closes the gateway session.
func (p *Plugin) Stop(context.Context) error {
	p.mu.Lock()
	s := p.session
	p.session = nil
	p.mu.Unlock()
	if s == nil {
		return nil
	}
	err := s.Close()
	p.setStatus(false, "")
	p.logger.Info("discord stopped")
	return err
}

func (p *Plugin) Status() models.ChannelStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SendMessage delivers text to a channel id, optionally into a thread.
func (p *Plugin) SendMessage(_ context.Context, channelID string, msg models.OutboundMessage) error {
	p.mu.RLock()
	s := p.session
	connected := p.status.Connected
	p.mu.RUnlock()
	if s == nil || !connected {
		return errors.New("discord: not connected")
	}

	target := channelID
	if msg.ThreadID != "" {
		target = msg.ThreadID
	}
	if _, err := s.ChannelMessageSend(target, msg.Content); err != nil {
		return fmt.Errorf("discord send: %w", err)
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

func contains(list []string, v string) bool {
	for _, entry := range list {
		if entry == v {
			return true
		}
	}
	return false
}
