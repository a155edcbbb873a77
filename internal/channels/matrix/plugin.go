// Package matrix connects the assistant to a Matrix homeserver over the
// client-server sync API.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

// Config holds the matrix plugin settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string

	// AutoJoin accepts room invites addressed to the bot.
	AutoJoin bool

	// SyncRetryDelay is the backoff after a failed sync pass.
	SyncRetryDelay time.Duration
}

// Validate checks required settings and applies defaults.
func (c *Config) Validate() error {
	if c.Homeserver == "" {
		return errdefs.Configf("matrix: homeserver is required")
	}
	if c.UserID == "" {
		return errdefs.Configf("matrix: userId is required")
	}
	if c.AccessToken == "" {
		return errdefs.Configf("matrix: access token is required")
	}
	if c.SyncRetryDelay == 0 {
		c.SyncRetryDelay = 5 * time.Second
	}
	return nil
}

func configFromSettings(cc config.ChannelConfig) (Config, error) {
	token, err := cc.SecretSetting("accessTokenEnvVar")
	if err != nil {
		return Config{}, err
	}
	return Config{
		Homeserver:  cc.SettingString("homeserver"),
		UserID:      cc.SettingString("userId"),
		AccessToken: token,
		AutoJoin:    cc.SettingBool("autoJoin"),
	}, nil
}

// Plugin implements channels.Plugin for Matrix.
type Plugin struct {
	mu     sync.RWMutex
	cfg    Config
	client *mautrix.Client
	status models.ChannelStatus
	cancel context.CancelFunc
	wg     sync.WaitGroup
	rt     channels.Runtime
	logger *slog.Logger

	// startedAt filters the backlog the first sync replays.
	startedAt int64
}

func New() *Plugin { return &Plugin{logger: slog.Default()} }

func (p *Plugin) ID() models.ChannelType { return models.ChannelMatrix }
func (p *Plugin) Name() string           { return "Matrix" }

func (p *Plugin) Capabilities() channels.Capabilities {
	return channels.Capabilities{
		ChatTypes: []string{"dm", "group"},
		Threads:   false,
		Reactions: true,
		Media:     true,
	}
}

// Start verifies the token with whoami and launches the sync loop.
func (p *Plugin) Start(ctx context.Context, cc config.ChannelConfig, rt channels.Runtime) error {
	cfg, err := configFromSettings(cc)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return errdefs.Configf("matrix: client: %v", err)
	}
	if _, err := client.Whoami(ctx); err != nil {
		p.setStatus(false, fmt.Sprintf("whoami: %v", err))
		return &errdefs.AuthError{Msg: fmt.Sprintf("matrix: token rejected: %v", err)}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cfg = cfg
	p.rt = rt
	if rt.Logger != nil {
		p.logger = rt.Logger
	}
	p.client = client
	p.cancel = cancel
	p.startedAt = time.Now().UnixMilli()
	p.mu.Unlock()

	syncer := client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, p.handleMessage)
	if cfg.AutoJoin {
		syncer.OnEventType(event.StateMember, p.handleMemberEvent)
	}

	p.wg.Add(1)
	go p.syncLoop(runCtx)

	p.setStatus(true, "")
	p.logger.Info("matrix connected", "user", cfg.UserID)
	return nil
}

func (p *Plugin) syncLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.setStatus(false, "")
			return
		default:
		}
		if err := p.client.SyncWithContext(ctx); err != nil {
			if ctx.Err() != nil {
				p.setStatus(false, "")
				return
			}
			p.setStatus(false, fmt.Sprintf("sync: %v", err))
			p.logger.Error("matrix sync error", "error", err)
			select {
			case <-ctx.Done():
				p.setStatus(false, "")
				return
			case <-time.After(p.cfg.SyncRetryDelay):
			}
			p.setStatus(true, "")
		}
	}
}

func (p *Plugin) handleMessage(ctx context.Context, evt *event.Event) {
	p.mu.RLock()
	cfg := p.cfg
	rt := p.rt
	startedAt := p.startedAt
	p.mu.RUnlock()

	if string(evt.Sender) == cfg.UserID {
		return
	}
	if evt.Timestamp < startedAt {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || (content.MsgType != event.MsgText && content.MsgType != event.MsgNotice) {
		return
	}

	inbound := &models.InboundMessage{
		Channel:    models.ChannelMatrix,
		ChannelID:  string(evt.RoomID),
		SenderID:   string(evt.Sender),
		SenderName: string(evt.Sender),
		Content:    content.Body,
		Timestamp:  evt.Timestamp,
		Metadata: map[string]any{
			"sessionKey": channels.MatrixRoomKey(string(evt.RoomID)),
			"isGroup":    true,
		},
	}
	rt.OnMessage(ctx, inbound)
}

func (p *Plugin) handleMemberEvent(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok {
		return
	}
	if content.Membership != event.MembershipInvite || evt.GetStateKey() != p.cfg.UserID {
		return
	}
	if _, err := p.client.JoinRoom(ctx, string(evt.RoomID), nil); err != nil {
		p.logger.Error("matrix join failed", "room", evt.RoomID, "error", err)
		return
	}
	p.logger.Info("matrix joined room", "room", evt.RoomID)
}

// Stop halts the sync loop.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	client := p.client
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if client != nil {
		client.StopSync()
	}

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
	p.logger.Info("matrix stopped")
	return nil
}

func (p *Plugin) Status() models.ChannelStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SendMessage posts text into a room.
func (p *Plugin) SendMessage(ctx context.Context, channelID string, msg models.OutboundMessage) error {
	p.mu.RLock()
	client := p.client
	connected := p.status.Connected
	p.mu.RUnlock()
	if client == nil || !connected {
		return errors.New("matrix: not connected")
	}

	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    msg.Content,
	}
	if _, err := client.SendMessageEvent(ctx, id.RoomID(channelID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix send: %w", err)
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
