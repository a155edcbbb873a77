// Package slack connects the assistant to Slack via Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

// Config holds the slack plugin settings.
type Config struct {
	BotToken string // xoxb- token for API calls
	AppToken string // xapp- token for Socket Mode
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return errdefs.Configf("slack: botToken is required")
	}
	if c.AppToken == "" {
		return errdefs.Configf("slack: appToken is required")
	}
	return nil
}

func configFromSettings(cc config.ChannelConfig) (Config, error) {
	bot, err := cc.SecretSetting("botTokenEnvVar")
	if err != nil {
		return Config{}, err
	}
	app, err := cc.SecretSetting("appTokenEnvVar")
	if err != nil {
		return Config{}, err
	}
	return Config{BotToken: bot, AppToken: app}, nil
}

// Plugin implements channels.Plugin for Slack.
type Plugin struct {
	mu        sync.RWMutex
	cfg       Config
	api       *slack.Client
	socket    *socketmode.Client
	botUserID string
	status    models.ChannelStatus
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	rt        channels.Runtime
	logger    *slog.Logger
}

func New() *Plugin { return &Plugin{logger: slog.Default()} }

func (p *Plugin) ID() models.ChannelType { return models.ChannelSlack }
func (p *Plugin) Name() string           { return "Slack" }

func (p *Plugin) Capabilities() channels.Capabilities {
	return channels.Capabilities{
		ChatTypes: []string{"dm", "channel"},
		Threads:   true,
		Reactions: true,
		Media:     true,
	}
}

// Start authenticates, learns the bot user id for mention stripping, and
// launches the Socket Mode event loop. socketmode reconnects on its own.
func (p *Plugin) Start(_ context.Context, cc config.ChannelConfig, rt channels.Runtime) error {
	cfg, err := configFromSettings(cc)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	authResp, err := api.AuthTest()
	if err != nil {
		p.setStatus(false, fmt.Sprintf("auth: %v", err))
		return &errdefs.AuthError{Msg: fmt.Sprintf("slack: auth test failed: %v", err)}
	}
	socket := socketmode.New(api)

	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cfg = cfg
	p.rt = rt
	if rt.Logger != nil {
		p.logger = rt.Logger
	}
	p.api = api
	p.socket = socket
	p.botUserID = authResp.UserID
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(2)
	go p.handleEvents(runCtx)
	go func() {
		defer p.wg.Done()
		if err := socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			p.setStatus(false, fmt.Sprintf("socket mode: %v", err))
			p.logger.Error("slack socket mode exited", "error", err)
		}
	}()

	p.setStatus(true, "")
	p.logger.Info("slack connected", "bot_user", authResp.UserID)
	return nil
}

func (p *Plugin) handleEvents(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.socket.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeConnected:
				p.setStatus(true, "")
			case socketmode.EventTypeConnectionError:
				p.setStatus(false, "connection error")
			case socketmode.EventTypeEventsAPI:
				p.handleEventsAPI(ctx, event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if event.Request != nil {
					p.socket.Ack(*event.Request)
				}
			}
		}
	}
}

func (p *Plugin) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if event.Request != nil {
		p.socket.Ack(*event.Request)
	}
	if !ok || apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		p.handleMessage(ctx, &slackevents.MessageEvent{
			Type:            "message",
			User:            ev.User,
			Text:            ev.Text,
			Channel:         ev.Channel,
			TimeStamp:       ev.TimeStamp,
			ThreadTimeStamp: ev.ThreadTimeStamp,
		})
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.SubType != "" {
			return
		}
		p.handleMessage(ctx, ev)
	}
}

func (p *Plugin) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	p.mu.RLock()
	botUserID := p.botUserID
	rt := p.rt
	p.mu.RUnlock()

	isDM := strings.HasPrefix(ev.Channel, "D")
	mention := fmt.Sprintf("<@%s>", botUserID)
	isMention := strings.Contains(ev.Text, mention)
	if !isDM && !isMention && ev.ThreadTimeStamp == "" {
		return
	}

	text := strings.TrimSpace(strings.ReplaceAll(ev.Text, mention, ""))
	if text == "" {
		return
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}
	var key string
	if isDM {
		key = channels.SlackDMKey(ev.User)
	} else {
		key = channels.SlackThreadKey(ev.Channel, threadTS)
	}

	inbound := &models.InboundMessage{
		Channel:   models.ChannelSlack,
		ChannelID: ev.Channel,
		SenderID:  ev.User,
		Content:   text,
		ThreadID:  threadTS,
		Timestamp: slackTimestampMillis(ev.TimeStamp),
		Metadata: map[string]any{
			"sessionKey": key,
			"isGroup":    !isDM,
		},
	}
	rt.OnMessage(ctx, inbound)
}

// slackTimestampMillis parses the "1234567890.123456" slack ts format.
func slackTimestampMillis(ts string) int64 {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Now().UnixMilli()
	}
	return int64(f * 1000)
}

// Stop cancels the socket loop and waits for it to exit.
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
	p.logger.Info("slack stopped")
	return nil
}

func (p *Plugin) Status() models.ChannelStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SendMessage posts text to a channel, threading when ThreadID is set.
func (p *Plugin) SendMessage(ctx context.Context, channelID string, msg models.OutboundMessage) error {
	p.mu.RLock()
	api := p.api
	connected := p.status.Connected
	p.mu.RUnlock()
	if api == nil || !connected {
		return errors.New("slack: not connected")
	}

	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if msg.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadID))
	}
	if _, _, err := api.PostMessageContext(ctx, channelID, opts...); err != nil {
		return fmt.Errorf("slack send: %w", err)
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
