// Package webchat is the server-internal channel behind the embedded chat
// UI. The gateway feeds client messages in and subscribes per client id
// for replies; no outbound socket exists.
package webchat

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

// clientIDPattern is the 16-byte hex id the browser generates.
var clientIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// subscriberBuffer bounds undelivered replies per client.
const subscriberBuffer = 16

// Plugin implements channels.Plugin for the embedded web chat.
type Plugin struct {
	mu          sync.RWMutex
	status      models.ChannelStatus
	rt          channels.Runtime
	logger      *slog.Logger
	subscribers map[string]chan models.OutboundMessage
	now         func() time.Time
}

func New() *Plugin {
	return &Plugin{
		logger:      slog.Default(),
		subscribers: make(map[string]chan models.OutboundMessage),
		now:         time.Now,
	}
}

func (p *Plugin) ID() models.ChannelType { return models.ChannelWebchat }
func (p *Plugin) Name() string           { return "Web chat" }

func (p *Plugin) Capabilities() channels.Capabilities {
	return channels.Capabilities{ChatTypes: []string{"dm"}}
}

// Start marks the channel up; the gateway serves the UI regardless.
func (p *Plugin) Start(_ context.Context, _ config.ChannelConfig, rt channels.Runtime) error {
	p.mu.Lock()
	p.rt = rt
	if rt.Logger != nil {
		p.logger = rt.Logger
	}
	p.status = models.ChannelStatus{Connected: true, ConnectedSince: p.now().UnixMilli()}
	p.mu.Unlock()
	return nil
}

// Deliver accepts one message from a web client. The client id must be a
// 16-byte hex string; anything else is rejected before it can reach the
// session layer.
func (p *Plugin) Deliver(ctx context.Context, clientID, text string) error {
	if !clientIDPattern.MatchString(clientID) {
		return errdefs.Validationf("webchat: bad client id")
	}
	p.mu.RLock()
	rt := p.rt
	connected := p.status.Connected
	p.mu.RUnlock()
	if !connected {
		return errors.New("webchat: not started")
	}

	rt.OnMessage(ctx, &models.InboundMessage{
		Channel:   models.ChannelWebchat,
		ChannelID: clientID,
		SenderID:  clientID,
		Content:   text,
		Timestamp: p.now().UnixMilli(),
		Metadata: map[string]any{
			"sessionKey": channels.WebchatKey(clientID),
			"isGroup":    false,
		},
	})
	return nil
}

// Subscribe returns the reply stream for a client id plus a cancel func.
// Replies arriving with no subscriber, or past the buffer, are dropped.
func (p *Plugin) Subscribe(clientID string) (<-chan models.OutboundMessage, func()) {
	ch := make(chan models.OutboundMessage, subscriberBuffer)
	p.mu.Lock()
	if old, ok := p.subscribers[clientID]; ok {
		close(old)
	}
	p.subscribers[clientID] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if cur, ok := p.subscribers[clientID]; ok && cur == ch {
			delete(p.subscribers, clientID)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

// Stop drops all subscribers.
func (p *Plugin) Stop(context.Context) error {
	p.mu.Lock()
	for id, ch := range p.subscribers {
		close(ch)
		delete(p.subscribers, id)
	}
	p.status = models.ChannelStatus{}
	p.mu.Unlock()
	return nil
}

func (p *Plugin) Status() models.ChannelStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SendMessage hands a reply to the client's subscriber, if any.
func (p *Plugin) SendMessage(_ context.Context, channelID string, msg models.OutboundMessage) error {
	p.mu.RLock()
	ch, ok := p.subscribers[channelID]
	connected := p.status.Connected
	p.mu.RUnlock()
	if !connected {
		return errors.New("webchat: not started")
	}
	if !ok {
		p.logger.Debug("webchat reply dropped, client gone", "client", channelID)
		return nil
	}
	select {
	case ch <- msg:
		return nil
	default:
		p.logger.Warn("webchat subscriber buffer full, dropping reply", "client", channelID)
		return nil
	}
}
