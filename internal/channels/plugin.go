// Package channels defines the plugin contract every messaging surface
// implements and the dock that owns plugin lifecycles, fans inbound
// messages into one handler, and routes outbound replies by channel id.
package channels

import (
	"context"
	"log/slog"

	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/pkg/models"
)

// Capabilities describes what a channel family supports.
type Capabilities struct {
	ChatTypes []string `json:"chat_types"` // "dm", "group", "channel"
	Threads   bool     `json:"threads"`
	Reactions bool     `json:"reactions"`
	Media     bool     `json:"media"`
}

// Runtime is the back-channel the dock hands each plugin at start: a sink
// for normalized inbound messages and a scoped logger. Plugins own their
// inbound I/O loops; the dock owns the consumer.
type Runtime struct {
	Logger *slog.Logger

	// OnMessage delivers one inbound message to the processor. Plugins
	// must populate Metadata["sessionKey"] before calling it.
	OnMessage func(ctx context.Context, msg *models.InboundMessage)
}

// Plugin is one channel adapter. Start must be fully connected before it
// returns nil; Stop is idempotent and releases sockets and ports.
type Plugin interface {
	ID() models.ChannelType
	Name() string
	Capabilities() Capabilities

	Start(ctx context.Context, cfg config.ChannelConfig, rt Runtime) error
	Stop(ctx context.Context) error

	// Status is a synchronous snapshot; it must not block on I/O.
	Status() models.ChannelStatus

	// SendMessage delivers a reply to a channel-specific destination id.
	// It errors when the plugin is not connected.
	SendMessage(ctx context.Context, channelID string, msg models.OutboundMessage) error
}
