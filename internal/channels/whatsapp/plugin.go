// Package whatsapp connects the assistant to WhatsApp through whatsmeow.
// The device credential lives in a local SQLite store; first login renders
// a pairing QR code on the terminal.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

// Config holds the whatsapp plugin settings.
type Config struct {
	// StorePath is the whatsmeow device database location.
	StorePath string
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return errdefs.Configf("whatsapp: storePath is required")
	}
	return nil
}

func configFromSettings(cc config.ChannelConfig) Config {
	return Config{StorePath: cc.SettingString("storePath")}
}

// Plugin implements channels.Plugin for WhatsApp.
type Plugin struct {
	mu        sync.RWMutex
	cfg       Config
	container *sqlstore.Container
	client    *whatsmeow.Client
	status    models.ChannelStatus
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	rt        channels.Runtime
	logger    *slog.Logger
}

func New() *Plugin { return &Plugin{logger: slog.Default()} }

func (p *Plugin) ID() models.ChannelType { return models.ChannelWhatsApp }
func (p *Plugin) Name() string           { return "WhatsApp" }

func (p *Plugin) Capabilities() channels.Capabilities {
	return channels.Capabilities{
		ChatTypes: []string{"dm"},
		Threads:   false,
		Reactions: true,
		Media:     true,
	}
}

// Start opens the device store and connects. When no device credential
// exists yet, the pairing QR code is printed to stderr and Start returns
// with the connection pending the scan.
func (p *Plugin) Start(ctx context.Context, cc config.ChannelConfig, rt channels.Runtime) error {
	cfg := configFromSettings(cc)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
		return fmt.Errorf("whatsapp: store dir: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", cfg.StorePath), waLog.Noop)
	if err != nil {
		return fmt.Errorf("whatsapp: open store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return fmt.Errorf("whatsapp: device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	runCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.cfg = cfg
	p.rt = rt
	if rt.Logger != nil {
		p.logger = rt.Logger
	}
	p.container = container
	p.client = client
	p.cancel = cancel
	p.mu.Unlock()

	client.AddEventHandler(p.handleEvent)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(runCtx)
		if err != nil {
			cancel()
			container.Close()
			return fmt.Errorf("whatsapp: qr channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			cancel()
			container.Close()
			return fmt.Errorf("whatsapp: connect: %w", err)
		}
		p.wg.Add(1)
		go p.watchQR(runCtx, qrChan)
	} else {
		if err := client.Connect(); err != nil {
			cancel()
			container.Close()
			return fmt.Errorf("whatsapp: connect: %w", err)
		}
	}
	return nil
}

// watchQR renders each login code as a terminal QR code until paired.
func (p *Plugin) watchQR(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-qrChan:
			if !ok {
				return
			}
			switch evt.Event {
			case "code":
				qr, err := qrcode.New(evt.Code, qrcode.Medium)
				if err != nil {
					p.logger.Error("whatsapp qr render failed", "error", err)
					continue
				}
				fmt.Fprintln(os.Stderr, "Scan this QR code with WhatsApp to pair:")
				fmt.Fprintln(os.Stderr, qr.ToSmallString(false))
			case "success":
				p.logger.Info("whatsapp paired")
			default:
				p.logger.Warn("whatsapp pairing event", "event", evt.Event)
			}
		}
	}
}

func (p *Plugin) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		p.setStatus(true, "")
		p.logger.Info("whatsapp connected")
	case *events.Disconnected:
		p.setStatus(false, "disconnected")
		p.logger.Warn("whatsapp disconnected")
	case *events.LoggedOut:
		p.setStatus(false, "logged out")
		p.logger.Warn("whatsapp logged out", "reason", v.Reason)
	case *events.Message:
		p.handleMessage(v)
	}
}

func (p *Plugin) handleMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.Chat.Server == "broadcast" {
		return
	}

	var content string
	switch {
	case evt.Message.Conversation != nil:
		content = evt.Message.GetConversation()
	case evt.Message.ExtendedTextMessage != nil:
		content = evt.Message.ExtendedTextMessage.GetText()
	case evt.Message.ImageMessage != nil:
		content = evt.Message.ImageMessage.GetCaption()
	case evt.Message.DocumentMessage != nil:
		content = evt.Message.DocumentMessage.GetCaption()
	}
	if content == "" {
		return
	}

	sender := evt.Info.Sender.ToNonAD().String()
	inbound := &models.InboundMessage{
		Channel:    models.ChannelWhatsApp,
		ChannelID:  evt.Info.Chat.ToNonAD().String(),
		SenderID:   sender,
		SenderName: evt.Info.PushName,
		Content:    content,
		Timestamp:  evt.Info.Timestamp.UnixMilli(),
		Metadata: map[string]any{
			"sessionKey": channels.WhatsAppKey(sender),
			"isGroup":    evt.Info.IsGroup,
		},
	}

	p.mu.RLock()
	rt := p.rt
	p.mu.RUnlock()
	rt.OnMessage(context.Background(), inbound)
}

// Stop disconnects and closes the device store.
func (p *Plugin) Stop(context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	client := p.client
	container := p.container
	p.client = nil
	p.container = nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	p.wg.Wait()

	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		if err := container.Close(); err != nil {
			p.logger.Warn("whatsapp store close failed", "error", err)
		}
	}
	p.setStatus(false, "")
	p.logger.Info("whatsapp stopped")
	return nil
}

func (p *Plugin) Status() models.ChannelStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// SendMessage delivers text to a JID.
func (p *Plugin) SendMessage(ctx context.Context, channelID string, msg models.OutboundMessage) error {
	p.mu.RLock()
	client := p.client
	connected := p.status.Connected
	p.mu.RUnlock()
	if client == nil || !connected {
		return errors.New("whatsapp: not connected")
	}

	jid, err := types.ParseJID(channelID)
	if err != nil {
		return errdefs.Validationf("whatsapp: bad jid %q", channelID)
	}
	_, err = client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(msg.Content),
	})
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
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
