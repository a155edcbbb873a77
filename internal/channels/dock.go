package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

// DefaultChannelID is the dock-level convention for "the conversation the
// user talked to us from last": outbound sends naming it resolve to the
// most recent inbound channel id for that channel. Plugins never see the
// literal.
const DefaultChannelID = "default"

// Handler consumes normalized inbound messages.
type Handler func(ctx context.Context, msg *models.InboundMessage)

// StartReport summarizes a StartAll pass. Failures are captured, not
// thrown: one broken channel must not take the gateway down.
type StartReport struct {
	Started []string       `json:"started"`
	Failed  []StartFailure `json:"failed,omitempty"`
}

// StartFailure names one plugin that did not come up.
type StartFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// ListItem is one row of the channels.list RPC result.
type ListItem struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Capabilities Capabilities         `json:"capabilities"`
	Running      bool                 `json:"running"`
	Status       models.ChannelStatus `json:"status"`
}

// Dock owns the registered plugins and their lifecycles.
type Dock struct {
	logger  *slog.Logger
	metrics *Metrics

	mu          sync.RWMutex
	plugins     map[models.ChannelType]Plugin
	running     map[models.ChannelType]bool
	lastInbound map[models.ChannelType]string
	handler     Handler
}

// NewDock builds an empty dock. metrics may be nil.
func NewDock(logger *slog.Logger, metrics *Metrics) *Dock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dock{
		logger:      logger.With("component", "dock"),
		metrics:     metrics,
		plugins:     make(map[models.ChannelType]Plugin),
		running:     make(map[models.ChannelType]bool),
		lastInbound: make(map[models.ChannelType]string),
	}
}

// Register adds a plugin. Duplicate ids are an error.
func (d *Dock) Register(p Plugin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.plugins[p.ID()]; exists {
		return fmt.Errorf("channel %s already registered", p.ID())
	}
	d.plugins[p.ID()] = p
	return nil
}

// Get returns a plugin by id.
func (d *Dock) Get(id models.ChannelType) (Plugin, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.plugins[id]
	return p, ok
}

// OnMessage installs the process-wide inbound handler. Messages arriving
// before a handler is set are logged and dropped.
func (d *Dock) OnMessage(h Handler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// runtimeFor builds the per-plugin runtime: the inbound sink notes the
// last channel id per channel (for DefaultChannelID resolution) and hands
// off to the installed handler.
func (d *Dock) runtimeFor(p Plugin) Runtime {
	id := p.ID()
	return Runtime{
		Logger: d.logger.With("channel", string(id)),
		OnMessage: func(ctx context.Context, msg *models.InboundMessage) {
			if msg == nil {
				return
			}
			d.mu.Lock()
			if msg.ChannelID != "" {
				d.lastInbound[id] = msg.ChannelID
			}
			handler := d.handler
			d.mu.Unlock()

			d.metrics.recordInbound(string(id))
			if handler == nil {
				d.logger.Warn("inbound message dropped, no handler installed",
					"channel", string(id), "channel_id", msg.ChannelID)
				return
			}
			handler(ctx, msg)
		},
	}
}

// Start brings one plugin up with its configured settings.
func (d *Dock) Start(ctx context.Context, id models.ChannelType, cfg config.ChannelConfig) error {
	p, ok := d.Get(id)
	if !ok {
		return &errdefs.NotFoundError{Kind: "channel", ID: string(id)}
	}
	d.mu.RLock()
	alreadyRunning := d.running[id]
	d.mu.RUnlock()
	if alreadyRunning {
		return nil
	}
	if err := p.Start(ctx, cfg, d.runtimeFor(p)); err != nil {
		return fmt.Errorf("start channel %s: %w", id, err)
	}
	d.mu.Lock()
	d.running[id] = true
	d.mu.Unlock()
	d.logger.Info("channel started", "channel", string(id))
	return nil
}

// StartAll starts every registered plugin that has a config section.
func (d *Dock) StartAll(ctx context.Context, configs map[string]config.ChannelConfig) StartReport {
	var report StartReport
	for _, id := range d.ids() {
		cfg, ok := configs[string(id)]
		if !ok {
			continue
		}
		if err := d.Start(ctx, id, cfg); err != nil {
			d.logger.Error("channel failed to start", "channel", string(id), "error", err)
			report.Failed = append(report.Failed, StartFailure{ID: string(id), Error: err.Error()})
			continue
		}
		report.Started = append(report.Started, string(id))
	}
	return report
}

// Stop brings one plugin down. Stopping a stopped plugin is a no-op.
func (d *Dock) Stop(ctx context.Context, id models.ChannelType) error {
	p, ok := d.Get(id)
	if !ok {
		return &errdefs.NotFoundError{Kind: "channel", ID: string(id)}
	}
	if err := p.Stop(ctx); err != nil {
		return fmt.Errorf("stop channel %s: %w", id, err)
	}
	d.mu.Lock()
	delete(d.running, id)
	d.mu.Unlock()
	d.logger.Info("channel stopped", "channel", string(id))
	return nil
}

// StopAll stops every running plugin, collecting errors into the log.
func (d *Dock) StopAll(ctx context.Context) {
	for _, id := range d.ids() {
		d.mu.RLock()
		running := d.running[id]
		d.mu.RUnlock()
		if !running {
			continue
		}
		if err := d.Stop(ctx, id); err != nil {
			d.logger.Error("channel stop failed", "channel", string(id), "error", err)
		}
	}
}

// IsRunning reports whether at least one plugin is connected.
func (d *Dock) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for id := range d.running {
		if p, ok := d.plugins[id]; ok && p.Status().Connected {
			return true
		}
	}
	return false
}

// List snapshots every registered plugin.
func (d *Dock) List() []ListItem {
	items := make([]ListItem, 0)
	for _, id := range d.ids() {
		p, _ := d.Get(id)
		d.mu.RLock()
		running := d.running[id]
		d.mu.RUnlock()
		items = append(items, ListItem{
			ID:           string(id),
			Name:         p.Name(),
			Capabilities: p.Capabilities(),
			Running:      running,
			Status:       p.Status(),
		})
	}
	return items
}

// Send routes an outbound message to channelID on the named channel.
// DefaultChannelID resolves to the channel's most recent inbound id.
func (d *Dock) Send(ctx context.Context, channel models.ChannelType, channelID string, msg models.OutboundMessage) error {
	p, ok := d.Get(channel)
	if !ok {
		return &errdefs.NotFoundError{Kind: "channel", ID: string(channel)}
	}
	if channelID == DefaultChannelID || channelID == "" {
		d.mu.RLock()
		last := d.lastInbound[channel]
		d.mu.RUnlock()
		if last == "" {
			return fmt.Errorf("channel %s has no default destination yet", channel)
		}
		channelID = last
	}

	start := time.Now()
	err := p.SendMessage(ctx, channelID, msg)
	d.metrics.recordOutbound(string(channel), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("send on %s: %w", channel, err)
	}
	return nil
}

func (d *Dock) ids() []models.ChannelType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]models.ChannelType, 0, len(d.plugins))
	for id := range d.plugins {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
