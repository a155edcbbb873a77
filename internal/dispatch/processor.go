// Package dispatch turns inbound channel messages into agent turns. The
// processor is the long-lived pipeline between the dock and the runtime:
// content wrapping, sender authorization, group routing, session history,
// usage accounting, and the best-effort reply.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hayahq/haya/internal/agent"
	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/internal/compaction"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/extcontent"
	"github.com/hayahq/haya/internal/pairing"
	"github.com/hayahq/haya/internal/sessions"
	"github.com/hayahq/haya/internal/usage"
	"github.com/hayahq/haya/pkg/models"
)

// Sender is the outbound half of the dock.
type Sender interface {
	Send(ctx context.Context, channel models.ChannelType, channelID string, msg models.OutboundMessage) error
}

// Options configures a Processor.
type Options struct {
	// SenderAuthMode is open, allowlist, or pairing.
	SenderAuthMode string

	// BotNames gate group-chat messages: in a group the message must
	// mention one of these (or be a thread reply) to be processed.
	BotNames []string

	// History shaping, from the agent config.
	MaxHistoryMessages int
	Compaction         *compaction.Config
	Pruning            *compaction.PruneConfig

	// SystemPromptTokens accounts for the prompt the runtime prepends.
	SystemPromptTokens int

	// DefaultModel labels usage records.
	DefaultModel string
}

// OptionsFromConfig projects the relevant config sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SenderAuthMode:     cfg.SenderAuth.Mode,
		BotNames:           cfg.Agent.BotNames,
		MaxHistoryMessages: cfg.Agent.MaxHistoryMessages,
		Compaction:         cfg.Agent.CompactionSettings(),
		Pruning:            cfg.Agent.ContextPruningSettings(),
		DefaultModel:       cfg.Agent.DefaultModel,
	}
}

// Processor handles one inbound message end to end. Safe for concurrent
// use; per-session ordering comes from the history lock.
type Processor struct {
	opts       Options
	history    *sessions.History
	runtime    *agent.Runtime
	sender     Sender
	pairing    *pairing.Store        // nil unless mode is allowlist or pairing
	usage      *usage.Tracker        // nil disables accounting
	summarizer compaction.Summarizer // nil degrades compaction to drop markers
	logger     *slog.Logger
}

// NewProcessor wires the pipeline. pairing is required for the allowlist
// and pairing auth modes; tracker and summarizer may be nil.
func NewProcessor(opts Options, history *sessions.History, runtime *agent.Runtime, sender Sender, pairingStore *pairing.Store, tracker *usage.Tracker, summarizer compaction.Summarizer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SenderAuthMode == "" {
		opts.SenderAuthMode = config.SenderAuthOpen
	}
	return &Processor{
		opts:       opts,
		history:    history,
		runtime:    runtime,
		sender:     sender,
		pairing:    pairingStore,
		usage:      tracker,
		summarizer: summarizer,
		logger:     logger.With("component", "dispatch"),
	}
}

// Handle processes one inbound message. Errors are terminal for the
// message only; they are logged, never propagated to the channel plugin.
func (p *Processor) Handle(ctx context.Context, msg *models.InboundMessage) {
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return
	}
	log := p.logger.With("channel", string(msg.Channel), "sender", msg.SenderID)

	wrapped := extcontent.Wrap(string(msg.Channel), msg.Content)
	if len(wrapped.Warnings) > 0 {
		if msg.Metadata == nil {
			msg.Metadata = map[string]any{}
		}
		msg.Metadata[extcontent.MetadataWarningsKey] = wrapped.Warnings
		log.Warn("suspicious inbound content", "warnings", wrapped.Warnings)
	}

	allowed, err := p.authorizeSender(ctx, msg)
	if err != nil {
		log.Error("sender authorization failed", "error", err)
		return
	}
	if !allowed {
		return
	}

	if !p.groupRoutingAllows(msg) {
		return
	}

	key := msg.SessionKey()
	if key == "" {
		key = channels.DefaultKey(msg.Channel, msg.ChannelID)
	}
	sessionID := channels.SessionFileName(key)
	if err := sessions.ValidateID(sessionID); err != nil {
		log.Error("unusable session key", "key", key, "error", err)
		return
	}

	reply, err := p.runTurn(ctx, sessionID, msg, wrapped.Content)
	if err != nil {
		log.Error("agent turn failed", "session_id", sessionID, "error", err)
		return
	}
	if reply == "" {
		return
	}

	// Outbound is best-effort: the transcript already holds the reply.
	out := models.OutboundMessage{Content: reply, ThreadID: msg.ThreadID}
	if err := p.sender.Send(ctx, msg.Channel, msg.ChannelID, out); err != nil {
		log.Error("reply delivery failed", "session_id", sessionID, "error", err)
	}
}

// ChatDirect runs an operator turn against a named session: no content
// wrapping, no sender auth, no group gate. Used by the gateway RPC
// surface. onEvent may be nil; when set the turn streams.
func (p *Processor) ChatDirect(ctx context.Context, sessionID, content, model string, onEvent func(agent.Event)) (*agent.ChatResult, error) {
	if err := sessions.ValidateID(sessionID); err != nil {
		return nil, err
	}
	unlock := p.history.Lock(sessionID)
	defer unlock()

	hist, err := p.history.GetHistoryAsync(ctx, sessionID, p.historyOptions(), p.summarizer)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	req := agent.ChatRequest{
		SessionID: sessionID,
		Message:   content,
		Model:     model,
		History:   hist,
	}
	var res *agent.ChatResult
	if onEvent != nil {
		res, err = p.runtime.ChatStream(ctx, req, onEvent)
	} else {
		res, err = p.runtime.Chat(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	p.recordUsage(sessionID, "gateway", res)

	if err := p.history.AddMessages(sessionID, res.NewMessages); err != nil {
		return nil, fmt.Errorf("append transcript: %w", err)
	}
	return res, nil
}

func (p *Processor) historyOptions() sessions.HistoryOptions {
	opts := sessions.HistoryOptions{
		MaxMessages:  p.opts.MaxHistoryMessages,
		SystemTokens: p.opts.SystemPromptTokens,
		Pruning:      p.opts.Pruning,
	}
	if p.opts.Compaction != nil {
		opts.MaxTokens = p.opts.Compaction.MaxTokens
		opts.ReserveTokens = p.opts.Compaction.ReserveTokens
	}
	return opts
}

// runTurn holds the per-session lock across read, compact, call, append so
// concurrent messages for one session serialize.
func (p *Processor) runTurn(ctx context.Context, sessionID string, msg *models.InboundMessage, content string) (string, error) {
	unlock := p.history.Lock(sessionID)
	defer unlock()

	hist, err := p.history.GetHistoryAsync(ctx, sessionID, p.historyOptions(), p.summarizer)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	res, err := p.runtime.Chat(ctx, agent.ChatRequest{
		SessionID: sessionID,
		Message:   content,
		History:   hist,
	})
	if err != nil {
		return "", err
	}

	p.recordUsage(sessionID, string(msg.Channel), res)

	if err := p.history.AddMessages(sessionID, res.NewMessages); err != nil {
		return "", fmt.Errorf("append transcript: %w", err)
	}
	return res.Message.Content, nil
}

// authorizeSender applies the configured sender-auth mode. A false return
// means the message is dropped; pairing mode replies with a code first.
func (p *Processor) authorizeSender(ctx context.Context, msg *models.InboundMessage) (bool, error) {
	switch p.opts.SenderAuthMode {
	case config.SenderAuthOpen, "":
		return true, nil
	case config.SenderAuthAllowlist:
		if p.pairing == nil {
			return false, fmt.Errorf("allowlist mode without a sender store")
		}
		ok, err := p.pairing.Allowed(msg.SenderID)
		if err != nil {
			return false, err
		}
		if !ok {
			p.logger.Info("sender not allowlisted, dropping",
				"channel", string(msg.Channel), "sender", msg.SenderID)
		}
		return ok, nil
	case config.SenderAuthPairing:
		if p.pairing == nil {
			return false, fmt.Errorf("pairing mode without a sender store")
		}
		ok, err := p.pairing.Allowed(msg.SenderID)
		if err != nil || ok {
			return ok, err
		}
		code, err := p.pairing.RequestCode(string(msg.Channel), msg.SenderID, msg.SenderName)
		if err != nil {
			return false, err
		}
		p.logger.Info("pairing code issued",
			"channel", string(msg.Channel), "sender", msg.SenderID)
		notice := fmt.Sprintf(
			"You are not paired with this assistant yet. Give this code to the owner to get access: %s (valid for 1 hour)",
			code.Code)
		out := models.OutboundMessage{Content: notice, ThreadID: msg.ThreadID}
		if err := p.sender.Send(ctx, msg.Channel, msg.ChannelID, out); err != nil {
			p.logger.Error("pairing code delivery failed", "error", err)
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown sender auth mode %q", p.opts.SenderAuthMode)
	}
}

// groupRoutingAllows drops group messages that neither mention a bot name
// nor reply in a thread the bot is part of. Direct messages always pass.
func (p *Processor) groupRoutingAllows(msg *models.InboundMessage) bool {
	isGroup, _ := msg.Metadata["isGroup"].(bool)
	if !isGroup {
		return true
	}
	if msg.ThreadID != "" {
		return true
	}
	lower := strings.ToLower(msg.Content)
	for _, name := range p.opts.BotNames {
		if name != "" && strings.Contains(lower, strings.ToLower(name)) {
			return true
		}
	}
	p.logger.Debug("group message without mention, ignoring",
		"channel", string(msg.Channel), "channel_id", msg.ChannelID)
	return false
}

func (p *Processor) recordUsage(sessionID, channel string, res *agent.ChatResult) {
	if p.usage == nil {
		return
	}
	p.usage.Record(usage.Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Channel:   channel,
		Provider:  p.runtime.Provider().Name(),
		Model:     p.opts.DefaultModel,
		Usage:     res.Usage,
		Timestamp: time.Now().UnixMilli(),
	})
}
