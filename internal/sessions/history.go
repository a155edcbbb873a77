package sessions

import (
	"context"
	"log/slog"

	"github.com/hayahq/haya/internal/compaction"
	"github.com/hayahq/haya/pkg/models"
)

// DefaultMaxMessages caps how many trailing messages a history read returns
// when the caller does not set an explicit limit.
const DefaultMaxMessages = 100

// HistoryOptions controls how much context GetHistory assembles for a turn.
type HistoryOptions struct {
	// MaxMessages keeps only the trailing N messages. Zero applies
	// DefaultMaxMessages; a negative value disables the cap.
	MaxMessages int

	// MaxTokens enables token-based compaction when positive.
	MaxTokens int

	// ReserveTokens is subtracted from MaxTokens to leave room for the
	// model's reply when compacting.
	ReserveTokens int

	// SystemTokens accounts for a system prompt sent outside the history.
	SystemTokens int

	// Pruning trims or clears old tool results after compaction runs.
	Pruning *compaction.PruneConfig
}

func (o HistoryOptions) maxMessages() int {
	if o.MaxMessages == 0 {
		return DefaultMaxMessages
	}
	return o.MaxMessages
}

func (o HistoryOptions) compactionConfig() compaction.Config {
	return compaction.Config{
		MaxTokens:     o.MaxTokens,
		ReserveTokens: o.ReserveTokens,
		SystemTokens:  o.SystemTokens,
	}
}

// History layers turn-oriented reads and writes over a Store. All methods are
// safe for concurrent use; writes to the same session serialize on the
// store's per-session lock.
type History struct {
	store  *Store
	logger *slog.Logger
}

// NewHistory wraps store with history semantics.
func NewHistory(store *Store, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{
		store:  store,
		logger: logger.With("component", "history"),
	}
}

// Store exposes the underlying session store.
func (h *History) Store() *Store { return h.store }

// Lock acquires the per-session lock shared with the store and returns its
// release func. Callers that read history, call a model, and append the
// reply hold this across the whole turn.
func (h *History) Lock(sessionID string) func() {
	return h.store.locks.lock(sessionID)
}

// AddMessage appends one message to the session transcript.
func (h *History) AddMessage(sessionID string, m models.Message) error {
	return h.store.AppendMessage(sessionID, m)
}

// AddMessages appends messages in order. On error the earlier messages of
// the batch remain written; the transcript is append-only.
func (h *History) AddMessages(sessionID string, msgs []models.Message) error {
	for _, m := range msgs {
		if err := h.store.AppendMessage(sessionID, m); err != nil {
			return err
		}
	}
	return nil
}

// GetMessageCount reports how many messages the session holds. A missing
// session counts as zero.
func (h *History) GetMessageCount(sessionID string) (int, error) {
	if err := ValidateID(sessionID); err != nil {
		return 0, err
	}
	if !h.store.Exists(sessionID) {
		return 0, nil
	}
	msgs, err := h.store.ReadMessages(sessionID)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// GetHistory loads the session's messages, applies the trailing-message cap,
// token-based compaction with a drop marker in place of a summary, and
// optional tool-result pruning of the compacted list. A missing session
// yields an empty history.
func (h *History) GetHistory(sessionID string, opts HistoryOptions) ([]models.Message, error) {
	return h.getHistory(context.Background(), sessionID, opts, nil)
}

// GetHistoryAsync behaves like GetHistory but summarizes dropped messages
// through s when compaction cuts the transcript. A nil s or a summarizer
// failure degrades to the drop marker.
func (h *History) GetHistoryAsync(ctx context.Context, sessionID string, opts HistoryOptions, s compaction.Summarizer) ([]models.Message, error) {
	return h.getHistory(ctx, sessionID, opts, s)
}

func (h *History) getHistory(ctx context.Context, sessionID string, opts HistoryOptions, s compaction.Summarizer) ([]models.Message, error) {
	if err := ValidateID(sessionID); err != nil {
		return nil, err
	}
	if !h.store.Exists(sessionID) {
		return nil, nil
	}
	msgs, err := h.store.ReadMessages(sessionID)
	if err != nil {
		return nil, err
	}

	if limit := opts.maxMessages(); limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	if opts.MaxTokens > 0 {
		kept := compaction.CompactWithSummary(ctx, msgs, opts.compactionConfig(), s)
		if len(kept) < len(msgs) {
			h.logger.Debug("history compacted",
				"session_id", sessionID,
				"before", len(msgs),
				"after", len(kept))
		}
		msgs = kept
	}

	// Pruning sizes itself against what actually goes to the model, so it
	// runs on the compacted list.
	if opts.Pruning != nil {
		msgs = compaction.PruneToolResults(msgs, *opts.Pruning)
	}
	return msgs, nil
}
