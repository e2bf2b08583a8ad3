// ABOUTME: Ask-mode adapter: one backend query, answer revealed word-by-word
// ABOUTME: Bridges the non-streaming ask backend into the streaming-shaped message model

package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/moeai/support-console/internal/conversation"
)

// ErrInvalidSession is returned when the caller passes the local
// conversation id where the backend session id belongs. Fatal, raised
// before any network call: querying the wrong backend session would
// silently return answers without conversational context.
var ErrInvalidSession = errors.New("session id matches conversation id")

// ErrRevealTimeout is returned when the simulated answer reveal exceeds its
// overall deadline.
var ErrRevealTimeout = errors.New("answer reveal timed out")

const (
	// DefaultMaxResults is the backend result limit when the caller does
	// not set one.
	DefaultMaxResults = 5
	// DefaultWordDelay paces the simulated word-by-word reveal.
	DefaultWordDelay = 30 * time.Millisecond
	// DefaultTimeout bounds the whole query-and-reveal operation.
	DefaultTimeout = 90 * time.Second
)

// Querier is what the adapter needs from the backend client.
type Querier interface {
	Query(ctx context.Context, req QueryRequest) (*QueryResponse, error)
}

// TurnStore is the persistence bridge contract. Implementations record a
// resolved turn; failures are best-effort and never affect delivered state.
type TurnStore interface {
	StoreConversationTurn(ctx context.Context, turn Turn) error
}

// StateStore is the slice of the conversation store the adapter mutates.
type StateStore interface {
	Apply(messageID string, m conversation.Mutation) error
	SetStreaming(messageID string, streaming bool) error
}

// Operation is one ask-mode turn handed to the adapter by the coordinator.
type Operation struct {
	ConversationID string
	MessageID      string
	Query          string
	SessionID      string
	DataSources    []string
}

// Adapter executes ask-mode operations against the conversation store.
type Adapter struct {
	querier    Querier
	bridge     TurnStore
	state      StateStore
	maxResults int
	wordDelay  time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

// NewAdapter creates an ask adapter. Pass nil logger for default; zero
// tuning values fall back to the defaults above.
func NewAdapter(querier Querier, bridge TurnStore, state StateStore, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		querier:    querier,
		bridge:     bridge,
		state:      state,
		maxResults: DefaultMaxResults,
		wordDelay:  DefaultWordDelay,
		timeout:    DefaultTimeout,
		logger:     logger.With("component", "ask-adapter"),
	}
}

// SetReveal overrides the reveal pacing and overall deadline. Used by the
// CLI for snappier output and by tests to avoid real waits.
func (a *Adapter) SetReveal(wordDelay, timeout time.Duration) {
	if wordDelay > 0 {
		a.wordDelay = wordDelay
	}
	if timeout > 0 {
		a.timeout = timeout
	}
}

// SetMaxResults overrides the backend result limit sent with each query.
func (a *Adapter) SetMaxResults(n int) {
	if n > 0 {
		a.maxResults = n
	}
}

// Run executes one ask turn: validate, query, reveal, complete, persist.
// The answer arrives atomically from the backend; Run re-streams it into
// the message content buffer one word at a time so the turn reads like a
// live response. The reveal is a restartable sequence of whole-content
// snapshots, not a resumable stream.
func (a *Adapter) Run(ctx context.Context, op Operation) error {
	if op.SessionID == op.ConversationID {
		return fmt.Errorf("conversation %s: %w", op.ConversationID, ErrInvalidSession)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := a.state.SetStreaming(op.MessageID, true); err != nil {
		return fmt.Errorf("marking message streaming: %w", err)
	}
	// A settled operation must never leave the message marked streaming,
	// including on the quiet cancellation exits.
	defer func() {
		if err := a.state.SetStreaming(op.MessageID, false); err != nil {
			a.logger.Error("failed to clear streaming flag",
				"error", err,
				"message_id", op.MessageID)
		}
	}()

	opCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	dataSources := op.DataSources
	if len(dataSources) == 0 {
		dataSources = []string{DataSourceAll}
	}

	resp, err := a.querier.Query(opCtx, QueryRequest{
		Query:            op.Query,
		SessionID:        op.SessionID,
		DataSources:      dataSources,
		MaxResults:       a.maxResults,
		IncludeCitations: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled from outside: exit quietly, no further mutations.
			return ctx.Err()
		}
		a.fail(op.MessageID, err.Error())
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("after %s: %w", a.timeout, ErrRevealTimeout)
		}
		return fmt.Errorf("ask query: %w", err)
	}

	if err := a.reveal(opCtx, op.MessageID, resp.Answer); err != nil {
		if ctx.Err() != nil {
			// Cancelled from outside: exit quietly, no further mutations.
			return ctx.Err()
		}
		a.fail(op.MessageID, "answer reveal timed out")
		return fmt.Errorf("after %s: %w", a.timeout, ErrRevealTimeout)
	}

	if err := a.state.Apply(op.MessageID, conversation.Mutation{
		Op:        conversation.OpComplete,
		Citations: resp.MappedCitations(),
	}); err != nil {
		return fmt.Errorf("completing message: %w", err)
	}

	a.storeTurn(ctx, op, resp)
	return nil
}

// reveal writes cumulative word-by-word snapshots of the answer into the
// message content buffer, pausing wordDelay between words. It returns the
// context error if the deadline or cancellation interrupts the sequence.
func (a *Adapter) reveal(ctx context.Context, messageID, answer string) error {
	words := strings.Fields(answer)
	var buf strings.Builder

	for i, word := range words {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(word)

		if err := a.state.Apply(messageID, conversation.Mutation{
			Op:   conversation.OpReplaceText,
			Text: buf.String(),
		}); err != nil {
			return err
		}

		if i == len(words)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.wordDelay):
		}
	}
	return nil
}

// storeTurn hands the resolved turn to the persistence bridge. A bridge
// failure is logged and swallowed: the answer is already delivered and a
// storage error must not downgrade it.
func (a *Adapter) storeTurn(ctx context.Context, op Operation, resp *QueryResponse) {
	if a.bridge == nil {
		return
	}

	dataSources := op.DataSources
	if len(dataSources) == 0 {
		dataSources = []string{DataSourceAll}
	}

	turn := Turn{
		SessionID:  op.SessionID,
		UserQuery:  op.Query,
		AIResponse: resp.Answer,
		Metadata: map[string]any{
			"citations":       resp.MappedCitations(),
			"data_sources":    dataSources,
			"conversation_id": op.ConversationID,
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := a.bridge.StoreConversationTurn(ctx, turn); err != nil {
		a.logger.Error("failed to store conversation turn",
			"error", err,
			"conversation_id", op.ConversationID,
			"session_id", op.SessionID)
	}
}

func (a *Adapter) fail(messageID, reason string) {
	if err := a.state.Apply(messageID, conversation.Mutation{
		Op:     conversation.OpFail,
		Reason: reason,
	}); err != nil {
		a.logger.Error("failed to mark message errored",
			"error", err,
			"message_id", messageID)
	}
}
