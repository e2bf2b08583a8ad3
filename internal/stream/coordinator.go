// ABOUTME: Stream coordinator: per-conversation mutual exclusion for streaming operations
// ABOUTME: Selects the adapter by mode and guarantees exactly-once lock release on settlement

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/moeai/support-console/internal/ask"
	"github.com/moeai/support-console/internal/conversation"
	"github.com/moeai/support-console/internal/investigate"
)

// AskRunner is what the coordinator needs from the ask adapter.
type AskRunner interface {
	Run(ctx context.Context, op ask.Operation) error
}

// InvestigateRunner is what the coordinator needs from the investigate
// adapter.
type InvestigateRunner interface {
	Run(ctx context.Context, op investigate.Operation) error
}

// TransportCloser soft-stops a conversation's live transport without
// settling the operation. The investigate adapter implements it.
type TransportCloser interface {
	Stop(conversationID string)
}

// StartOptions describes one streaming operation.
type StartOptions struct {
	ConversationID string
	MessageID      string
	Content        string
	Mode           conversation.Mode
	UserID         string
	SessionID      string
	DataSources    []string
}

// operation is the lock entry for one in-flight stream. An entry exists if
// and only if an operation has started and not yet settled.
type operation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator is the sole authority on whether a streaming operation may
// start for a conversation. At most one operation is live per conversation;
// a second Start while one is in flight is a deliberate no-op, not a queue.
type Coordinator struct {
	mu     sync.Mutex
	active map[string]*operation

	ask         AskRunner
	investigate InvestigateRunner
	transports  TransportCloser
	logger      *slog.Logger
}

// New creates a coordinator. transports may be nil when no streaming
// transport exists (ask-only deployments). Pass nil logger for default.
func New(askRunner AskRunner, investigateRunner InvestigateRunner, transports TransportCloser, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		active:      make(map[string]*operation),
		ask:         askRunner,
		investigate: investigateRunner,
		transports:  transports,
		logger:      logger.With("component", "coordinator"),
	}
}

// Start runs one streaming operation to settlement. If an operation is
// already live for the conversation, Start logs and returns nil without
// invoking any adapter. The lock entry is released exactly once, on the
// guaranteed-cleanup path, before any adapter error reaches the caller.
// Errors attributable to cancellation are swallowed.
func (c *Coordinator) Start(ctx context.Context, opts StartOptions) error {
	c.mu.Lock()
	if _, live := c.active[opts.ConversationID]; live {
		c.mu.Unlock()
		c.logger.Info("start ignored, operation already in flight",
			"conversation_id", opts.ConversationID)
		return nil
	}

	opCtx, cancel := context.WithCancel(ctx)
	entry := &operation{cancel: cancel, done: make(chan struct{})}
	c.active[opts.ConversationID] = entry
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.active, opts.ConversationID)
		c.mu.Unlock()
		close(entry.done)
	}()

	c.logger.Debug("operation started",
		"conversation_id", opts.ConversationID,
		"message_id", opts.MessageID,
		"mode", opts.Mode)

	var err error
	switch opts.Mode {
	case conversation.ModeAsk:
		err = c.ask.Run(opCtx, ask.Operation{
			ConversationID: opts.ConversationID,
			MessageID:      opts.MessageID,
			Query:          opts.Content,
			SessionID:      opts.SessionID,
			DataSources:    opts.DataSources,
		})
	case conversation.ModeInvestigate:
		err = c.investigate.Run(opCtx, investigate.Operation{
			ConversationID: opts.ConversationID,
			MessageID:      opts.MessageID,
			Query:          opts.Content,
			UserID:         opts.UserID,
			SessionID:      opts.SessionID,
		})
	default:
		err = fmt.Errorf("unknown mode %q", opts.Mode)
	}

	if err != nil && (errors.Is(err, context.Canceled) || opCtx.Err() == context.Canceled) {
		c.logger.Debug("operation cancelled",
			"conversation_id", opts.ConversationID)
		return nil
	}
	if err != nil {
		c.logger.Error("operation failed",
			"error", err,
			"conversation_id", opts.ConversationID,
			"mode", opts.Mode)
	}
	return err
}

// Cancel requests cancellation of the live operation for a conversation, if
// any. The operation observes the token cooperatively and settles without
// error.
func (c *Coordinator) Cancel(conversationID string) {
	c.mu.Lock()
	entry, ok := c.active[conversationID]
	c.mu.Unlock()

	if !ok {
		return
	}
	entry.cancel()
	c.logger.Debug("cancellation requested", "conversation_id", conversationID)
}

// StopTransport disconnects any live transport for the conversation without
// settling the operation itself. Idempotent no-op when nothing is connected.
func (c *Coordinator) StopTransport(conversationID string) {
	if c.transports == nil {
		return
	}
	c.transports.Stop(conversationID)
}

// Active reports whether an operation is in flight for the conversation.
func (c *Coordinator) Active(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[conversationID]
	return ok
}

// Wait returns a channel that closes when the conversation's live operation
// settles. The returned channel is already closed when nothing is in flight.
func (c *Coordinator) Wait(conversationID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.active[conversationID]; ok {
		return entry.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}
