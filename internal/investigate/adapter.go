// ABOUTME: Investigate-mode adapter: one streaming subscription per operation
// ABOUTME: Reads heterogeneous frames, normalizes them, and applies mutations in arrival order

package investigate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/moeai/support-console/internal/conversation"
	"github.com/moeai/support-console/internal/wire"
)

// ErrTransport is returned when the streaming transport fails or closes
// before the stream reaches a completion signal.
var ErrTransport = errors.New("investigate transport error")

// SessionCreator lazily provisions a backend session when a conversation
// does not have one yet.
type SessionCreator interface {
	CreateSession(ctx context.Context, userID string) (string, error)
}

// StateStore is the slice of the conversation store the adapter mutates.
type StateStore interface {
	Apply(messageID string, m conversation.Mutation) error
	SetBackendSession(conversationID, sessionID string) error
	SetStreaming(messageID string, streaming bool) error
}

// Operation is one investigate-mode turn handed to the adapter by the
// coordinator.
type Operation struct {
	ConversationID string
	MessageID      string
	Query          string
	UserID         string
	SessionID      string
}

// queryEnvelope is the first message sent on a new subscription.
type queryEnvelope struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

// Adapter runs investigate operations. It owns the active-transport
// registry: at most one live subscription per conversation, which the
// stream coordinator's lock guarantees by construction.
type Adapter struct {
	dialer    Dialer
	streamURL string
	sessions  SessionCreator
	state     StateStore
	authToken string

	mu    sync.Mutex
	conns map[string]Conn // conversation id -> live subscription

	logger *slog.Logger
}

// NewAdapter creates an investigate adapter dialing streamURL. Pass nil
// logger for default.
func NewAdapter(dialer Dialer, streamURL, authToken string, sessions SessionCreator, state StateStore, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		dialer:    dialer,
		streamURL: streamURL,
		sessions:  sessions,
		state:     state,
		authToken: authToken,
		conns:     make(map[string]Conn),
		logger:    logger.With("component", "investigate-adapter"),
	}
}

// Run opens one streaming subscription, sends the query, and applies every
// delivered frame to the conversation store until the stream completes.
// Malformed frames are logged and skipped. Transport errors mid-stream do
// not fail the operation unless the transport closes without a completion
// signal. Cancellation settles the operation without error and without
// further mutations.
func (a *Adapter) Run(ctx context.Context, op Operation) error {
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

	sessionID := op.SessionID
	if sessionID == "" {
		created, err := a.sessions.CreateSession(ctx, op.UserID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.fail(op.MessageID, err.Error())
			return fmt.Errorf("creating backend session: %w", err)
		}
		sessionID = created
		if err := a.state.SetBackendSession(op.ConversationID, sessionID); err != nil {
			a.logger.Warn("could not record backend session",
				"error", err,
				"conversation_id", op.ConversationID)
		}
	}

	conn, err := a.dialer.Dial(ctx, a.endpoint(sessionID), a.header())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.fail(op.MessageID, err.Error())
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	a.register(op.ConversationID, conn)
	defer a.Stop(op.ConversationID)

	a.logger.Info("stream opened",
		"conversation_id", op.ConversationID,
		"session_id", sessionID)

	if err := conn.WriteJSON(queryEnvelope{
		SessionID: sessionID,
		UserID:    op.UserID,
		Message:   op.Query,
	}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.fail(op.MessageID, err.Error())
		return fmt.Errorf("%w: sending query: %v", ErrTransport, err)
	}

	// Unblock the read loop when the operation is cancelled.
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	completed, err := a.readLoop(ctx, conn, op)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if completed {
		return nil
	}
	if err != nil {
		a.fail(op.MessageID, err.Error())
		return fmt.Errorf("%w: closed before completion: %v", ErrTransport, err)
	}
	a.fail(op.MessageID, "stream closed before completion")
	return fmt.Errorf("%w: closed before completion", ErrTransport)
}

// readLoop consumes frames until completion, cancellation, or close.
func (a *Adapter) readLoop(ctx context.Context, conn Conn, op Operation) (completed bool, readErr error) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || closedNormally(err) {
				return false, nil
			}
			a.logger.Error("stream read error",
				"error", err,
				"conversation_id", op.ConversationID)
			return false, err
		}
		if ctx.Err() != nil {
			// Cancelled between frames: no further mutations.
			return false, nil
		}

		frame, err := wire.Decode(data)
		if err != nil {
			// Malformed frame: log, skip, keep streaming.
			a.logger.Warn("skipping malformed frame",
				"error", err,
				"conversation_id", op.ConversationID)
			continue
		}

		for _, mut := range wire.Normalize(frame) {
			if err := a.state.Apply(op.MessageID, mut); err != nil {
				a.logger.Error("mutation failed",
					"error", err,
					"message_id", op.MessageID,
					"op", mut.Op.String())
			}
		}

		if wire.Terminal(frame) {
			a.logger.Info("stream completed",
				"conversation_id", op.ConversationID)
			return true, nil
		}
	}
}

// Stop disconnects the live transport for a conversation, if any. This is a
// soft stop: it releases the subscription but does not settle the
// coordinator-level operation. Safe to call repeatedly.
func (a *Adapter) Stop(conversationID string) {
	a.mu.Lock()
	conn, ok := a.conns[conversationID]
	if ok {
		delete(a.conns, conversationID)
	}
	a.mu.Unlock()

	if !ok {
		return
	}
	if err := conn.Close(); err != nil {
		a.logger.Debug("transport close",
			"error", err,
			"conversation_id", conversationID)
	}
	a.logger.Debug("stream closed", "conversation_id", conversationID)
}

// Active reports whether a conversation has a live subscription.
func (a *Adapter) Active(conversationID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.conns[conversationID]
	return ok
}

func (a *Adapter) register(conversationID string, conn Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conns[conversationID] = conn
}

func (a *Adapter) endpoint(sessionID string) string {
	return a.streamURL + "?session_id=" + url.QueryEscape(sessionID)
}

func (a *Adapter) header() http.Header {
	h := http.Header{}
	if a.authToken != "" {
		h.Set("Authorization", "Bearer "+a.authToken)
	}
	return h
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
