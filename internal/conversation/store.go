// ABOUTME: In-memory canonical state store for conversations and their messages
// ABOUTME: All message mutation is routed through Apply; readers get isolated copies

package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrConversationNotFound is returned when a conversation id is unknown.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrMessageNotFound is returned when a message id is unknown.
var ErrMessageNotFound = errors.New("message not found")

// ErrMessageComplete is returned when a mutation targets a frozen message.
var ErrMessageComplete = errors.New("message already complete")

// Store holds the canonical mutable conversation state consumed by
// rendering. It is safe for concurrent use; within one conversation only one
// streaming operation mutates at a time (enforced by the stream coordinator),
// so per-message writes never interleave.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string]*Message
	order         map[string][]string // conversation id -> message ids, arrival order
	seq           int64               // monotonic arrival counter for steps and tool calls
	logger        *slog.Logger
}

// NewStore creates an empty state store. Pass nil logger for default.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string]*Message),
		order:         make(map[string][]string),
		logger:        logger.With("component", "conversation"),
	}
}

// EnsureConversation returns the conversation with the given id, creating it
// on first use (conversations are created on the first user message).
func (s *Store) EnsureConversation(id string, mode Mode) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[id]; ok {
		cp := *conv
		return &cp
	}

	now := time.Now()
	conv := &Conversation{
		ID:        id,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[id] = conv
	s.logger.Debug("conversation created", "conversation_id", id, "mode", mode)
	cp := *conv
	return &cp
}

// Conversation returns a copy of the conversation, if known.
func (s *Store) Conversation(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	cp := *conv
	return &cp, true
}

// SetBackendSession records the lazily created backend session id.
func (s *Store) SetBackendSession(conversationID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	conv.BackendSessionID = sessionID
	conv.UpdatedAt = time.Now()
	return nil
}

// Archive soft-deletes a conversation. The record and its messages remain.
func (s *Store) Archive(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	conv.Archived = true
	conv.UpdatedAt = time.Now()
	return nil
}

// AddMessage registers a new message at the tail of its conversation. The
// conversation is created implicitly if needed (first user message).
func (s *Store) AddMessage(msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[msg.ID]; ok {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		now := time.Now()
		s.conversations[msg.ConversationID] = &Conversation{
			ID:        msg.ConversationID,
			Mode:      ModeAsk,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	cp := *msg
	s.messages[msg.ID] = &cp
	s.order[msg.ConversationID] = append(s.order[msg.ConversationID], msg.ID)
	return nil
}

// Apply executes one canonical mutation against a message. Mutations against
// a completed message are rejected: completion freezes the record.
// ThinkingSteps and ToolCalls are strictly append-only; Apply assigns each a
// monotonic sequence number so arrival order survives.
func (s *Store) Apply(messageID string, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if msg.IsComplete {
		return fmt.Errorf("%w: %s", ErrMessageComplete, messageID)
	}

	switch m.Op {
	case OpAppendThinking:
		if m.Step == nil {
			return fmt.Errorf("append_thinking mutation missing step")
		}
		step := *m.Step
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		if step.Timestamp.IsZero() {
			step.Timestamp = time.Now()
		}
		s.seq++
		step.Seq = s.seq
		msg.ThinkingSteps = append(msg.ThinkingSteps, step)
		msg.ShowThinking = true

	case OpAppendToolCall:
		if m.Tool == nil {
			return fmt.Errorf("append_tool_call mutation missing tool")
		}
		tool := *m.Tool
		if tool.ID == "" {
			tool.ID = uuid.New().String()
		}
		if tool.Timestamp.IsZero() {
			tool.Timestamp = time.Now()
		}
		s.seq++
		tool.Seq = s.seq
		msg.ToolCalls = append(msg.ToolCalls, tool)

	case OpReplaceText:
		msg.Content = m.Text

	case OpComplete:
		msg.IsComplete = true
		msg.IsStreaming = false
		msg.Status = StatusComplete
		if len(m.Citations) > 0 {
			msg.Citations = append([]Citation(nil), m.Citations...)
		}

	case OpFail:
		msg.IsStreaming = false
		msg.Status = StatusError
		msg.Error = m.Reason

	default:
		return fmt.Errorf("unknown mutation op %d", m.Op)
	}

	if conv, ok := s.conversations[msg.ConversationID]; ok {
		conv.UpdatedAt = time.Now()
	}

	s.logger.Debug("mutation applied",
		"message_id", messageID,
		"op", m.Op.String())
	return nil
}

// SetStreaming flips the streaming flag on a message. The coordinator's lock
// guarantees at most one message per conversation is streaming at a time.
func (s *Store) SetStreaming(messageID string, streaming bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	msg.IsStreaming = streaming
	if streaming {
		msg.Status = StatusStreaming
	}
	return nil
}

// Message returns a deep copy of a message.
func (s *Store) Message(id string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	return copyMessage(msg), true
}

// Messages returns deep copies of a conversation's messages in arrival order.
func (s *Store) Messages(conversationID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[conversationID]
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			out = append(out, copyMessage(msg))
		}
	}
	return out
}

func copyMessage(msg *Message) *Message {
	cp := *msg
	cp.ThinkingSteps = append([]ThinkingStep(nil), msg.ThinkingSteps...)
	cp.ToolCalls = append([]ToolCall(nil), msg.ToolCalls...)
	cp.Citations = append([]Citation(nil), msg.Citations...)
	return &cp
}
