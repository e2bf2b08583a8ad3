// ABOUTME: Canonical conversation data model: conversations, messages, thinking steps, tool calls
// ABOUTME: Mutation commands and the types the streaming pipeline rewrites during a turn

package conversation

import (
	"time"
)

// Mode selects how a conversation's turns are answered by the backend.
type Mode string

const (
	// ModeAsk answers each turn with a single request/response call.
	ModeAsk Mode = "ask"
	// ModeInvestigate streams a multi-step agentic answer with exposed
	// reasoning and tool calls.
	ModeInvestigate Mode = "investigate"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks a message through its streaming lifecycle.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusError     MessageStatus = "error"
)

// StepType categorizes a thinking step.
type StepType string

const (
	StepPlanning  StepType = "planning"
	StepReasoning StepType = "reasoning"
	StepAction    StepType = "action"
)

// ToolStatus tracks a tool call's lifecycle. The investigate wire protocol
// reports results inline, so calls observed from it arrive already
// ToolCompleted.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolCalling   ToolStatus = "calling"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// Conversation is the top-level record for a chat thread. Conversations are
// never hard-deleted; Archived marks the soft end of their lifecycle.
type Conversation struct {
	ID               string
	Mode             Mode
	BackendSessionID string // backend session resource, created lazily
	Title            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Archived         bool
}

// Message is one turn entry. Its content buffer, thinking steps, and tool
// calls are mutated exclusively through Store.Apply while the owning
// streaming operation is live; once IsComplete is set the message is frozen.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	Status         MessageStatus
	ThinkingSteps  []ThinkingStep
	ToolCalls      []ToolCall
	IsStreaming    bool
	IsComplete     bool
	ShowThinking   bool
	Citations      []Citation
	Error          string
	CreatedAt      time.Time
}

// ThinkingStep is one unit of exposed agent reasoning. Steps are append-only
// and ordered by Seq, assigned monotonically at arrival.
type ThinkingStep struct {
	ID        string
	Type      StepType
	Text      string
	Timestamp time.Time
	Seq       int64
	Visible   bool
}

// ToolCall records one backend capability invocation, shown for
// transparency. Append-only, ordered by Seq.
type ToolCall struct {
	ID        string
	Name      string
	Args      map[string]any
	Status    ToolStatus
	Result    any
	Error     string
	Duration  time.Duration
	Timestamp time.Time
	Seq       int64
}

// Citation points at a source document backing part of an answer.
type Citation struct {
	Title   string `json:"title,omitempty"`
	URI     string `json:"uri,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Op identifies a canonical mutation against a message.
type Op int

const (
	// OpAppendThinking appends one thinking step and makes thinking visible.
	OpAppendThinking Op = iota
	// OpAppendToolCall appends one resolved tool call.
	OpAppendToolCall
	// OpReplaceText replaces the whole content buffer. The investigate
	// protocol carries cumulative text per frame, so replacement (not
	// append) is the correct semantics.
	OpReplaceText
	// OpComplete marks the message complete and freezes it.
	OpComplete
	// OpFail marks the message errored without completing it.
	OpFail
)

// String returns the mutation name for logging.
func (o Op) String() string {
	switch o {
	case OpAppendThinking:
		return "append_thinking"
	case OpAppendToolCall:
		return "append_tool_call"
	case OpReplaceText:
		return "replace_text"
	case OpComplete:
		return "complete"
	case OpFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Mutation is one canonical state change produced by the wire normalizer or
// an adapter. Exactly the fields for its Op are set.
type Mutation struct {
	Op        Op
	Text      string         // OpReplaceText: new content buffer
	Step      *ThinkingStep  // OpAppendThinking
	Tool      *ToolCall      // OpAppendToolCall
	Citations []Citation     // OpComplete: citations to attach
	Reason    string         // OpFail: error description
}
