// Package conversation holds the canonical conversation state and the
// mutation vocabulary the streaming pipeline speaks.
//
// # Overview
//
// The conversation package sits underneath the mode adapters and the stream
// coordinator. It owns the data model (conversations, messages, thinking
// steps, tool calls, citations) and the Store, the single mutable copy of
// that state.
//
// # Mutations
//
// All message mutation flows through Store.Apply as one of five canonical
// commands:
//
//   - OpAppendThinking: append one reasoning step (append-only, ordered)
//   - OpAppendToolCall: append one resolved tool call (append-only, ordered)
//   - OpReplaceText: replace the whole content buffer (frames carry
//     cumulative text, not increments)
//   - OpComplete: mark the message complete and freeze it
//   - OpFail: mark the message errored without completing it
//
// Completion freezes a message: Apply rejects any further mutation against
// it with ErrMessageComplete.
//
// # Ordering
//
// Thinking steps and tool calls receive a monotonic sequence number at
// arrival, so the order in which frames were delivered survives into
// rendering and transcript export.
//
// # Concurrency
//
// The Store is safe for concurrent use. Within one conversation only a
// single streaming operation mutates at a time; the stream coordinator
// enforces that upstream.
package conversation
