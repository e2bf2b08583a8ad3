// ABOUTME: Event normalizer mapping wire frames onto canonical conversation mutations
// ABOUTME: Keeps protocol-shape knowledge out of the adapters' control flow

package wire

import (
	"strings"

	"github.com/moeai/support-console/internal/conversation"
)

// Normalize maps one frame to the ordered list of mutations it implies:
//
//  1. Each thought-flagged part appends one reasoning step (and the store
//     flips the message's thinking-visible flag).
//  2. Each function-call part appends one tool call, already completed with
//     its inline result.
//  3. Plain text parts are concatenated per frame; a non-empty accumulator
//     replaces the message content wholesale, because frames carry
//     cumulative text, not increments.
//  4. A terminal frame (see Terminal) appends a completion mutation.
func Normalize(f Frame) []conversation.Mutation {
	var muts []conversation.Mutation
	var text strings.Builder

	for _, p := range f.Parts {
		switch {
		case p.Thought:
			if p.Text == "" {
				continue
			}
			muts = append(muts, conversation.Mutation{
				Op: conversation.OpAppendThinking,
				Step: &conversation.ThinkingStep{
					Type:    conversation.StepReasoning,
					Text:    p.Text,
					Visible: true,
				},
			})

		case p.FunctionCall != nil:
			fc := p.FunctionCall
			muts = append(muts, conversation.Mutation{
				Op: conversation.OpAppendToolCall,
				Tool: &conversation.ToolCall{
					ID:     fc.ID,
					Name:   fc.Name,
					Args:   fc.Args,
					Status: conversation.ToolCompleted,
					Result: fc.Response,
				},
			})

		default:
			text.WriteString(p.Text)
		}
	}

	if text.Len() > 0 {
		muts = append(muts, conversation.Mutation{
			Op:   conversation.OpReplaceText,
			Text: text.String(),
		})
	}

	if Terminal(f) {
		muts = append(muts, conversation.Mutation{Op: conversation.OpComplete})
	}

	return muts
}
