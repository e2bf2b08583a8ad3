// ABOUTME: Tests for the wire-frame-to-mutation normalizer
// ABOUTME: Verifies mutation ordering, cumulative text replacement, and completion emission

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moeai/support-console/internal/conversation"
)

func TestNormalize_ThoughtPart(t *testing.T) {
	muts := Normalize(Frame{Parts: []Part{
		{Thought: true, Text: "reading the ticket history"},
	}})

	require.Len(t, muts, 1)
	assert.Equal(t, conversation.OpAppendThinking, muts[0].Op)
	require.NotNil(t, muts[0].Step)
	assert.Equal(t, conversation.StepReasoning, muts[0].Step.Type)
	assert.Equal(t, "reading the ticket history", muts[0].Step.Text)
	assert.True(t, muts[0].Step.Visible)
}

func TestNormalize_EmptyThoughtDropped(t *testing.T) {
	muts := Normalize(Frame{Parts: []Part{{Thought: true, Text: ""}}})
	assert.Empty(t, muts)
}

func TestNormalize_FunctionCallArrivesCompleted(t *testing.T) {
	muts := Normalize(Frame{Parts: []Part{
		{FunctionCall: &FunctionCall{
			ID:       "fc-1",
			Name:     "search_kb",
			Args:     map[string]any{"query": "refund policy"},
			Response: map[string]any{"hits": 2.0},
		}},
	}})

	require.Len(t, muts, 1)
	assert.Equal(t, conversation.OpAppendToolCall, muts[0].Op)
	tool := muts[0].Tool
	require.NotNil(t, tool)
	assert.Equal(t, "fc-1", tool.ID)
	assert.Equal(t, "search_kb", tool.Name)
	// Results arrive inline, never through a pending state
	assert.Equal(t, conversation.ToolCompleted, tool.Status)
	assert.NotNil(t, tool.Result)
}

func TestNormalize_TextConcatenatedPerFrame(t *testing.T) {
	muts := Normalize(Frame{Parts: []Part{
		{Thought: true, Text: "thinking"},
		{Text: "Hello "},
		{Text: "world"},
	}})

	require.Len(t, muts, 2)
	assert.Equal(t, conversation.OpAppendThinking, muts[0].Op)
	assert.Equal(t, conversation.OpReplaceText, muts[1].Op)
	assert.Equal(t, "Hello world", muts[1].Text)
}

func TestNormalize_TerminalFrameAppendsComplete(t *testing.T) {
	muts := Normalize(Frame{Parts: []Part{{Text: "final answer"}}})

	require.Len(t, muts, 2)
	assert.Equal(t, conversation.OpReplaceText, muts[0].Op)
	assert.Equal(t, "final answer", muts[0].Text)
	// Completion is always the last mutation of its frame
	assert.Equal(t, conversation.OpComplete, muts[1].Op)
}

func TestNormalize_NonTerminalFrameNoComplete(t *testing.T) {
	muts := Normalize(Frame{Parts: []Part{
		{Thought: true, Text: "still working"},
		{Text: "partial"},
	}})

	for _, m := range muts {
		assert.NotEqual(t, conversation.OpComplete, m.Op)
	}
}

func TestNormalize_MixedFramePreservesPartOrder(t *testing.T) {
	muts := Normalize(Frame{Parts: []Part{
		{Thought: true, Text: "first thought"},
		{FunctionCall: &FunctionCall{ID: "fc-1", Name: "search_kb"}},
		{Thought: true, Text: "second thought"},
	}})

	require.Len(t, muts, 3)
	assert.Equal(t, conversation.OpAppendThinking, muts[0].Op)
	assert.Equal(t, "first thought", muts[0].Step.Text)
	assert.Equal(t, conversation.OpAppendToolCall, muts[1].Op)
	assert.Equal(t, conversation.OpAppendThinking, muts[2].Op)
	assert.Equal(t, "second thought", muts[2].Step.Text)
}

func TestNormalize_ExplicitComplete(t *testing.T) {
	muts := Normalize(Frame{ExplicitComplete: true, Parts: []Part{{Text: "done"}}})

	require.Len(t, muts, 2)
	assert.Equal(t, conversation.OpReplaceText, muts[0].Op)
	assert.Equal(t, conversation.OpComplete, muts[1].Op)
}

func TestNormalize_EmptyFrame(t *testing.T) {
	assert.Empty(t, Normalize(Frame{}))
}
