// ABOUTME: Wire frame shapes for the investigate streaming transport
// ABOUTME: Decodes the part-based frame and the legacy flat frame into one canonical form

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned when a delivered frame cannot be decoded.
// Callers log it and skip the frame; the stream continues.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the canonical form of one transport message. Both wire shapes
// decode into it: the current shape carries content parts, the legacy flat
// shape is converted part-for-part by decodeLegacy.
type Frame struct {
	Parts []Part
	// ExplicitComplete is set only by the legacy {type:"complete"} frame,
	// which carries an explicit terminal marker. The current protocol has
	// none; see Terminal.
	ExplicitComplete bool
}

// Part is one unit inside a frame: a thought fragment, a function call with
// its inline result, or a plain text fragment. Exactly one interpretation
// applies per part.
type Part struct {
	Thought      bool          `json:"thought,omitempty"`
	Text         string        `json:"text,omitempty"`
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
}

// FunctionCall describes a tool invocation. The protocol reports the result
// inline on the same part rather than via pending/completed transitions.
type FunctionCall struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
	Response any            `json:"response"`
}

// content is the current frame envelope.
type content struct {
	Parts []Part `json:"parts"`
}

// rawFrame lets us sniff which shape arrived before committing to a decode.
// "content" is an object in the current shape and a string in the legacy one.
type rawFrame struct {
	Type          string          `json:"type"`
	Content       json.RawMessage `json:"content"`
	ThinkingSteps []legacyStep    `json:"thinkingSteps"`
	ToolCalls     []legacyTool    `json:"toolCalls"`
}

type legacyStep struct {
	Text string `json:"text"`
}

type legacyTool struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	Result any            `json:"result"`
}

// Decode parses one transport message into a Frame. Unknown fields are
// ignored; structurally invalid payloads return ErrMalformedFrame.
func Decode(data []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if raw.Type != "" {
		return decodeLegacy(raw)
	}

	var c content
	if len(raw.Content) > 0 {
		if err := json.Unmarshal(raw.Content, &c); err != nil {
			return Frame{}, fmt.Errorf("%w: content: %v", ErrMalformedFrame, err)
		}
	}
	return Frame{Parts: c.Parts}, nil
}

// decodeLegacy converts the flat {type, content, thinkingSteps, toolCalls}
// shape into parts. Kept isolated so it can be removed when the last legacy
// producer is retired.
func decodeLegacy(raw rawFrame) (Frame, error) {
	var text string
	if len(raw.Content) > 0 {
		if err := json.Unmarshal(raw.Content, &text); err != nil {
			return Frame{}, fmt.Errorf("%w: legacy content: %v", ErrMalformedFrame, err)
		}
	}

	var f Frame
	switch raw.Type {
	case "content":
		if text != "" {
			f.Parts = append(f.Parts, Part{Text: text})
		}

	case "thinking":
		if text != "" {
			f.Parts = append(f.Parts, Part{Thought: true, Text: text})
		}
		for _, step := range raw.ThinkingSteps {
			if step.Text == "" {
				continue
			}
			f.Parts = append(f.Parts, Part{Thought: true, Text: step.Text})
		}

	case "tool_call":
		for _, tc := range raw.ToolCalls {
			f.Parts = append(f.Parts, Part{FunctionCall: &FunctionCall{
				ID:       tc.ID,
				Name:     tc.Name,
				Args:     tc.Args,
				Response: tc.Result,
			}})
		}

	case "complete":
		f.ExplicitComplete = true
		if text != "" {
			f.Parts = append(f.Parts, Part{Text: text})
		}

	default:
		return Frame{}, fmt.Errorf("%w: unknown legacy type %q", ErrMalformedFrame, raw.Type)
	}
	return f, nil
}

// Terminal reports whether a frame ends the stream. The backend sends no
// explicit terminal marker on the current protocol; the observed signal is a
// frame that carries text but neither a thought nor a function call. That
// heuristic is preserved exactly as observed, isolated here pending a proper
// terminal-frame contract from upstream.
func Terminal(f Frame) bool {
	if f.ExplicitComplete {
		return true
	}
	var text bool
	for _, p := range f.Parts {
		if p.Thought {
			return false
		}
		if p.FunctionCall != nil {
			return false
		}
		if p.Text != "" {
			text = true
		}
	}
	return text
}
