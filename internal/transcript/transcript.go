// ABOUTME: Renders a conversation to a standalone HTML transcript
// ABOUTME: Assistant markdown is converted with goldmark; thinking and tool calls are summarized

package transcript

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/yuin/goldmark"

	"github.com/moeai/support-console/internal/conversation"
)

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; }
.message { margin: 1rem 0; padding: 0.75rem 1rem; border-radius: 0.5rem; }
.user { background: #eef2ff; }
.assistant { background: #f4f4f5; }
.role { font-weight: bold; font-size: 0.8rem; text-transform: uppercase; color: #555; }
.thinking, .tool { font-size: 0.85rem; color: #666; margin: 0.25rem 0 0.25rem 1rem; }
.citations { font-size: 0.8rem; margin-top: 0.5rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Mode}} conversation, exported {{.ExportedAt}}</p>
{{range .Messages}}
<div class="message {{.RoleClass}}">
<div class="role">{{.Role}}</div>
{{range .Thinking}}<div class="thinking">&#8227; {{.}}</div>{{end}}
{{range .Tools}}<div class="tool">&#9881; {{.}}</div>{{end}}
<div>{{.Body}}</div>
{{if .Citations}}<div class="citations">Sources:{{range .Citations}} <a href="{{.URI}}">{{.Title}}</a>{{end}}</div>{{end}}
</div>
{{end}}
</body>
</html>
`

type page struct {
	Title      string
	Mode       conversation.Mode
	ExportedAt string
	Messages   []renderedMessage
}

type renderedMessage struct {
	Role      string
	RoleClass string
	Body      template.HTML
	Thinking  []string
	Tools     []string
	Citations []conversation.Citation
}

// Write renders the conversation and its messages as HTML to w.
func Write(w io.Writer, conv *conversation.Conversation, messages []*conversation.Message) error {
	title := conv.Title
	if title == "" {
		title = "Conversation " + conv.ID
	}

	p := page{
		Title:      title,
		Mode:       conv.Mode,
		ExportedAt: time.Now().Format(time.RFC1123),
	}

	for _, msg := range messages {
		rm := renderedMessage{
			Role:      string(msg.Role),
			RoleClass: string(msg.Role),
			Citations: msg.Citations,
		}

		// Assistant answers are markdown; user input is shown verbatim.
		if msg.Role == conversation.RoleAssistant {
			var buf bytes.Buffer
			if err := goldmark.Convert([]byte(msg.Content), &buf); err != nil {
				return fmt.Errorf("rendering message %s: %w", msg.ID, err)
			}
			rm.Body = template.HTML(buf.String())
		} else {
			rm.Body = template.HTML(template.HTMLEscapeString(msg.Content))
		}

		for _, step := range msg.ThinkingSteps {
			if step.Visible {
				rm.Thinking = append(rm.Thinking, step.Text)
			}
		}
		for _, tool := range msg.ToolCalls {
			rm.Tools = append(rm.Tools, fmt.Sprintf("%s (%s)", tool.Name, tool.Status))
		}

		p.Messages = append(p.Messages, rm)
	}

	tmpl := template.Must(template.New("transcript").Parse(pageTemplate))
	return tmpl.Execute(w, p)
}
