// ABOUTME: HTTP client for the support backend's ask-mode API
// ABOUTME: Session creation, single-shot answer queries, and conversation turn storage

package ask

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/moeai/support-console/internal/conversation"
)

// ErrStoreTurn is returned when the backend rejects a conversation turn
// record. Callers treat it as best-effort: log and move on.
var ErrStoreTurn = errors.New("store conversation turn failed")

// DataSourceAll is the filter sentinel meaning "search every data store".
const DataSourceAll = "all"

const defaultRequestTimeout = 30 * time.Second

// Client talks to the ask-mode REST API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a backend client. Pass nil logger for default.
func NewClient(baseURL, authToken string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     logger.With("component", "ask-client"),
	}
}

// QueryRequest is one answer query against the backend.
type QueryRequest struct {
	Query            string   `json:"query"`
	SessionID        string   `json:"session_id,omitempty"`
	DataSources      []string `json:"data_sources,omitempty"`
	MaxResults       int      `json:"max_results"`
	IncludeCitations bool     `json:"include_citations"`
}

// QueryResponse is the backend's complete answer. The backend does not
// stream: answer text and citations arrive atomically.
type QueryResponse struct {
	Answer    string         `json:"answer"`
	Citations []wireCitation `json:"citations"`
	SessionID string         `json:"session_id"`
	Status    string         `json:"status"`
}

type wireCitation struct {
	CitedText string           `json:"cited_text"`
	Sources   []citationSource `json:"sources"`
}

type citationSource struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// MappedCitations flattens wire citations into the conversation model.
func (r *QueryResponse) MappedCitations() []conversation.Citation {
	var out []conversation.Citation
	for _, c := range r.Citations {
		if len(c.Sources) == 0 {
			out = append(out, conversation.Citation{Snippet: c.CitedText})
			continue
		}
		for _, src := range c.Sources {
			out = append(out, conversation.Citation{
				Title:   src.Title,
				URI:     src.URI,
				Snippet: c.CitedText,
			})
		}
	}
	return out
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
}

// CreateSession creates a backend conversational session for the user and
// returns the session id to use on subsequent queries.
func (c *Client) CreateSession(ctx context.Context, userID string) (string, error) {
	var resp createSessionResponse
	if err := c.post(ctx, "/ask/session", createSessionRequest{UserID: userID}, &resp); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	c.logger.Debug("backend session created", "user_id", userID, "session_id", resp.SessionID)
	return resp.SessionID, nil
}

// Query executes one answer query. The response carries the full answer and
// citation list.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	var resp QueryResponse
	if err := c.post(ctx, "/ask/query", req, &resp); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return &resp, nil
}

// Turn is one resolved user/assistant exchange handed to the persistence
// bridge after a successful ask-mode operation.
type Turn struct {
	SessionID  string         `json:"session_id"`
	UserQuery  string         `json:"user_query"`
	AIResponse string         `json:"ai_response"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StoreConversationTurn records a completed turn with the backend. Failures
// come back wrapped in ErrStoreTurn; they must never downgrade an already
// delivered answer.
func (c *Client) StoreConversationTurn(ctx context.Context, turn Turn) error {
	if err := c.post(ctx, "/ask/ask-sessions/turns", turn, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreTurn, err)
	}
	return nil
}

// post sends a JSON request and decodes the JSON response into out (if
// non-nil). Non-2xx statuses are errors carrying the response body.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
