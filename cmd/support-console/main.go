// ABOUTME: Entry point for the support-console terminal client
// ABOUTME: Wires config, history store, adapters, coordinator, and the interactive REPL

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/moeai/support-console/internal/ask"
	"github.com/moeai/support-console/internal/config"
	"github.com/moeai/support-console/internal/conversation"
	"github.com/moeai/support-console/internal/identity"
	"github.com/moeai/support-console/internal/investigate"
	"github.com/moeai/support-console/internal/store"
	"github.com/moeai/support-console/internal/stream"
	"github.com/moeai/support-console/internal/transcript"
	"github.com/moeai/support-console/internal/uibus"
)

// version is overridden through -ldflags on release builds.
var version = "dev"

// getConfigPath returns the path to the console config file.
// Priority: SUPPORT_CONSOLE_CONFIG env var > XDG_CONFIG_HOME > ~/.config
func getConfigPath() string {
	if envPath := os.Getenv("SUPPORT_CONSOLE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "support-console.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "support-console", "config.yaml")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// console holds the wired application state for the REPL.
type console struct {
	cfg         *config.Config
	state       *conversation.Store
	history     *store.SQLiteStore
	coordinator *stream.Coordinator
	bus         *uibus.Bus
	userID      string
	client      *ask.Client

	mode   conversation.Mode
	convID string
	logger *slog.Logger
}

func main() {
	cfgPath := getConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error (%s): %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	userID := "anonymous"
	if cfg.Backend.AuthToken != "" {
		id, err := identity.FromToken(cfg.Backend.AuthToken)
		if err != nil {
			logger.Warn("could not read identity from token", "error", err)
		} else {
			userID = id.UserID
			if id.Expired() {
				color.Yellow("auth token is expired; the backend may reject requests")
			}
		}
	}

	history, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history store error: %v\n", err)
		os.Exit(1)
	}
	defer history.Close()

	state := conversation.NewStore(logger)
	client := ask.NewClient(cfg.Backend.BaseURL, cfg.Backend.AuthToken, logger)

	askAdapter := ask.NewAdapter(client, client, state, logger)
	askAdapter.SetReveal(cfg.Ask.WordDelay, cfg.Ask.Timeout)
	askAdapter.SetMaxResults(cfg.Ask.MaxResults)

	invAdapter := investigate.NewAdapter(
		investigate.WebSocketDialer{},
		cfg.Backend.StreamURL,
		cfg.Backend.AuthToken,
		client,
		state,
		logger,
	)

	coordinator := stream.New(askAdapter, invAdapter, invAdapter, logger)

	bus := uibus.New(logger, uibus.WithThemeStore(fileThemeStore{
		path: filepath.Join(filepath.Dir(cfg.Database.Path), "theme"),
	}))
	defer bus.Close()

	c := &console{
		cfg:         cfg,
		state:       state,
		history:     history,
		coordinator: coordinator,
		bus:         bus,
		userID:      userID,
		client:      client,
		mode:        conversation.ModeAsk,
		logger:      logger,
	}

	color.Cyan("support-console %s (/help for commands)", version)
	c.repl()
}

func (c *console) repl() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		fmt.Printf("%s> ", c.mode)
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if c.command(line) {
				return
			}
			continue
		}

		c.sendTurn(line)
	}
}

// command handles a slash command; returns true when the REPL should exit.
func (c *console) command(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println("/mode ask|investigate   switch answer mode")
		fmt.Println("/new                    start a fresh conversation")
		fmt.Println("/list                   list saved conversations")
		fmt.Println("/export <file.html>     export the current conversation")
		fmt.Println("/theme <name>           switch the UI theme")
		fmt.Println("/stop                   disconnect the live stream")
		fmt.Println("/quit                   exit")

	case "/mode":
		if len(fields) != 2 {
			color.Red("usage: /mode ask|investigate")
			break
		}
		switch conversation.Mode(fields[1]) {
		case conversation.ModeAsk, conversation.ModeInvestigate:
			c.mode = conversation.Mode(fields[1])
			c.convID = "" // mode switch starts a new conversation
		default:
			color.Red("unknown mode %q", fields[1])
		}

	case "/new":
		c.convID = ""

	case "/list":
		convs, err := c.history.ListConversations(context.Background(), false, 20)
		if err != nil {
			color.Red("list failed: %v", err)
			break
		}
		for _, conv := range convs {
			fmt.Printf("  %s  [%s]  %s\n", conv.ID, conv.Mode, conv.Title)
		}

	case "/export":
		if len(fields) != 2 {
			color.Red("usage: /export <file.html>")
			break
		}
		c.export(fields[1])

	case "/theme":
		if len(fields) != 2 {
			color.Red("usage: /theme <name>")
			break
		}
		c.bus.Dispatch(uibus.TypeThemeChanged, fields[1], nil)

	case "/stop":
		if c.convID != "" {
			c.coordinator.StopTransport(c.convID)
		}

	default:
		color.Red("unknown command %s", fields[0])
	}
	return false
}

// sendTurn runs one full question/answer turn in the current conversation.
func (c *console) sendTurn(query string) {
	ctx := context.Background()

	if c.convID == "" {
		c.convID = uuid.New().String()
	}
	conv := c.state.EnsureConversation(c.convID, c.mode)

	// Ask mode needs a backend session before the first query; investigate
	// mode creates one lazily inside the adapter.
	sessionID := conv.BackendSessionID
	if sessionID == "" && c.mode == conversation.ModeAsk {
		created, err := c.client.CreateSession(ctx, c.userID)
		if err != nil {
			color.Red("session error: %v", err)
			return
		}
		sessionID = created
		if err := c.state.SetBackendSession(c.convID, sessionID); err != nil {
			c.logger.Warn("could not record session", "error", err)
		}
	}

	userMsg := &conversation.Message{
		ConversationID: c.convID,
		Role:           conversation.RoleUser,
		Content:        query,
		Status:         conversation.StatusComplete,
		IsComplete:     true,
	}
	if err := c.state.AddMessage(userMsg); err != nil {
		color.Red("%v", err)
		return
	}

	assistantMsg := &conversation.Message{
		ConversationID: c.convID,
		Role:           conversation.RoleAssistant,
		Status:         conversation.StatusPending,
	}
	if err := c.state.AddMessage(assistantMsg); err != nil {
		color.Red("%v", err)
		return
	}

	c.bus.Dispatch(uibus.TypeMessageSent, c.convID, nil)
	c.bus.Dispatch(uibus.TypeScrollToBottom, nil, nil)

	renderCtx, stopRender := context.WithCancel(ctx)
	renderDone := make(chan struct{})
	go c.renderLoop(renderCtx, assistantMsg.ID, renderDone)

	err := c.coordinator.Start(ctx, stream.StartOptions{
		ConversationID: c.convID,
		MessageID:      assistantMsg.ID,
		Content:        query,
		Mode:           c.mode,
		UserID:         c.userID,
		SessionID:      sessionID,
		DataSources:    c.cfg.Ask.DataSources,
	})

	stopRender()
	<-renderDone

	msg, _ := c.state.Message(assistantMsg.ID)
	if err != nil {
		c.bus.Dispatch(uibus.TypeMessageFailed, c.convID, nil)
		color.Red("\nturn failed: %v", err)
		return
	}

	c.bus.Dispatch(uibus.TypeMessageCompleted, c.convID, nil)
	if msg != nil && len(msg.Citations) > 0 {
		fmt.Println()
		for i, cit := range msg.Citations {
			color.Blue("  [%d] %s %s", i+1, cit.Title, cit.URI)
		}
	}
	fmt.Println()

	c.saveTurn(ctx, query, msg)
}

// renderLoop prints assistant output incrementally as the state store
// mutates: new thinking steps, new tool calls, and content growth.
func (c *console) renderLoop(ctx context.Context, messageID string, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	printed := 0
	steps := 0
	tools := 0

	flush := func() {
		msg, ok := c.state.Message(messageID)
		if !ok {
			return
		}
		for ; steps < len(msg.ThinkingSteps); steps++ {
			color.Yellow("  · %s", msg.ThinkingSteps[steps].Text)
		}
		for ; tools < len(msg.ToolCalls); tools++ {
			tc := msg.ToolCalls[tools]
			color.Magenta("  ⚙ %s (%s)", tc.Name, tc.Status)
		}
		if len(msg.Content) > printed {
			fmt.Print(msg.Content[printed:])
			printed = len(msg.Content)
		} else if len(msg.Content) < printed {
			// Content was replaced with something shorter; reprint.
			fmt.Println()
			fmt.Print(msg.Content)
			printed = len(msg.Content)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}

// saveTurn persists the conversation and the resolved turn locally.
func (c *console) saveTurn(ctx context.Context, query string, msg *conversation.Message) {
	if msg == nil || !msg.IsComplete {
		return
	}

	conv, ok := c.state.Conversation(c.convID)
	if !ok {
		return
	}
	if conv.Title == "" {
		conv.Title = truncate(query, 64)
	}

	if err := c.history.SaveConversation(ctx, conv); err != nil {
		c.logger.Error("failed to save conversation", "error", err)
		return
	}
	if err := c.history.SaveTurn(ctx, &store.TurnRecord{
		ID:             uuid.New().String(),
		ConversationID: c.convID,
		UserQuery:      query,
		AIResponse:     msg.Content,
		Citations:      msg.Citations,
		CreatedAt:      time.Now(),
	}); err != nil {
		c.logger.Error("failed to save turn", "error", err)
	}
}

func (c *console) export(path string) {
	if c.convID == "" {
		color.Red("nothing to export yet")
		return
	}
	conv, ok := c.state.Conversation(c.convID)
	if !ok {
		color.Red("conversation not found")
		return
	}

	f, err := os.Create(path)
	if err != nil {
		color.Red("export failed: %v", err)
		return
	}
	defer f.Close()

	if err := transcript.Write(f, conv, c.state.Messages(c.convID)); err != nil {
		color.Red("export failed: %v", err)
		return
	}
	color.Green("exported to %s", path)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// fileThemeStore persists the selected theme name to a small state file.
type fileThemeStore struct {
	path string
}

func (f fileThemeStore) SetTheme(name string) {
	if err := os.WriteFile(f.path, []byte(name), 0644); err != nil {
		slog.Default().Warn("could not persist theme", "error", err)
	}
}
