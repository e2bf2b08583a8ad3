// ABOUTME: Bounded, timestamped pub/sub bus for cross-cutting UI signals
// ABOUTME: Independent of conversation logic; recent and history buffers evict FIFO

package uibus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moeai/support-console/internal/dedupe"
)

// EventType is the closed enumeration of UI signals the bus carries. The
// payload shape is event-type-specific and opaque to the bus itself.
type EventType string

const (
	// Message category.
	TypeMessageSent      EventType = "message.sent"
	TypeMessageCompleted EventType = "message.completed"
	TypeMessageFailed    EventType = "message.failed"

	// Tool category.
	TypeToolCallObserved EventType = "tool.call_observed"

	// UI category.
	TypeToast          EventType = "ui.toast"
	TypeToastDismissed EventType = "ui.toast_dismissed"
	TypeScrollToBottom EventType = "ui.scroll_to_bottom"
	TypeThemeChanged   EventType = "ui.theme_changed"
	TypeModalOpened    EventType = "ui.modal_opened"
	TypeModalClosed    EventType = "ui.modal_closed"

	// Session category.
	TypeSessionCreated EventType = "session.created"

	// Navigation category.
	TypeNavigated EventType = "navigation.changed"

	// Performance category.
	TypePerfMark EventType = "performance.mark"
)

// Event is one timestamped bus entry.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Payload   any
	Metadata  map[string]any
}

// Toast is the payload for TypeToast events.
type Toast struct {
	Level    string // "info", "success", "warning", "error"
	Text     string
	Duration time.Duration // zero means the bus default
}

// ScrollNotifier receives the deferred scroll signal. The delay lets layout
// settle before the consumer moves the viewport.
type ScrollNotifier interface {
	ScrollToBottom()
}

// ThemeStore persists a theme choice and toggles the global attribute.
type ThemeStore interface {
	SetTheme(name string)
}

const (
	recentCap  = 100
	historyCap = 1000

	// clearThreshold is the soft backpressure bound: when this many events
	// pile up without a consumer read, the recent buffer is cleared
	// outright. Bounded memory at the cost of short-lived recent history;
	// the history buffer stays intact as the debugging record.
	clearThreshold = 250

	defaultScrollDelay  = 100 * time.Millisecond
	defaultToastTTL     = 5 * time.Second
	toastDedupeWindow   = 2 * time.Second
	subscriberBufSize   = 64
	toastDedupeCapacity = 64
)

// Bus is the UI event bus. All mutation happens through Dispatch; there is
// deliberately no other write path.
type Bus struct {
	mu         sync.Mutex
	recent     []Event
	history    []Event
	last       *Event
	unconsumed int
	toasts     []Event

	subscribers map[string]chan Event

	scroll      ScrollNotifier
	theme       ThemeStore
	scrollDelay time.Duration
	toastTTL    time.Duration
	toastSeen   *dedupe.Cache

	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithScrollNotifier installs the scroll-to-bottom consumer.
func WithScrollNotifier(n ScrollNotifier) Option {
	return func(b *Bus) { b.scroll = n }
}

// WithThemeStore installs the theme persistence consumer.
func WithThemeStore(t ThemeStore) Option {
	return func(b *Bus) { b.theme = t }
}

// WithToastTTL overrides the default toast lifetime.
func WithToastTTL(d time.Duration) Option {
	return func(b *Bus) { b.toastTTL = d }
}

// New creates a bus. Pass nil logger for default.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subscribers: make(map[string]chan Event),
		scrollDelay: defaultScrollDelay,
		toastTTL:    defaultToastTTL,
		toastSeen:   dedupe.New(toastDedupeWindow, toastDedupeCapacity),
		logger:      logger.With("component", "uibus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dispatch appends a timestamped event to the recent and history buffers,
// updates the last-event pointer, fans out to subscribers, and runs the
// event type's side effect. Returns the dispatched event. Duplicate toasts
// inside the dedupe window collapse to the first; the zero Event is
// returned for a suppressed duplicate.
func (b *Bus) Dispatch(typ EventType, payload any, metadata map[string]any) Event {
	if typ == TypeToast {
		if t, ok := payload.(Toast); ok && b.toastSeen.SeenOrMark(string(t.Level)+"|"+t.Text) {
			b.logger.Debug("duplicate toast suppressed", "text", t.Text)
			return Event{}
		}
	}

	ev := Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now(),
		Payload:   payload,
		Metadata:  metadata,
	}

	b.mu.Lock()
	b.unconsumed++
	if b.unconsumed > clearThreshold {
		b.logger.Warn("recent buffer backpressure, clearing",
			"dropped", len(b.recent))
		b.recent = b.recent[:0]
		b.unconsumed = 0
	}

	b.recent = append(b.recent, ev)
	if len(b.recent) > recentCap {
		b.recent = b.recent[len(b.recent)-recentCap:]
	}
	b.history = append(b.history, ev)
	if len(b.history) > historyCap {
		b.history = b.history[len(b.history)-historyCap:]
	}
	b.last = &ev

	if typ == TypeToast {
		b.toasts = append(b.toasts, ev)
	}

	targets := make([]chan Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			// Subscriber channel full; drop for that subscriber.
			b.logger.Debug("dropped event for slow subscriber", "event_id", ev.ID)
		}
	}

	b.sideEffects(ev)
	return ev
}

// sideEffects runs the type-specific behavior after the buffers are updated.
func (b *Bus) sideEffects(ev Event) {
	switch ev.Type {
	case TypeScrollToBottom:
		if b.scroll == nil {
			return
		}
		// Deferred so layout settles before the viewport moves.
		time.AfterFunc(b.scrollDelay, b.scroll.ScrollToBottom)

	case TypeThemeChanged:
		if b.theme == nil {
			return
		}
		if name, ok := ev.Payload.(string); ok {
			b.theme.SetTheme(name)
		}

	case TypeToast:
		ttl := b.toastTTL
		if t, ok := ev.Payload.(Toast); ok && t.Duration > 0 {
			ttl = t.Duration
		}
		id := ev.ID
		time.AfterFunc(ttl, func() { b.dismissToast(id) })
	}
}

// dismissToast removes a toast from the active set and records the
// dismissal on the history buffer.
func (b *Bus) dismissToast(id string) {
	b.mu.Lock()
	found := false
	for i, t := range b.toasts {
		if t.ID == id {
			b.toasts = append(b.toasts[:i], b.toasts[i+1:]...)
			found = true
			break
		}
	}
	b.mu.Unlock()

	if found {
		b.Dispatch(TypeToastDismissed, id, nil)
	}
}

// Recent returns a copy of the recent buffer and marks it consumed.
func (b *Bus) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unconsumed = 0
	return append([]Event(nil), b.recent...)
}

// History returns a copy of the history buffer.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.history...)
}

// LastEvent returns the most recently dispatched event.
func (b *Bus) LastEvent() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return Event{}, false
	}
	return *b.last, true
}

// Toasts returns the currently active toasts.
func (b *Bus) Toasts() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.toasts...)
}

// Subscribe registers a subscriber for all bus events. The subscription is
// removed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.toastSeen.Close()
}
