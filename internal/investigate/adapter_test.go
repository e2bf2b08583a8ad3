// ABOUTME: Tests for the investigate-mode streaming adapter
// ABOUTME: Verifies session bootstrap, frame processing order, completion, faults, and cancellation

package investigate

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moeai/support-console/internal/conversation"
)

// recordingState captures mutations and the recorded backend session.
type recordingState struct {
	mu        sync.Mutex
	mutations []conversation.Mutation
	sessions  map[string]string
	streaming []bool
}

func newRecordingState() *recordingState {
	return &recordingState{sessions: make(map[string]string)}
}

func (r *recordingState) Apply(messageID string, m conversation.Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = append(r.mutations, m)
	return nil
}

func (r *recordingState) SetBackendSession(conversationID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[conversationID] = sessionID
	return nil
}

func (r *recordingState) SetStreaming(messageID string, streaming bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming = append(r.streaming, streaming)
	return nil
}

func (r *recordingState) flags() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.streaming...)
}

func (r *recordingState) all() []conversation.Mutation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]conversation.Mutation(nil), r.mutations...)
}

func (r *recordingState) session(convID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[convID]
}

type fakeConn struct {
	frames chan []byte

	mu      sync.Mutex
	written []any
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn(frames ...[]byte) *fakeConn {
	ch := make(chan []byte, len(frames)+8)
	for _, f := range frames {
		ch <- f
	}
	return &fakeConn{frames: ch, closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	default:
	}

	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	conn    Conn
	err     error
	lastURL string
	header  http.Header
	calls   int
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.calls++
	d.lastURL = url
	d.header = header
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type fakeSessions struct {
	sessionID string
	err       error
	calls     int
	lastUser  string
}

func (s *fakeSessions) CreateSession(ctx context.Context, userID string) (string, error) {
	s.calls++
	s.lastUser = userID
	if s.err != nil {
		return "", s.err
	}
	return s.sessionID, nil
}

// blockingSessions parks until the context ends, like a hung backend.
type blockingSessions struct{}

func (blockingSessions) CreateSession(ctx context.Context, userID string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// blockingDialer parks until the context ends, like an unresponsive endpoint.
type blockingDialer struct{}

func (blockingDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

var (
	thinkingFrame = []byte(`{"content":{"parts":[{"thought":true,"text":"checking the logs"}]}}`)
	toolFrame     = []byte(`{"content":{"parts":[{"functionCall":{"id":"fc-1","name":"search_kb","args":{"q":"billing"},"response":"ok"}}]}}`)
	finalFrame    = []byte(`{"content":{"parts":[{"text":"Here is the diagnosis."}]}}`)
)

func testOp() Operation {
	return Operation{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Query:          "why did the job fail",
		UserID:         "user-1",
		SessionID:      "sess-1",
	}
}

func TestAdapter_Run_CompletesOnTerminalFrame(t *testing.T) {
	conn := newFakeConn(thinkingFrame, toolFrame, finalFrame)
	dialer := &fakeDialer{conn: conn}
	state := newRecordingState()
	a := NewAdapter(dialer, "wss://backend/run_live", "tok", &fakeSessions{}, state, nil)

	err := a.Run(context.Background(), testOp())
	require.NoError(t, err)

	muts := state.all()
	require.Len(t, muts, 4)
	assert.Equal(t, conversation.OpAppendThinking, muts[0].Op)
	assert.Equal(t, "checking the logs", muts[0].Step.Text)
	assert.Equal(t, conversation.OpAppendToolCall, muts[1].Op)
	assert.Equal(t, "search_kb", muts[1].Tool.Name)
	assert.Equal(t, conversation.OpReplaceText, muts[2].Op)
	assert.Equal(t, "Here is the diagnosis.", muts[2].Text)
	assert.Equal(t, conversation.OpComplete, muts[3].Op)

	// The transport registry is released on settlement
	assert.False(t, a.Active("conv-1"))
}

func TestAdapter_Run_SendsQueryEnvelope(t *testing.T) {
	conn := newFakeConn(finalFrame)
	dialer := &fakeDialer{conn: conn}
	a := NewAdapter(dialer, "wss://backend/run_live", "tok", &fakeSessions{}, newRecordingState(), nil)

	require.NoError(t, a.Run(context.Background(), testOp()))

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.written, 1)
	env, ok := conn.written[0].(queryEnvelope)
	require.True(t, ok)
	assert.Equal(t, "sess-1", env.SessionID)
	assert.Equal(t, "user-1", env.UserID)
	assert.Equal(t, "why did the job fail", env.Message)
}

func TestAdapter_Run_DialTargetAndAuth(t *testing.T) {
	conn := newFakeConn(finalFrame)
	dialer := &fakeDialer{conn: conn}
	a := NewAdapter(dialer, "wss://backend/run_live", "tok-9", &fakeSessions{}, newRecordingState(), nil)

	require.NoError(t, a.Run(context.Background(), testOp()))

	assert.Equal(t, "wss://backend/run_live?session_id=sess-1", dialer.lastURL)
	assert.Equal(t, "Bearer tok-9", dialer.header.Get("Authorization"))
}

func TestAdapter_Run_LazySessionCreation(t *testing.T) {
	conn := newFakeConn(finalFrame)
	dialer := &fakeDialer{conn: conn}
	sessions := &fakeSessions{sessionID: "sess-created"}
	state := newRecordingState()
	a := NewAdapter(dialer, "wss://backend/run_live", "", sessions, state, nil)

	op := testOp()
	op.SessionID = ""
	require.NoError(t, a.Run(context.Background(), op))

	assert.Equal(t, 1, sessions.calls)
	assert.Equal(t, "user-1", sessions.lastUser)
	assert.Equal(t, "sess-created", state.session("conv-1"))
	assert.Contains(t, dialer.lastURL, "session_id=sess-created")
}

func TestAdapter_Run_ExistingSessionSkipsCreation(t *testing.T) {
	conn := newFakeConn(finalFrame)
	sessions := &fakeSessions{sessionID: "unused"}
	a := NewAdapter(&fakeDialer{conn: conn}, "wss://backend/run_live", "", sessions, newRecordingState(), nil)

	require.NoError(t, a.Run(context.Background(), testOp()))
	assert.Zero(t, sessions.calls)
}

func TestAdapter_Run_SessionCreationFailure(t *testing.T) {
	sessions := &fakeSessions{err: errors.New("backend down")}
	dialer := &fakeDialer{}
	state := newRecordingState()
	a := NewAdapter(dialer, "wss://backend/run_live", "", sessions, state, nil)

	op := testOp()
	op.SessionID = ""
	err := a.Run(context.Background(), op)
	require.Error(t, err)

	assert.Zero(t, dialer.calls)
	muts := state.all()
	require.Len(t, muts, 1)
	assert.Equal(t, conversation.OpFail, muts[0].Op)
}

func TestAdapter_Run_DialFailure(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("connection refused")}
	state := newRecordingState()
	a := NewAdapter(dialer, "wss://backend/run_live", "", &fakeSessions{}, state, nil)

	err := a.Run(context.Background(), testOp())
	require.ErrorIs(t, err, ErrTransport)

	muts := state.all()
	require.Len(t, muts, 1)
	assert.Equal(t, conversation.OpFail, muts[0].Op)
	assert.Equal(t, "connection refused", muts[0].Reason)
}

func TestAdapter_Run_MalformedFrameSkipped(t *testing.T) {
	conn := newFakeConn(
		[]byte(`not json at all`),
		thinkingFrame,
		finalFrame,
	)
	state := newRecordingState()
	a := NewAdapter(&fakeDialer{conn: conn}, "wss://backend/run_live", "", &fakeSessions{}, state, nil)

	err := a.Run(context.Background(), testOp())
	require.NoError(t, err)

	// The malformed frame contributed nothing; the stream carried on
	muts := state.all()
	require.Len(t, muts, 3)
	assert.Equal(t, conversation.OpAppendThinking, muts[0].Op)
	assert.Equal(t, conversation.OpComplete, muts[2].Op)
}

func TestAdapter_Run_ClosedBeforeCompletion(t *testing.T) {
	conn := newFakeConn(thinkingFrame)
	// Server goes away after one frame without ever sending a terminal one
	go func() {
		time.Sleep(20 * time.Millisecond)
		conn.Close()
	}()
	state := newRecordingState()
	a := NewAdapter(&fakeDialer{conn: conn}, "wss://backend/run_live", "", &fakeSessions{}, state, nil)

	err := a.Run(context.Background(), testOp())
	require.ErrorIs(t, err, ErrTransport)

	muts := state.all()
	require.NotEmpty(t, muts)
	last := muts[len(muts)-1]
	assert.Equal(t, conversation.OpFail, last.Op)
	for _, m := range muts {
		assert.NotEqual(t, conversation.OpComplete, m.Op)
	}
}

func TestAdapter_Run_CancellationSettlesQuietly(t *testing.T) {
	conn := newFakeConn(thinkingFrame) // then block forever
	state := newRecordingState()
	a := NewAdapter(&fakeDialer{conn: conn}, "wss://backend/run_live", "", &fakeSessions{}, state, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx, testOp())
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not settle after cancellation")
	}

	// Cancellation never marks the message errored
	for _, m := range state.all() {
		assert.NotEqual(t, conversation.OpFail, m.Op)
		assert.NotEqual(t, conversation.OpComplete, m.Op)
	}
	assert.False(t, a.Active("conv-1"))
}

func TestAdapter_Run_CancelDuringSessionCreationSettlesQuietly(t *testing.T) {
	state := newRecordingState()
	a := NewAdapter(&fakeDialer{}, "wss://backend/run_live", "", blockingSessions{}, state, nil)

	ctx, cancel := context.WithCancel(context.Background())
	op := testOp()
	op.SessionID = ""
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx, op)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not settle after cancellation")
	}

	// Cancellation mid-bootstrap emits nothing
	assert.Empty(t, state.all())
}

func TestAdapter_Run_CancelDuringDialSettlesQuietly(t *testing.T) {
	state := newRecordingState()
	a := NewAdapter(blockingDialer{}, "wss://backend/run_live", "", &fakeSessions{}, state, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx, testOp())
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not settle after cancellation")
	}

	assert.Empty(t, state.all())
	assert.False(t, a.Active("conv-1"))
}

func TestAdapter_Run_ClearsStreamingFlagOnEveryExit(t *testing.T) {
	t.Run("completion", func(t *testing.T) {
		conn := newFakeConn(finalFrame)
		state := newRecordingState()
		a := NewAdapter(&fakeDialer{conn: conn}, "wss://backend/run_live", "", &fakeSessions{}, state, nil)

		require.NoError(t, a.Run(context.Background(), testOp()))
		assert.Equal(t, []bool{true, false}, state.flags())
	})

	t.Run("cancellation", func(t *testing.T) {
		conn := newFakeConn(thinkingFrame) // then block forever
		store := conversation.NewStore(nil)
		msg := &conversation.Message{
			ConversationID: "conv-1",
			Role:           conversation.RoleAssistant,
			Status:         conversation.StatusPending,
		}
		require.NoError(t, store.AddMessage(msg))

		a := NewAdapter(&fakeDialer{conn: conn}, "wss://backend/run_live", "", &fakeSessions{}, store, nil)

		ctx, cancel := context.WithCancel(context.Background())
		op := testOp()
		op.MessageID = msg.ID
		errCh := make(chan error, 1)
		go func() {
			errCh <- a.Run(ctx, op)
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("run did not settle after cancellation")
		}

		got, ok := store.Message(msg.ID)
		require.True(t, ok)
		assert.False(t, got.IsStreaming)
		assert.NotEqual(t, conversation.StatusError, got.Status)
	})
}

func TestAdapter_Stop_Idempotent(t *testing.T) {
	a := NewAdapter(&fakeDialer{}, "wss://backend/run_live", "", &fakeSessions{}, newRecordingState(), nil)

	// Stopping a conversation with no live transport is a no-op
	a.Stop("conv-unknown")
	a.Stop("conv-unknown")
	assert.False(t, a.Active("conv-unknown"))
}

func TestAdapter_StopDisconnectsLiveTransport(t *testing.T) {
	conn := newFakeConn(thinkingFrame) // blocks after the first frame
	state := newRecordingState()
	a := NewAdapter(&fakeDialer{conn: conn}, "wss://backend/run_live", "", &fakeSessions{}, state, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(context.Background(), testOp())
	}()

	// Wait until the subscription registers
	require.Eventually(t, func() bool {
		return a.Active("conv-1")
	}, time.Second, 5*time.Millisecond)

	a.Stop("conv-1")

	select {
	case err := <-errCh:
		// Disconnecting mid-stream settles the operation as a transport fault
		require.ErrorIs(t, err, ErrTransport)
	case <-time.After(time.Second):
		t.Fatal("run did not settle after stop")
	}
	assert.False(t, a.Active("conv-1"))
}

func TestClosedNormally(t *testing.T) {
	assert.True(t, closedNormally(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.True(t, closedNormally(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.False(t, closedNormally(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}))
	assert.False(t, closedNormally(errors.New("plain error")))
}
