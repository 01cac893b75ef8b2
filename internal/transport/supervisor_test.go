package transport

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/apperr"
	"ragchat/internal/config"
)

// fakeSession is a minimal mcpSession double: CallTool fails with a
// connection-closed error for its first failUntil invocations, then
// succeeds.
type fakeSession struct {
	failUntil int
	calls     int
	closed    bool
}

func (f *fakeSession) CallTool(ctx context.Context, params *mcppkg.CallToolParams) (*mcppkg.CallToolResult, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return nil, errors.New("use of closed network connection")
	}
	return &mcppkg.CallToolResult{Content: []mcppkg.Content{&mcppkg.TextContent{Text: "ok"}}}, nil
}

func (f *fakeSession) Tools(ctx context.Context, params *mcppkg.ListToolsParams) iter.Seq2[*mcppkg.Tool, error] {
	return func(yield func(*mcppkg.Tool, error) bool) {}
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func newTestSupervisor() *Supervisor {
	return &Supervisor{
		cfg:                  config.MCPServerConfig{Name: "test"},
		MaxReconnectAttempts: 3,
		CallRetries:          2,
		CallTimeout:          time.Second,
	}
}

// TestSupervisor_ReconnectsOnConnectionClosedThenSucceeds covers spec.md
// §8 scenario 6's happy path: a connection-closed error on the live
// session triggers exactly one reconnect, and the retried call against
// the freshly dialed session succeeds.
func TestSupervisor_ReconnectsOnConnectionClosedThenSucceeds(t *testing.T) {
	sup := newTestSupervisor()
	sup.state = stateConnected
	sup.session = &fakeSession{failUntil: 1}

	dialCount := 0
	var redialed *fakeSession
	sup.dial = func(ctx context.Context) (mcpSession, error) {
		dialCount++
		redialed = &fakeSession{}
		return redialed, nil
	}

	res, err := sup.Call(context.Background(), "echo", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 1, dialCount, "expected exactly one reconnect dial")
	assert.Equal(t, 1, redialed.calls, "the retried call should land on the new session")
}

// TestSupervisor_ReconnectCapExceededReturnsTransportError covers
// scenario 6's unhappy path: once reconnectAttempts has already reached
// MaxReconnectAttempts, a connection-closed error fails the call outright
// instead of looping forever.
func TestSupervisor_ReconnectCapExceededReturnsTransportError(t *testing.T) {
	sup := newTestSupervisor()
	sup.state = stateConnected
	sup.session = &fakeSession{failUntil: 1000}
	sup.MaxReconnectAttempts = 1
	sup.reconnectAttempts = 1

	dialCount := 0
	sup.dial = func(ctx context.Context) (mcpSession, error) {
		dialCount++
		return &fakeSession{}, nil
	}

	_, err := sup.Call(context.Background(), "echo", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, apperr.Transport, apperr.KindOf(err))
	assert.Equal(t, 0, dialCount, "reconnect should fail the cap check before ever dialing")
}

// TestSupervisor_NonConnectionErrorDoesNotReconnect covers §4.A: ordinary
// tool-level failures must propagate without poisoning the session or
// triggering a reconnect.
func TestSupervisor_NonConnectionErrorDoesNotReconnect(t *testing.T) {
	sup := newTestSupervisor()
	sup.state = stateConnected
	session := &erroringSession{err: errors.New("invalid arguments")}
	sup.session = session

	dialCount := 0
	sup.dial = func(ctx context.Context) (mcpSession, error) {
		dialCount++
		return &fakeSession{}, nil
	}

	_, err := sup.Call(context.Background(), "echo", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, apperr.Transport, apperr.KindOf(err))
	assert.Equal(t, 0, dialCount)
	assert.Equal(t, 1, session.calls, "a non-connection error must not be retried")
}

type erroringSession struct {
	err   error
	calls int
}

func (e *erroringSession) CallTool(ctx context.Context, params *mcppkg.CallToolParams) (*mcppkg.CallToolResult, error) {
	e.calls++
	return nil, e.err
}

func (e *erroringSession) Tools(ctx context.Context, params *mcppkg.ListToolsParams) iter.Seq2[*mcppkg.Tool, error] {
	return func(yield func(*mcppkg.Tool, error) bool) {}
}

func (e *erroringSession) Close() error { return nil }

func TestIsConnectionError(t *testing.T) {
	cases := map[string]bool{
		"use of closed network connection": true,
		"broken pipe":                      true,
		"connection reset by peer":         true,
		"EOF":                              true,
		"closed resource error":            true,
		"invalid arguments":                false,
		"":                                 false,
	}
	for msg, want := range cases {
		var err error
		if msg != "" {
			err = errors.New(msg)
		}
		assert.Equal(t, want, isConnectionError(err), msg)
	}
}
