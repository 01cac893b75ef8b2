// Package transport implements the persistent stdio/HTTP tool-transport
// layer (§4.A): one Supervisor per tool server, owning a single long-lived
// MCP session with bounded reconnection, timeout-bracketed calls, and
// idempotent shutdown.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"

	"ragchat/internal/apperr"
	"ragchat/internal/config"
	"ragchat/internal/observability"
	"ragchat/internal/version"
)

// mcpSession narrows *mcppkg.ClientSession to the methods Supervisor needs,
// so tests can substitute a fake session without a live subprocess or HTTP
// endpoint behind it.
type mcpSession interface {
	CallTool(ctx context.Context, params *mcppkg.CallToolParams) (*mcppkg.CallToolResult, error)
	Tools(ctx context.Context, params *mcppkg.ListToolsParams) iter.Seq2[*mcppkg.Tool, error]
	Close() error
}

const (
	defaultCallTimeout          = 30 * time.Second
	defaultMaxReconnectAttempts = 3
	defaultCallRetries          = 2
	reconnectDelay              = 500 * time.Millisecond
)

// Tool is the descriptor returned by ListTools, translated from the MCP
// wire shape into the provider-neutral shape the registry/executor use.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CallResult is the outcome of a single tools/call round trip.
type CallResult struct {
	// Text is the tool-call result's text field (§6: "parsed as JSON if
	// possible; otherwise returned as raw string" — callers decide, this
	// field always carries the raw text).
	Text string
	// Structured carries any structured_content the server attached.
	Structured any
	IsError    bool
}

// state is the TransportSession lifecycle (§3): Disconnected -> Connecting
// -> Connected -> (Disconnected on error, with bounded reconnect).
type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
)

// Supervisor owns exactly one subprocess- or HTTP-backed MCP session.
// Concurrency contract (§4.A): all state mutations (connect, reconnect,
// cleanup) are serialized by mu; Call acquires mu only to ensure a
// connection exists, then releases it so concurrent calls to the same
// session may pipeline.
type Supervisor struct {
	cfg config.MCPServerConfig

	mu                   sync.Mutex
	state                state
	session              mcpSession
	toolsCache           []Tool
	reconnectAttempts    int
	MaxReconnectAttempts int
	CallRetries          int
	CallTimeout          time.Duration

	// dial overrides how connectLocked establishes a new session; nil
	// (the default) dispatches on cfg.Command/cfg.URL as usual. Tests set
	// this to substitute a fake session.
	dial func(ctx context.Context) (mcpSession, error)
}

// New constructs a Supervisor for the given server config. It does not
// connect; call Connect (or let the first Call connect lazily).
func New(cfg config.MCPServerConfig) *Supervisor {
	return &Supervisor{
		cfg:                  cfg,
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
		CallRetries:          defaultCallRetries,
		CallTimeout:          defaultCallTimeout,
	}
}

// Connect establishes the session if not already connected. Safe to call
// concurrently; only the first caller pays the connect cost.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx, false)
}

// connectLocked must be called with mu held. refresh=false reuses the
// cached tool list when one already exists (§4.A: "Tools list is
// re-fetched only on first connect; subsequent reconnects reuse cached
// descriptors").
func (s *Supervisor) connectLocked(ctx context.Context, refresh bool) error {
	if s.state == stateConnected && s.session != nil {
		return nil
	}
	s.state = stateConnecting

	var session mcpSession
	var err error
	if s.dial != nil {
		session, err = s.dial(ctx)
	} else {
		client := mcppkg.NewClient(&mcppkg.Implementation{Name: "ragchat", Version: version.Version}, s.clientOptions())
		switch {
		case strings.TrimSpace(s.cfg.Command) != "":
			session, err = s.connectStdio(ctx, client)
		case strings.TrimSpace(s.cfg.URL) != "":
			session, err = s.connectHTTP(ctx, client)
		default:
			err = fmt.Errorf("server %q: neither command nor url configured", s.cfg.Name)
		}
	}
	if err != nil {
		s.state = stateDisconnected
		return apperr.New(apperr.Transport, "transport.Connect", err)
	}

	s.session = session
	s.state = stateConnected

	if refresh || s.toolsCache == nil {
		tools, lerr := s.listToolsLocked(ctx)
		if lerr != nil {
			// Connection itself succeeded; a failed tool listing does not
			// poison the session, it just leaves the cache stale/empty.
			observability.LoggerWithTrace(ctx).Warn().Err(lerr).Str("server", s.cfg.Name).Msg("mcp_list_tools_failed")
		} else {
			s.toolsCache = tools
		}
	}
	return nil
}

func (s *Supervisor) clientOptions() *mcppkg.ClientOptions {
	opts := &mcppkg.ClientOptions{}
	if s.cfg.KeepAliveSeconds > 0 {
		opts.KeepAlive = time.Duration(s.cfg.KeepAliveSeconds) * time.Second
	}
	return opts
}

func (s *Supervisor) connectStdio(ctx context.Context, client *mcppkg.Client) (*mcppkg.ClientSession, error) {
	cleanCmd := filepath.Clean(s.cfg.Command)
	if cleanCmd != s.cfg.Command || filepath.IsAbs(cleanCmd) || strings.Contains(cleanCmd, string(os.PathSeparator)+"..") {
		return nil, fmt.Errorf("invalid command path %q", s.cfg.Command)
	}
	cmd := exec.Command(cleanCmd, s.cfg.Args...)
	if len(s.cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range s.cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return client.Connect(ctx, &mcppkg.CommandTransport{Command: cmd}, nil)
}

func (s *Supervisor) connectHTTP(ctx context.Context, client *mcppkg.Client) (*mcppkg.ClientSession, error) {
	httpClient := buildHTTPClient(s.cfg)
	tr := &mcppkg.StreamableClientTransport{Endpoint: s.cfg.URL, HTTPClient: httpClient}
	return client.Connect(ctx, tr, nil)
}

func (s *Supervisor) listToolsLocked(ctx context.Context) ([]Tool, error) {
	var out []Tool
	for tool, err := range s.session.Tools(ctx, nil) {
		if err != nil {
			return out, err
		}
		out = append(out, Tool{Name: tool.Name, Description: tool.Description, InputSchema: schemaToMap(tool.InputSchema)})
	}
	return out, nil
}

// ListTools returns the cached tool descriptors, connecting first if needed.
func (s *Supervisor) ListTools(ctx context.Context) ([]Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(ctx, false); err != nil {
		return nil, err
	}
	return s.toolsCache, nil
}

// Call invokes a single tool with a 30s wall-clock timeout (§4.A). On a
// classified connection-closed error it marks the session disconnected,
// reconnects and retries, making at most CallRetries attempts in all. Each
// reconnect is a single dial; a failed reconnect ends the call with a
// Transport error and is not retried within the same call. Other errors
// (including timeout) propagate unchanged without poisoning the session.
func (s *Supervisor) Call(ctx context.Context, name string, args any) (CallResult, error) {
	for attempt := 0; attempt < s.CallRetries; attempt++ {
		session, err := s.ensureSession(ctx)
		if err != nil {
			return CallResult{}, err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
		res, callErr := session.CallTool(callCtx, &mcppkg.CallToolParams{Name: name, Arguments: args})
		cancel()

		if callErr == nil {
			return toCallResult(res), nil
		}

		if callCtx.Err() != nil {
			return CallResult{}, apperr.New(apperr.ToolTimeout, "transport.Call", fmt.Errorf("tool %q timed out after %s", name, s.CallTimeout))
		}

		if !isConnectionError(callErr) {
			return CallResult{}, apperr.New(apperr.Transport, "transport.Call", callErr)
		}

		s.mu.Lock()
		s.state = stateDisconnected
		s.mu.Unlock()

		if attempt == s.CallRetries-1 {
			return CallResult{}, apperr.New(apperr.Transport, "transport.Call", fmt.Errorf("tool %q failed: connection closed (%w)", name, callErr))
		}

		if rerr := s.reconnect(ctx); rerr != nil {
			return CallResult{}, apperr.New(apperr.Transport, "transport.Call", fmt.Errorf("reconnect after connection error: %w", rerr))
		}
	}
	return CallResult{}, apperr.New(apperr.Transport, "transport.Call", fmt.Errorf("tool %q failed after %d attempts", name, s.CallRetries))
}

func (s *Supervisor) ensureSession(ctx context.Context) (mcpSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(ctx, false); err != nil {
		return nil, err
	}
	return s.session, nil
}

// reconnect tears down the session and dials once to re-establish it,
// reusing the cached tool list (refresh=false). Failed reconnects are
// counted (a success resets the count); once MaxReconnectAttempts have
// failed in a row it returns an error without dialing.
func (s *Supervisor) reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reconnectAttempts >= s.MaxReconnectAttempts {
		return fmt.Errorf("failed to reconnect after %d attempts", s.MaxReconnectAttempts)
	}
	s.reconnectAttempts++

	s.teardownLocked()
	time.Sleep(reconnectDelay)

	if err := s.connectLocked(ctx, false); err != nil {
		return err
	}
	s.reconnectAttempts = 0
	return nil
}

// teardownLocked closes the current session, suppressing errors: shutdown
// and reconnect must tolerate a session that is already half-closed.
func (s *Supervisor) teardownLocked() {
	if s.session != nil {
		_ = s.session.Close()
	}
	s.session = nil
	s.state = stateDisconnected
}

// HealthCheck performs a lightweight liveness probe (re-listing tools)
// without mutating the cached descriptor list.
func (s *Supervisor) HealthCheck(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateConnected || s.session == nil {
		return false
	}
	for _, err := range s.session.Tools(ctx, nil) {
		if err != nil {
			s.state = stateDisconnected
			return false
		}
		break
	}
	return true
}

// Close shuts down the session, draining streams in the reverse order of
// establishment. Idempotent: calling Close on an already-closed supervisor
// is a no-op.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	return nil
}

func toCallResult(res *mcppkg.CallToolResult) CallResult {
	var texts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcppkg.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return CallResult{
		Text:       strings.Join(texts, "\n"),
		Structured: res.StructuredContent,
		IsError:    res.IsError,
	}
}

// isConnectionError classifies transport errors the way §4.A requires:
// closed-resource, broken-pipe, and stream-closed conditions trigger
// reconnect; everything else (including ordinary tool-level failures)
// propagates unchanged. Grounded on the Python original's classification
// (ClosedResourceError / ConnectionError / BrokenPipeError / OSError, plus
// a message-text fallback for runtimes without typed connection errors).
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "closed") && (strings.Contains(msg, "resource") || strings.Contains(msg, "connection") || strings.Contains(msg, "stream") || strings.Contains(msg, "pipe")) {
		return true
	}
	for _, needle := range []string{"broken pipe", "connection reset", "eof", "use of closed network connection", "connection refused"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func schemaToMap(v any) map[string]any {
	if v == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return m
}

func buildHTTPClient(srv config.MCPServerConfig) *http.Client {
	tr := &http.Transport{}
	if p := strings.TrimSpace(srv.HTTP.ProxyURL); p != "" {
		if u, err := url.Parse(p); err == nil {
			tr.Proxy = http.ProxyURL(u)
		}
	}
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: srv.HTTP.TLS.InsecureSkipVerify} // #nosec G402
	rt := &headerRoundTripper{
		base:     tr,
		headers:  srv.Headers,
		bearer:   strings.TrimSpace(srv.BearerToken),
		origin:   defaultOrigin(srv.Origin),
		protocol: strings.TrimSpace(srv.ProtocolVersion),
	}
	cli := &http.Client{Transport: rt}
	if srv.HTTP.TimeoutSeconds > 0 {
		cli.Timeout = time.Duration(srv.HTTP.TimeoutSeconds) * time.Second
	}
	return cli
}

type headerRoundTripper struct {
	base     http.RoundTripper
	headers  map[string]string
	bearer   string
	origin   string
	protocol string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json, text/event-stream")
	}
	if t.origin != "" && r.Header.Get("Origin") == "" {
		r.Header.Set("Origin", t.origin)
	}
	if t.protocol != "" && r.Header.Get("MCP-Protocol-Version") == "" {
		r.Header.Set("MCP-Protocol-Version", t.protocol)
	}
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	if t.bearer != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+t.bearer)
	}
	return t.base.RoundTrip(r)
}

func defaultOrigin(o string) string {
	o = strings.TrimSpace(o)
	if o != "" {
		return o
	}
	return "https://ragchat.local"
}
