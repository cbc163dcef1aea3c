package notifier

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"tunnel/pkg/logger"
)

type capturedRequest struct {
	Method      string
	Path        string
	ContentType string
	Body        []byte
}

type callbackServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
}

func newCallbackServer(t *testing.T, status int) *callbackServer {
	cs := &callbackServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.requests = append(cs.requests, capturedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})
		cs.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *callbackServer) received() []capturedRequest {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]capturedRequest(nil), cs.requests...)
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig(baseURL)
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.WriteTimeout = 500 * time.Millisecond
	cfg.ReadTimeout = 500 * time.Millisecond
	cfg.Workers = 4
	cfg.QueueSize = 64
	return cfg
}

func TestNotifyPostsEnvelope(t *testing.T) {
	srv := newCallbackServer(t, http.StatusOK)
	n := New(logger.NewNop(), testConfig(srv.URL+"/"))
	defer n.Close(context.Background())

	before := time.Now().UnixMilli()
	n.Notify(Notification{Kind: KindGameState, SessionID: "abc", Payload: `{"score":10}`})

	require.Eventually(t, func() bool { return len(srv.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	req := srv.received()[0]

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/tunnel/callback", req.Path)
	assert.Equal(t, "application/json; charset=utf-8", req.ContentType)

	var env Envelope
	require.NoError(t, json.Unmarshal(req.Body, &env))
	assert.Equal(t, KindGameState, env.Type)
	assert.Equal(t, "abc", env.SessionID)
	assert.Equal(t, `{"score":10}`, env.Data)
	assert.GreaterOrEqual(t, env.Timestamp, before)
	assert.LessOrEqual(t, env.Timestamp, time.Now().UnixMilli())

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(req.Body, &raw))
	assert.ElementsMatch(t, []string{"type", "sessionId", "data", "timestamp"}, keys(raw))
}

func TestNotifyNon2xxIsLoggedAndDropped(t *testing.T) {
	srv := newCallbackServer(t, http.StatusServiceUnavailable)
	core, observed := observer.New(zap.WarnLevel)
	n := New(logger.NewWithCore(core), testConfig(srv.URL))

	n.Notify(Notification{Kind: KindGameEvent, SessionID: "s1", Payload: `{}`})
	require.NoError(t, n.Close(context.Background()))

	require.Len(t, srv.received(), 1, "non-2xx responses are not retried")
	entries := observed.FilterMessage("callback rejected").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, http.StatusServiceUnavailable, entries[0].ContextMap()["status"])
	assert.Equal(t, "s1", entries[0].ContextMap()["session_id"])
}

func TestNotifyUnreachableEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	core, observed := observer.New(zap.ErrorLevel)
	n := New(logger.NewWithCore(core), testConfig("http://"+addr))

	start := time.Now()
	assert.NotPanics(t, func() {
		n.Notify(Notification{Kind: KindGameState, SessionID: "lost", Payload: `{}`})
	})
	assert.Less(t, time.Since(start), 50*time.Millisecond, "Notify must not wait for the network")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, n.Close(ctx))

	entries := observed.FilterMessage("failed to send callback").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "lost", entries[0].ContextMap()["session_id"])
}

type stubClient struct {
	calls atomic.Int32
	do    func(call int32, req *http.Request) (*http.Response, error)
}

func (s *stubClient) Do(req *http.Request) (*http.Response, error) {
	return s.do(s.calls.Add(1), req)
}

func okResponse() *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}
}

func dialError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func TestRetryOnceOnConnectionFailure(t *testing.T) {
	client := &stubClient{do: func(call int32, req *http.Request) (*http.Response, error) {
		if call == 1 {
			return nil, dialError()
		}
		body, _ := io.ReadAll(req.Body)
		if !strings.Contains(string(body), `"sessionId":"r1"`) {
			return nil, errors.New("retried request lost its body")
		}
		return okResponse(), nil
	}}

	n := NewWithClient(logger.NewNop(), testConfig("http://callback"), client)
	n.Notify(Notification{Kind: KindGameState, SessionID: "r1", Payload: `{}`})
	require.NoError(t, n.Close(context.Background()))

	assert.EqualValues(t, 2, client.calls.Load())
}

func TestNoRetryWhenDisabledOrNotConnectFailure(t *testing.T) {
	client := &stubClient{do: func(call int32, req *http.Request) (*http.Response, error) {
		return nil, dialError()
	}}
	cfg := testConfig("http://callback")
	cfg.RetryOnConnectionFailure = false
	n := NewWithClient(logger.NewNop(), cfg, client)
	n.Notify(Notification{Kind: KindGameState, SessionID: "x", Payload: `{}`})
	require.NoError(t, n.Close(context.Background()))
	assert.EqualValues(t, 1, client.calls.Load())

	client = &stubClient{do: func(call int32, req *http.Request) (*http.Response, error) {
		return nil, errors.New("read: connection reset by peer")
	}}
	n = NewWithClient(logger.NewNop(), testConfig("http://callback"), client)
	n.Notify(Notification{Kind: KindGameState, SessionID: "x", Payload: `{}`})
	require.NoError(t, n.Close(context.Background()))
	assert.EqualValues(t, 1, client.calls.Load())
}

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	client := &stubClient{do: func(call int32, req *http.Request) (*http.Response, error) {
		started <- struct{}{}
		<-release
		return okResponse(), nil
	}}

	cfg := testConfig("http://callback")
	cfg.Workers = 1
	cfg.QueueSize = 1
	core, observed := observer.New(zap.WarnLevel)
	n := NewWithClient(logger.NewWithCore(core), cfg, client)

	n.Notify(Notification{Kind: KindGameEvent, SessionID: "first", Payload: `{}`})
	<-started
	n.Notify(Notification{Kind: KindGameEvent, SessionID: "second", Payload: `{}`})
	n.Notify(Notification{Kind: KindGameEvent, SessionID: "third", Payload: `{}`})

	close(release)
	require.NoError(t, n.Close(context.Background()))

	assert.EqualValues(t, 2, client.calls.Load())
	entries := observed.FilterMessage("callback queue full, dropping notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "third", entries[0].ContextMap()["session_id"])
}

func TestNotifyIsNonBlockingProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	block := make(chan struct{})
	defer close(block)
	client := &stubClient{do: func(call int32, req *http.Request) (*http.Response, error) {
		<-block
		return okResponse(), nil
	}}
	cfg := testConfig("http://callback")
	cfg.Workers = 2
	cfg.QueueSize = 4
	n := NewWithClient(logger.NewNop(), cfg, client)

	// Property: Notify returns promptly even when every worker is stuck
	properties.Property("Notify returns without waiting for delivery", prop.ForAll(
		func(sessionID, payload string) bool {
			start := time.Now()
			n.Notify(Notification{Kind: KindGameState, SessionID: sessionID, Payload: payload})
			return time.Since(start) < 10*time.Millisecond
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestIsConnectFailure(t *testing.T) {
	assert.True(t, IsConnectFailure(dialError()))
	assert.True(t, IsConnectFailure(&wrapped{dialError()}))
	assert.False(t, IsConnectFailure(&net.OpError{Op: "read", Err: errors.New("reset")}))
	assert.False(t, IsConnectFailure(errors.New("plain")))
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "Post: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func TestNewEnvelope(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	env := NewEnvelope(Notification{Kind: KindGameEvent, SessionID: "s", Payload: "p"}, at)
	assert.Equal(t, Envelope{Type: KindGameEvent, SessionID: "s", Data: "p", Timestamp: 1700000000123}, env)
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
