package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"tunnel/pkg/logger"
	"tunnel/pkg/metrics"
	"tunnel/pkg/retry"
	"tunnel/pkg/worker"

	"go.uber.org/zap"
)

// CallbackPath is appended to the configured base URL
const CallbackPath = "/api/tunnel/callback"

const contentType = "application/json; charset=utf-8"

// maxDrainBytes bounds how much of a response body is read so the connection can be reused
const maxDrainBytes = 64 << 10

// Notifier accepts notifications for delivery. Notify must never block on I/O.
type Notifier interface {
	Notify(n Notification)
}

// HTTPClient is the subset of *http.Client the notifier needs
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the callback endpoint and its delivery policy
type Config struct {
	BaseURL                  string
	ConnectTimeout           time.Duration
	WriteTimeout             time.Duration
	ReadTimeout              time.Duration
	Workers                  int
	QueueSize                int
	RetryOnConnectionFailure bool
}

// DefaultConfig returns 5s phase timeouts and one retry on connection failure
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:                  baseURL,
		ConnectTimeout:           5 * time.Second,
		WriteTimeout:             5 * time.Second,
		ReadTimeout:              5 * time.Second,
		Workers:                  16,
		QueueSize:                1024,
		RetryOnConnectionFailure: true,
	}
}

// NewHTTPClient builds the process-wide client. The dialer enforces the
// connect timeout and ResponseHeaderTimeout the read timeout; the write phase
// is bounded by the per-request deadline set in send.
func NewHTTPClient(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.Workers,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{Transport: transport}
}

// HTTPNotifier posts envelopes to the callback endpoint from a bounded worker pool
type HTTPNotifier struct {
	logger    *logger.Logger
	client    HTTPClient
	url       string
	deadline  time.Duration
	pool      *worker.WorkerPool
	retryOpts retry.RetryOptions
	now       func() time.Time
}

// New creates an HTTPNotifier with its own shared client and starts its workers
func New(l *logger.Logger, cfg Config) *HTTPNotifier {
	return NewWithClient(l, cfg, NewHTTPClient(cfg))
}

// NewWithClient creates an HTTPNotifier around an existing client
func NewWithClient(l *logger.Logger, cfg Config, client HTTPClient) *HTTPNotifier {
	retryOpts := retry.Never()
	if cfg.RetryOnConnectionFailure {
		retryOpts = retry.Once(IsConnectFailure)
	}

	n := &HTTPNotifier{
		logger:    l,
		client:    client,
		url:       strings.TrimRight(cfg.BaseURL, "/") + CallbackPath,
		deadline:  cfg.ConnectTimeout + cfg.WriteTimeout + cfg.ReadTimeout,
		pool:      worker.NewWorkerPool(l, cfg.Workers, cfg.QueueSize),
		retryOpts: retryOpts,
		now:       time.Now,
	}
	n.pool.Start()

	l.Info("notifier initialized", zap.String("callback_url", n.url), zap.Int("workers", cfg.Workers))
	return n
}

// URL returns the full callback URL
func (n *HTTPNotifier) URL() string {
	return n.url
}

// Notify stamps, serializes and enqueues a notification. It returns as soon as
// the request is queued; a full queue drops the notification.
func (n *HTTPNotifier) Notify(note Notification) {
	env := NewEnvelope(note, n.now())

	body, err := json.Marshal(env)
	if err != nil {
		n.logger.Error("failed to serialize callback", err, zap.String("session_id", note.SessionID))
		metrics.NotificationsTotal.WithLabelValues(string(note.Kind), metrics.OutcomeError).Inc()
		return
	}

	accepted := n.pool.TrySubmit(func(ctx context.Context) {
		n.send(ctx, env, body)
	})
	if !accepted {
		n.logger.Warn("callback queue full, dropping notification",
			zap.String("session_id", note.SessionID),
			zap.String("type", string(note.Kind)))
		metrics.NotificationsTotal.WithLabelValues(string(note.Kind), metrics.OutcomeDropped).Inc()
	}
}

func (n *HTTPNotifier) send(ctx context.Context, env Envelope, body []byte) {
	ctx, cancel := context.WithTimeout(ctx, n.deadline)
	defer cancel()

	kind := string(env.Type)
	start := time.Now()

	var resp *http.Response
	err := retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		r, err := n.client.Do(req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, n.retryOpts)
	metrics.NotificationLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		n.logger.Error("failed to send callback", err,
			zap.String("session_id", env.SessionID),
			zap.String("type", kind))
		metrics.NotificationsTotal.WithLabelValues(kind, metrics.OutcomeError).Inc()
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger.Warn("callback rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("session_id", env.SessionID),
			zap.String("type", kind))
		metrics.NotificationsTotal.WithLabelValues(kind, metrics.OutcomeRejected).Inc()
		return
	}

	n.logger.Debug("callback sent", zap.String("session_id", env.SessionID), zap.String("type", kind))
	metrics.NotificationsTotal.WithLabelValues(kind, metrics.OutcomeSent).Inc()
}

// Close stops accepting notifications and waits for in-flight ones until ctx is done
func (n *HTTPNotifier) Close(ctx context.Context) error {
	return n.pool.Shutdown(ctx)
}

// IsConnectFailure reports whether err happened while establishing the connection
func IsConnectFailure(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
