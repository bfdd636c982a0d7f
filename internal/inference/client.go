package inference

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// Default timeouts.
const (
	DefaultBaseURL        = "http://localhost:11434"
	DefaultConnectTimeout = 120 * time.Second
	DefaultIdleTimeout    = 30 * time.Second
	DefaultHealthTimeout  = 3 * time.Second
)

var errEmptyResponse = stderrors.New("backend returned no completed response")

// Config configures a Client.
type Config struct {
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	MaxAttempts    int
	RetryDelays    []time.Duration
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	HealthTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultPolicy.AttemptTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = DefaultPolicy.Delays
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
}

// Client is the retrying inference client.
type Client struct {
	cfg    Config
	base   *url.URL
	api    *api.Client
	http   *http.Client
	policy Policy
	clock  Clock
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithClock replaces the retry sleeper.
func WithClock(clock Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its Timeout should be zero; the
// client bounds every request through contexts.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient returns a Client for the backend at cfg.BaseURL.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.applyDefaults()

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid inference base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid inference base url %q: scheme must be http or https", cfg.BaseURL)
	}

	c := &Client{
		cfg:  cfg,
		base: base,
		http: &http.Client{},
		policy: Policy{
			MaxAttempts:    cfg.MaxAttempts,
			Delays:         cfg.RetryDelays,
			AttemptTimeout: cfg.RequestTimeout,
		},
		clock:  realClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.api = api.NewClient(base, c.http)
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Call performs a non-streaming chat request, retrying every failure on the
// fixed schedule.
func (c *Client) Call(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	chatReq := c.chatRequest(req, false)
	start := time.Now()

	onFailure := func(attempt int, err error) {
		c.logger.Warn("inference attempt failed",
			zap.String("model", chatReq.Model),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.policy.MaxAttempts),
			zap.Error(err))
	}

	res, attempts, err := retry(ctx, c.policy, c.clock, onFailure, func(actx context.Context) (*Result, error) {
		var sb strings.Builder
		out := &Result{}
		done := false
		err := c.api.Chat(actx, chatReq, func(resp api.ChatResponse) error {
			sb.WriteString(resp.Message.Content)
			if resp.Done {
				done = true
				out.TokensUsed = resp.PromptEvalCount + resp.EvalCount
				out.Model = resp.Model
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if !done {
			return nil, errEmptyResponse
		}
		out.Text = sb.String()
		return out, nil
	})

	elapsed := time.Since(start)
	if err != nil {
		CallDuration.WithLabelValues("error").Observe(elapsed.Seconds())
		c.logger.Error("inference call failed",
			zap.String("model", chatReq.Model),
			zap.Int("attempts", attempts),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	CallDuration.WithLabelValues("success").Observe(elapsed.Seconds())
	res.Attempts = attempts
	c.logger.Debug("inference call completed",
		zap.String("model", chatReq.Model),
		zap.Int("attempts", attempts),
		zap.Int("tokens_used", res.TokensUsed),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

// Health probes the backend within HealthTimeout. It never fails; an
// unreachable backend reports false.
func (c *Client) Health(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	if err := c.api.Heartbeat(hctx); err != nil {
		HealthStatus.Set(0)
		c.logger.Debug("inference health probe failed", zap.Error(err))
		return false
	}
	HealthStatus.Set(1)
	return true
}
