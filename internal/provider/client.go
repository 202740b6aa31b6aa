package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/ucloud-orchestrator/internal/apperrors"
	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/observability"
	"github.com/cuongbtq/ucloud-orchestrator/pkg/circuitbreaker"
	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
)

const maxResponseBytes = 8 << 20

// ClientConfig configures a Client for one provider.
type ClientConfig struct {
	ProviderID string
	BaseURL    string
	Tokens     oauth2.TokenSource
	Timeout    time.Duration
	Breaker    *circuitbreaker.Breaker
	Metrics    *observability.Metrics
	Logger     *slog.Logger
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// Client calls the job endpoints of one provider.
type Client struct {
	id      string
	baseURL *url.URL
	http    *http.Client
	tokens  oauth2.TokenSource
	breaker *circuitbreaker.Breaker
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.ProviderID == "" {
		return nil, fmt.Errorf("provider id is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q for provider %s", cfg.BaseURL, cfg.ProviderID)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.Tokens != nil {
		transport = &oauth2.Transport{Source: cfg.Tokens, Base: transport}
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		id:      cfg.ProviderID,
		baseURL: base,
		http:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		tokens:  cfg.Tokens,
		breaker: cfg.Breaker,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With(slog.String("provider", cfg.ProviderID)),
	}, nil
}

func (c *Client) ID() string { return c.id }

func (c *Client) jobsPath(suffix string) string {
	return c.baseURL.Path + "/ucloud/" + url.PathEscape(c.id) + "/jobs" + suffix
}

// countable decides which failures trip the breaker: only unreachable providers.
func countable(err error) bool {
	return errors.Is(err, apperrors.ErrUnavailable) && !errors.Is(err, context.Canceled)
}

func (c *Client) call(ctx context.Context, op, method, suffix string, in, out interface{}) error {
	start := time.Now()
	err := c.breaker.Do(func() error {
		return c.do(ctx, op, method, suffix, in, out)
	}, countable)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = apperrors.Unavailable("provider "+c.id+" "+op, err)
	}

	c.metrics.RecordProviderCall(ctx, c.id, op, time.Since(start), err)
	if err != nil {
		c.logger.Warn("Provider call failed",
			slog.String("op", op),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)
	}
	return err
}

func (c *Client) do(ctx context.Context, op, method, suffix string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return apperrors.Internal("encode "+op+" request", err)
		}
		body = bytes.NewReader(payload)
	}

	target := *c.baseURL
	target.Path = c.jobsPath(suffix)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return apperrors.Internal("build "+op+" request", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Unavailable("provider "+c.id+" "+op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.Unavailable("provider "+c.id+" "+op, err)
	}

	if resp.StatusCode >= 300 {
		return c.statusError(op, resp.StatusCode, data)
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return apperrors.Internal("decode "+op+" response", err)
		}
	}
	return nil
}

func (c *Client) statusError(op string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var wire struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error != "" {
		msg = wire.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	msg = fmt.Sprintf("provider %s %s: %s", c.id, op, msg)

	switch {
	case status >= 500:
		return apperrors.Unavailable("provider "+c.id+" "+op, fmt.Errorf("status %d: %s", status, msg))
	case status == http.StatusBadRequest:
		return apperrors.Validation("", msg)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(msg)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(msg)
	case status == http.StatusNotFound:
		return &apperrors.Error{Sentinel: apperrors.ErrNotFound, Message: msg, Op: op}
	case status == http.StatusConflict:
		return apperrors.Conflict("job", msg)
	default:
		return apperrors.Internal(op, fmt.Errorf("status %d: %s", status, msg))
	}
}

// Create submits jobs. Providers treat a repeated create of the same job id as a no-op.
func (c *Client) Create(ctx context.Context, jobs []*domain.VerifiedJob) ([]CreatedJob, error) {
	var resp BulkResponse[CreatedJob]
	if err := c.call(ctx, "create", http.MethodPost, "", BulkRequest[*domain.VerifiedJob]{Items: jobs}, &resp); err != nil {
		return nil, err
	}
	return resp.Responses, nil
}

func (c *Client) Cancel(ctx context.Context, jobs []*domain.Job) error {
	return c.call(ctx, "cancel", http.MethodPost, "/cancel", BulkRequest[*domain.Job]{Items: jobs}, nil)
}

func (c *Client) Extend(ctx context.Context, requests []ExtendRequest) error {
	return c.call(ctx, "extend", http.MethodPost, "/extend", BulkRequest[ExtendRequest]{Items: requests}, nil)
}

func (c *Client) Suspend(ctx context.Context, jobs []*domain.Job) error {
	return c.call(ctx, "suspend", http.MethodPost, "/suspend", BulkRequest[*domain.Job]{Items: jobs}, nil)
}

// Verify asks the provider for its view of jobs. Jobs missing from the answer are reported unknown.
func (c *Client) Verify(ctx context.Context, jobs []*domain.Job) ([]JobReport, error) {
	var resp BulkResponse[JobReport]
	if err := c.call(ctx, "verify", http.MethodPost, "/verify", BulkRequest[*domain.Job]{Items: jobs}, &resp); err != nil {
		return nil, err
	}

	byID := make(map[string]JobReport, len(resp.Responses))
	for _, r := range resp.Responses {
		byID[r.JobID] = r
	}
	reports := make([]JobReport, 0, len(jobs))
	for _, job := range jobs {
		r, ok := byID[job.ID]
		if !ok {
			r = JobReport{JobID: job.ID, Known: false}
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func (c *Client) RetrieveProducts(ctx context.Context) ([]domain.ProductSupport, error) {
	var resp BulkResponse[domain.ProductSupport]
	if err := c.call(ctx, "retrieveProducts", http.MethodGet, "/retrieveProducts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Responses, nil
}

func (c *Client) RetrieveUtilization(ctx context.Context) (*Utilization, error) {
	var u Utilization
	if err := c.call(ctx, "retrieveUtilization", http.MethodGet, "/retrieveUtilization", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) OpenInteractiveSession(ctx context.Context, req SessionRequest) (*Session, error) {
	var resp BulkResponse[Session]
	if err := c.call(ctx, "interactiveSession", http.MethodPost, "/interactiveSession", BulkRequest[SessionRequest]{Items: []SessionRequest{req}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Responses) == 0 {
		return nil, apperrors.Unavailable("provider "+c.id+" interactiveSession", errors.New("empty response"))
	}
	return &resp.Responses[0], nil
}

// Follow opens the provider's log stream for one rank of job.
func (c *Client) Follow(ctx context.Context, job *domain.Job, rank int) (*Stream, error) {
	if !c.breaker.Allow() {
		return nil, apperrors.Unavailable("provider "+c.id+" follow", circuitbreaker.ErrOpen)
	}

	target := *c.baseURL
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}
	target.Path = c.jobsPath("/follow")

	header := http.Header{}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, apperrors.Internal("provider token", err)
		}
		tok.SetAuthHeader(&http.Request{Header: header})
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.breaker.RecordFailure()
		return nil, apperrors.Unavailable("provider "+c.id+" follow", err)
	}
	c.breaker.RecordSuccess()

	if err := conn.WriteJSON(followRequest{Type: "start", Job: job, Rank: rank}); err != nil {
		conn.Close()
		return nil, apperrors.Unavailable("provider "+c.id+" follow", err)
	}
	return &Stream{conn: conn}, nil
}

// Stream is an open follow session.
type Stream struct {
	conn *websocket.Conn
}

// Next blocks until the next log message. It returns io.EOF when the provider ends the stream.
func (s *Stream) Next() (LogMessage, error) {
	var msg LogMessage
	if err := s.conn.ReadJSON(&msg); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return LogMessage{}, io.EOF
		}
		return LogMessage{}, err
	}
	return msg, nil
}

func (s *Stream) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
