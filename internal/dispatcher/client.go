package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/pkg/logger"
	"github.com/advaic/reply-gateway/pkg/prom"
	"github.com/valyala/fasthttp"
)

// Outcome is the dispatcher's verdict on a send request.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeAlreadySent Outcome = "already_sent"
	OutcomeLocked      Outcome = "locked_or_in_progress"
)

var ErrCircuitOpen = errors.New("dispatcher temporarily unavailable")

// DispatchError is a failed send: transport error, non-2xx answer or an
// explicit error payload. The message was not delivered.
type DispatchError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch failed: %v", e.Err)
	}
	return fmt.Sprintf("dispatch failed with status %d: %s", e.StatusCode, e.Message)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

type SendRequest struct {
	ID          string            `json:"id"`
	LeadID      string            `json:"lead_id"`
	ThreadID    *string           `json:"gmail_thread_id"`
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text"`
	Attachments model.Attachments `json:"attachments"`
}

type sendResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
	// CircuitThreshold consecutive failures stop calls for CircuitTimeout.
	CircuitThreshold int
	CircuitTimeout   time.Duration
	MaxConns         int
}

type Client struct {
	config      Config
	http        *fasthttp.Client
	stats       *Stats
	circuitOpen atomic.Int64
}

func NewClient(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("dispatcher url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.CircuitThreshold <= 0 {
		config.CircuitThreshold = 5
	}
	if config.CircuitTimeout <= 0 {
		config.CircuitTimeout = 30 * time.Second
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 64
	}

	c := &Client{
		config: config,
		http: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
		stats: newStats(),
	}

	logger.Info("dispatcher client initialized", "url", config.URL, "timeout", config.Timeout)
	return c, nil
}

// Send posts one message to the dispatcher. It never retries: a retry after
// an ambiguous failure could deliver the mail twice.
func (c *Client) Send(ctx context.Context, req *SendRequest) (Outcome, error) {
	if c.isCircuitOpen() {
		c.stats.recordFailure()
		return "", &DispatchError{Err: ErrCircuitOpen}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	outcome, err := c.do(ctx, body)
	latency := time.Since(start)

	if err != nil {
		prom.ObserveDispatch(latency.Seconds(), "error")
		c.stats.recordFailure()
		c.checkCircuit()
		logger.Warn("dispatch failed", "message_id", req.ID, "error", err, "latency_ms", latency.Milliseconds())
		return "", err
	}

	prom.ObserveDispatch(latency.Seconds(), string(outcome))
	c.stats.record(outcome, latency)
	logger.Info("dispatched", "message_id", req.ID, "outcome", string(outcome), "latency_ms", latency.Milliseconds())
	return outcome, nil
}

func (c *Client) do(ctx context.Context, body []byte) (Outcome, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.config.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Secret)
	}
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return "", &DispatchError{Err: err}
	}

	return parseResponse(resp.StatusCode(), resp.Body())
}

func parseResponse(status int, body []byte) (Outcome, error) {
	var payload sendResponse
	if len(body) > 0 {
		// non-JSON bodies are only used for the error text below
		_ = json.Unmarshal(body, &payload)
	}

	switch Outcome(payload.Status) {
	case OutcomeAlreadySent:
		return OutcomeAlreadySent, nil
	case OutcomeLocked:
		return OutcomeLocked, nil
	}

	if status < 200 || status > 299 {
		msg := payload.Error
		if msg == "" {
			msg = string(body)
		}
		return "", &DispatchError{StatusCode: status, Message: msg}
	}
	if payload.Error != "" {
		return "", &DispatchError{StatusCode: status, Message: payload.Error}
	}
	return OutcomeSent, nil
}

func (c *Client) isCircuitOpen() bool {
	until := c.circuitOpen.Load()
	return until != 0 && time.Now().UnixNano() < until
}

func (c *Client) checkCircuit() {
	fails := c.stats.ConsecutiveFails.Load()
	if fails < int32(c.config.CircuitThreshold) {
		return
	}
	c.circuitOpen.Store(time.Now().Add(c.config.CircuitTimeout).UnixNano())
	logger.Warn("dispatcher circuit opened", "consecutive_fails", fails, "timeout", c.config.CircuitTimeout)
}

func (c *Client) Stats() Snapshot {
	state := "healthy"
	switch {
	case c.isCircuitOpen():
		state = "circuit_open"
	case c.stats.ConsecutiveFails.Load() > 0:
		state = "degraded"
	}
	return c.stats.snapshot(state)
}
