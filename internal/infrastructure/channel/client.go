package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	"github.com/cassiomorais/channelsync/internal/infrastructure/config"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	maxResponseBytes    = 4 << 20
	correlationIDHeader = "X-Correlation-Id"
)

// Class groups remote failures by how the caller should react to them.
type Class string

const (
	ClassTimeout         Class = "timeout"
	ClassTransport       Class = "transport"
	ClassServer          Class = "http_5xx"
	ClassRateLimited     Class = "rate_limited"
	ClassRejected        Class = "rejected"
	ClassValidation      Class = "validation"
	ClassCircuitOpen     Class = "circuit_open"
	ClassInvalidResponse Class = "invalid_response"
)

// CallError is the structured outcome of a failed remote call.
type CallError struct {
	Class      Class
	Action     channel.Action
	HTTPCode   int
	Code       string
	Message    string
	RetryAfter time.Duration
	Body       string
	Err        error
}

func (e *CallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Action, e.Class)
	if e.HTTPCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.HTTPCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Unauthorized reports whether the remote refused the access token.
func (e *CallError) Unauthorized() bool {
	return e.HTTPCode == http.StatusUnauthorized
}

// Call is one request against a registry endpoint.
type Call struct {
	Endpoint      channel.Endpoint
	Params        map[string]string
	Query         url.Values
	Body          any
	Credential    *channel.Credential
	CorrelationID string
}

// Response is a successful (2xx) remote answer.
type Response struct {
	StatusCode int
	Body       []byte
	Request    string
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r *Response) Decode(action channel.Action, v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &CallError{
			Class:    ClassInvalidResponse,
			Action:   action,
			HTTPCode: r.StatusCode,
			Message:  "response body is not valid JSON",
			Err:      err,
		}
	}
	return nil
}

// Caller performs remote calls. Client is the HTTP implementation.
type Caller interface {
	Do(ctx context.Context, call Call) (*Response, error)
}

type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	breakers   *Breakers
	metrics    *observability.Metrics
	tracer     trace.Tracer
	logger     zerolog.Logger

	rps      rate.Limit
	burst    int
	limiters sync.Map
}

func NewClient(cfg config.ChannelConfig, breakers *Breakers, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breakers: breakers,
		metrics:  metrics,
		tracer:   observability.Tracer("channelsync/channel"),
		logger:   observability.Component(logger, "channel_client"),
		rps:      rate.Limit(cfg.RequestsPerSec),
		burst:    cfg.Burst,
	}
}

// Do sends call and classifies every non-2xx outcome as a *CallError.
// Errors that are not a *CallError are local problems such as an unbound
// path placeholder.
func (c *Client) Do(ctx context.Context, call Call) (*Response, error) {
	action := call.Endpoint.Action
	ctx, span := c.tracer.Start(ctx, "channel "+string(action),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("channel.action", string(action)),
			attribute.String("http.method", call.Endpoint.Method),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.breakers.Execute(action, func() (*Response, error) {
		return c.send(ctx, call)
	})

	class := "ok"
	if err != nil {
		class = "local"
		var ce *CallError
		if errors.As(err, &ce) {
			class = string(ce.Class)
			if ce.HTTPCode != 0 {
				span.SetAttributes(attribute.Int("http.status_code", ce.HTTPCode))
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if c.metrics != nil {
		c.metrics.RemoteCallDuration.WithLabelValues(string(action), class).Observe(time.Since(start).Seconds())
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, call Call) (*Response, error) {
	action := call.Endpoint.Action
	path, err := call.Endpoint.Resolve(call.Params)
	if err != nil {
		return nil, err
	}
	target := c.baseURL + path
	if len(call.Query) > 0 {
		target += "?" + call.Query.Encode()
	}

	var body []byte
	if call.Body != nil {
		body, err = json.Marshal(call.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", action, err)
		}
	}
	exchange := call.Endpoint.Method + " " + path
	if len(body) > 0 {
		exchange += "\n" + string(body)
	}

	if call.Credential != nil {
		if err := c.wait(ctx, call.Credential.ID); err != nil {
			return nil, &CallError{Class: ClassTimeout, Action: action, Message: "rate limiter wait aborted", Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, call.Endpoint.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", action, err)
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if call.Credential != nil && call.Credential.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+call.Credential.AccessToken)
	}
	correlationID := call.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	req.Header.Set(correlationIDHeader, correlationID)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(action, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(action, err)
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return &Response{StatusCode: httpResp.StatusCode, Body: raw, Request: exchange}, nil
	}

	callErr := statusError(action, httpResp, raw)
	c.logger.Debug().
		Str("action", string(action)).
		Str("correlation_id", correlationID).
		Int("status", httpResp.StatusCode).
		Str("class", string(callErr.Class)).
		Msg("remote call failed")
	return nil, callErr
}

func (c *Client) wait(ctx context.Context, credentialID int64) error {
	if c.rps <= 0 {
		return nil
	}
	if v, ok := c.limiters.Load(credentialID); ok {
		return v.(*rate.Limiter).Wait(ctx)
	}
	burst := c.burst
	if burst <= 0 {
		burst = 1
	}
	lim, _ := c.limiters.LoadOrStore(credentialID, rate.NewLimiter(c.rps, burst))
	return lim.(*rate.Limiter).Wait(ctx)
}

func transportError(action channel.Action, err error) *CallError {
	class := ClassTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		class = ClassTimeout
	}
	return &CallError{Class: class, Action: action, Message: err.Error(), Err: err}
}

func statusError(action channel.Action, resp *http.Response, body []byte) *CallError {
	ce := &CallError{Action: action, HTTPCode: resp.StatusCode, Body: truncate(string(body), 2048)}
	ce.Code, ce.Message = parseErrorBody(body)
	if ce.Message == "" {
		ce.Message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		ce.Class = ClassRateLimited
		ce.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	case resp.StatusCode >= 500:
		ce.Class = ClassServer
	case resp.StatusCode == http.StatusUnprocessableEntity:
		ce.Class = ClassValidation
	default:
		ce.Class = ClassRejected
	}
	return ce
}

// parseErrorBody extracts code and message from the usual error envelopes:
// {"code","message"}, {"error":{"code","message"}} and {"error":"..."}.
func parseErrorBody(body []byte) (string, string) {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", strings.TrimSpace(truncate(string(body), 512))
	}
	if nested, ok := envelope["error"].(map[string]any); ok {
		envelope = nested
	}
	code, _ := envelope["code"].(string)
	message, _ := envelope["message"].(string)
	if message == "" {
		message, _ = envelope["error"].(string)
	}
	if message == "" {
		message, _ = envelope["detail"].(string)
	}
	return code, message
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
