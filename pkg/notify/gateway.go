// Package notify delivers reminder notifications through the push gateway
// and applies the retry, backoff and disable policy to each subscription.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"
)

const (
	DefaultGatewayTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

var (
	// ErrUnavailable wraps transport failures: the gateway was never reached
	// or the call timed out.
	ErrUnavailable = errors.New("push gateway unavailable")
	// ErrGatewayStatus is returned by Response.Err for non-2xx answers.
	ErrGatewayStatus = errors.New("push gateway returned non-2xx status")
)

// Notification is the gateway request body.
type Notification struct {
	ID        string   `json:"notificationId"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	TargetURL string   `json:"targetUrl"`
	Tokens    []string `json:"tokens"`
}

// Response is a decoded gateway answer. The token lists are read from
// "result", "data.result" or the top level, in that order.
type Response struct {
	StatusCode  int
	Successful  []string
	Invalid     []string
	RateLimited []string
	// Raw is the response body as JSON. Bodies that are not JSON are wrapped
	// as {"raw": "<text>"}; an empty body is null.
	Raw json.RawMessage
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns ErrGatewayStatus for non-2xx answers.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrGatewayStatus, r.StatusCode)
}

// Gateway sends one notification to a subscriber's endpoint.
type Gateway interface {
	Send(ctx context.Context, url string, n Notification) (*Response, error)
}

// HTTPGateway posts notifications as JSON.
type HTTPGateway struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPGateway creates a gateway client. Every Send is bounded by timeout.
func NewHTTPGateway(client *http.Client, timeout time.Duration) *HTTPGateway {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	return &HTTPGateway{client: client, timeout: timeout}
}

// Send posts n to url. A non-2xx status is not an error here: the caller
// decides what it means, and the body is still decoded.
func (g *HTTPGateway) Send(ctx context.Context, url string, n Notification) (*Response, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	return DecodeResponse(resp.StatusCode, body), nil
}

// DecodeResponse parses a gateway body. Unknown shapes yield empty token
// lists.
func DecodeResponse(status int, body []byte) *Response {
	r := &Response{StatusCode: status}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		r.Raw = json.RawMessage("null")
		return r
	}
	if !json.Valid(body) {
		wrapped, _ := json.Marshal(map[string]string{"raw": string(body)})
		r.Raw = wrapped
		return r
	}
	r.Raw = json.RawMessage(body)

	result := pickResult(body)
	if result == nil {
		return r
	}
	r.Successful = tokenList(result, "successfulTokens")
	r.Invalid = tokenList(result, "invalidTokens")
	r.RateLimited = tokenList(result, "rateLimitedTokens")
	if r.RateLimited == nil {
		r.RateLimited = tokenList(result, "rateLimited")
	}
	return r
}

func pickResult(body []byte) map[string]json.RawMessage {
	top := asObject(body)
	if top == nil {
		return nil
	}
	if res := asObject(top["result"]); res != nil {
		return res
	}
	if data := asObject(top["data"]); data != nil {
		if res := asObject(data["result"]); res != nil {
			return res
		}
	}
	return top
}

func asObject(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func tokenList(obj map[string]json.RawMessage, field string) []string {
	raw, ok := obj[field]
	if !ok {
		return nil
	}
	var tokens []string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil
	}
	return tokens
}

// Outcome is the classified result of one delivery attempt.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeError       Outcome = "error"
)

// Classify maps a gateway answer to an outcome for token. A transport
// error, a non-2xx status, or a 2xx body that lists token nowhere is an
// error.
func Classify(resp *Response, err error, token string) Outcome {
	switch {
	case err != nil, resp == nil, !resp.OK():
		return OutcomeError
	case slices.Contains(resp.Successful, token):
		return OutcomeSent
	case slices.Contains(resp.Invalid, token):
		return OutcomeInvalid
	case slices.Contains(resp.RateLimited, token):
		return OutcomeRateLimited
	default:
		return OutcomeError
	}
}
