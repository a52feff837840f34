// Package aigateway is the HTTP client for the external AI service. Every
// call goes through Client.Do, which applies the per-endpoint timeout and
// folds transport, status and decoding failures into a Result.
package aigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2/clientcredentials"
)

const maxResponseBytes = 64 << 20

type Config struct {
	BaseURL string

	// Client-credentials auth towards the AI service; off when TokenURL is empty.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	HTTPClient *http.Client // overrides the above; tests pass httptest clients
	Registerer prometheus.Registerer
}

type Client struct {
	baseURL string
	http    *http.Client
	metrics *metrics
}

func New(cfg Config) *Client {
	h := cfg.HTTPClient
	if h == nil && cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		h = cc.Client(context.Background())
	}
	if h == nil {
		// no client-level Timeout: each call's context carries its budget
		h = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    h,
		metrics: newMetrics(cfg.Registerer),
	}
}

// Result is what Do returns for every call; it never panics and never
// returns a separate error.
type Result struct {
	Success     bool
	Status      int
	Data        json.RawMessage // JSON endpoints
	Body        []byte          // binary endpoints
	ContentType string
	Err         error // always *Error when Success is false
}

type callOpts struct {
	timeout time.Duration
	binary  string
}

type Option func(*callOpts)

// WithTimeout replaces the endpoint's default budget for one call.
func WithTimeout(d time.Duration) Option {
	return func(o *callOpts) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBinary skips JSON decoding and requires the response media type to
// equal contentType.
func WithBinary(contentType string) Option {
	return func(o *callOpts) { o.binary = contentType }
}

// EffectiveTimeout reports the budget Do would use for endpoint with opts.
func EffectiveTimeout(endpoint string, opts ...Option) time.Duration {
	o := callOpts{timeout: TimeoutFor(endpoint)}
	for _, fn := range opts {
		fn(&o)
	}
	return o.timeout
}

// rawBody is a pre-encoded request body, used for multipart uploads.
type rawBody struct {
	contentType string
	data        []byte
}

func (c *Client) Do(ctx context.Context, endpoint, method string, payload any, opts ...Option) Result {
	o := callOpts{timeout: TimeoutFor(endpoint)}
	for _, fn := range opts {
		fn(&o)
	}
	start := time.Now()
	res := c.do(ctx, endpoint, method, payload, o)
	c.metrics.observe(endpoint, res, time.Since(start))
	if !res.Success {
		log.Printf("aigateway: %s %s: %v", method, endpoint, res.Err)
	}
	return res
}

func (c *Client) do(ctx context.Context, endpoint, method string, payload any, o callOpts) Result {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var body io.Reader
	contentType := ""
	switch p := payload.(type) {
	case nil:
	case rawBody:
		body = bytes.NewReader(p.data)
		contentType = p.contentType
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fail(0, &Error{Kind: KindValidation, Message: "invalid request payload", Err: err})
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fail(0, &Error{Kind: KindValidation, Message: "invalid request", Err: err})
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if o.binary != "" {
		req.Header.Set("Accept", o.binary)
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(0, classifyTransport(ctx, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(resp.StatusCode, classifyTransport(ctx, err))
	}
	ct := resp.Header.Get("Content-Type")

	if resp.StatusCode/100 != 2 {
		return fail(resp.StatusCode, upstreamError(resp.StatusCode, data))
	}

	if o.binary != "" {
		mt, _, _ := mime.ParseMediaType(ct)
		if !strings.EqualFold(mt, o.binary) {
			return fail(resp.StatusCode, &Error{
				Kind:    KindInvalidResponse,
				Message: fmt.Sprintf("unexpected content type %q, want %q", ct, o.binary),
				Status:  resp.StatusCode,
			})
		}
		return Result{Success: true, Status: resp.StatusCode, Body: data, ContentType: ct}
	}

	if !json.Valid(data) {
		return fail(resp.StatusCode, &Error{
			Kind:    KindInvalidResponse,
			Message: "AI service returned a non-JSON response",
			Status:  resp.StatusCode,
		})
	}
	return Result{Success: true, Status: resp.StatusCode, Data: data, ContentType: ct}
}

func fail(status int, e *Error) Result {
	if e.Status == 0 {
		e.Status = status
	}
	return Result{Status: status, Err: e}
}

// upstreamError keeps the service's own message when it sent one.
func upstreamError(status int, data []byte) *Error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	msg := ""
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Error != "":
			msg = body.Error
		case body.Message != "":
			msg = body.Message
		case body.Detail != "":
			msg = body.Detail
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = fmt.Sprintf("AI service returned status %d", status)
	}
	return &Error{Kind: KindUpstream, Message: msg, Status: status}
}
