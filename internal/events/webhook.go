package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// WebhookSink POSTs every event as JSON to a fixed URL.
type WebhookSink struct {
	url  string
	http *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type WebhookOption func(*WebhookSink)

func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(w *WebhookSink) { w.defaultTimeout = d }
}

func WithWebhookRetry(max int) WebhookOption {
	return func(w *WebhookSink) { w.retryMax = max }
}

// WithWebhookDial replaces the dialer, e.g. with an in-memory listener in tests.
func WithWebhookDial(dial fasthttp.DialFunc) WebhookOption {
	return func(w *WebhookSink) { w.http.Dial = dial }
}

func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	w := &WebhookSink{
		url:            strings.TrimSpace(url),
		http:           &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 5 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookSink) Emit(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(Event{Topic: topic, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(w.url)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	err = defaultRetryPolicy(w.retryMax).run(ctx, func() (bool, error) {
		if err := w.http.DoDeadline(req, resp, w.deadline(ctx)); err != nil {
			return true, err
		}
		status := resp.StatusCode()
		if status >= 200 && status < 300 {
			return false, nil
		}
		return retryableStatus(status), fmt.Errorf("status %d", status)
	})
	if err != nil {
		return fmt.Errorf("webhook %s: %w", topic, err)
	}
	return nil
}

// deadline bounds one attempt by the sink timeout or ctx, whichever is sooner.
func (w *WebhookSink) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(w.defaultTimeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(dl) {
		return ctxDL
	}
	return dl
}

// retryableStatus covers overload and gateway failures of the receiver.
func retryableStatus(code int) bool {
	switch code {
	case fasthttp.StatusTooManyRequests, fasthttp.StatusInternalServerError,
		fasthttp.StatusBadGateway, fasthttp.StatusServiceUnavailable, fasthttp.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
