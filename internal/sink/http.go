package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/gps-tracker/internal/failure"
	"github.com/sweeney/gps-tracker/internal/retry"
	"github.com/sweeney/gps-tracker/internal/telemetry"
)

// Defaults for the HTTP-post sink.
const (
	DefaultHTTPRetry   = 2 * time.Second
	DefaultHTTPTimeout = 10 * time.Second
)

// maxEcho bounds how much of a response body is logged.
const maxEcho = 512

// HTTPPost posts a form-encoded sample to a collector URL. It never asks
// for a restart: exhaustion only skips the sink for the cycle.
type HTTPPost struct {
	url      string
	client   *http.Client
	counter  *failure.Counter
	interval time.Duration
	dog      Kicker
	sleep    retry.Sleeper
}

// NewHTTPPost creates an HTTP-post sink. A nil client gets one with
// DefaultHTTPTimeout.
func NewHTTPPost(url string, client *http.Client, counter *failure.Counter, interval time.Duration, dog Kicker, sleep retry.Sleeper) *HTTPPost {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if interval <= 0 {
		interval = DefaultHTTPRetry
	}
	return &HTTPPost{url: url, client: client, counter: counter, interval: interval, dog: dog, sleep: sleep}
}

// Name returns NameHTTP.
func (h *HTTPPost) Name() string { return NameHTTP }

// Deliver posts the sample, retrying up to the counter's threshold.
func (h *HTTPPost) Deliver(ctx context.Context, s telemetry.Sample) error {
	body := s.FormEncode()

	r := retry.Retrier{Sleep: h.sleep}
	if h.dog != nil {
		r.Kick = h.dog.Kick
	}
	policy := retry.Policy{Interval: h.interval, OnExhausted: retry.ActionSkip}
	return r.Do(ctx, policy, h.counter, func(ctx context.Context) error {
		return h.post(ctx, body)
	})
}

func (h *HTTPPost) post(ctx context.Context, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	echo, _ := io.ReadAll(io.LimitReader(resp.Body, maxEcho))
	_, _ = io.Copy(io.Discard, resp.Body)

	log.WithFields(log.Fields{
		"sink":   NameHTTP,
		"status": resp.StatusCode,
		"length": resp.ContentLength,
	}).Debugf("response: %s", strings.TrimSpace(string(echo)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: status %d", h.url, resp.StatusCode)
	}
	return nil
}
