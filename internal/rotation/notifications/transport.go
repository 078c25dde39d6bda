package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// RetryPolicy controls redelivery of a failed POST. The wait doubles after every attempt.
type RetryPolicy struct {
	Attempts int
	Wait     time.Duration
}

// DefaultRetryPolicy is used when a provider is configured without one
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Wait: time.Second}

func (r RetryPolicy) normalized() RetryPolicy {
	if r.Attempts <= 0 {
		r.Attempts = DefaultRetryPolicy.Attempts
	}
	if r.Wait <= 0 {
		r.Wait = DefaultRetryPolicy.Wait
	}
	return r
}

// backoff is the wait before attempt n+1
func (r RetryPolicy) backoff(attempt int) time.Duration {
	return r.Wait << (attempt - 1)
}

// statusError is a non-2xx response
type statusError struct {
	target string
	code   int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.target, e.code)
}

// permanent reports whether resending cannot help
func (e *statusError) permanent() bool {
	return e.code >= 400 && e.code < 500 && e.code != http.StatusTooManyRequests && e.code != http.StatusRequestTimeout
}

// poster delivers JSON bodies over HTTP with retries
type poster struct {
	target string
	client *http.Client
	retry  RetryPolicy
}

func newPoster(target string, timeout time.Duration, retry RetryPolicy) *poster {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &poster{
		target: target,
		client: &http.Client{Timeout: timeout},
		retry:  retry.normalized(),
	}
}

// post sends body to rawURL. Client errors other than 408 and 429 are not retried.
func (p *poster) post(ctx context.Context, rawURL string, body []byte, headers http.Header) error {
	var lastErr error
	for attempt := 1; attempt <= p.retry.Attempts; attempt++ {
		lastErr = p.once(ctx, rawURL, body, headers)
		if lastErr == nil {
			return nil
		}
		var se *statusError
		if errors.As(lastErr, &se) && se.permanent() {
			return lastErr
		}
		if attempt == p.retry.Attempts {
			break
		}
		timer := time.NewTimer(p.retry.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s delivery failed after %d attempts: %w", p.target, p.retry.Attempts, lastErr)
}

func (p *poster) once(ctx context.Context, rawURL string, body []byte, headers http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{target: p.target, code: resp.StatusCode}
	}
	return nil
}

// validateURL requires an absolute http or https URL
func validateURL(raw string) error {
	if raw == "" {
		return errors.New("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid URL: %s", raw)
	}
	return nil
}
