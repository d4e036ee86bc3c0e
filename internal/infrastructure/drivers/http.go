package drivers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/feedbridge/backend/internal/domain/channel"
)

// maxResponseSize caps how much of a channel response is read (1MB)
const maxResponseSize = 1 * 1024 * 1024

// newHTTPClient builds the client channel transports share: a connect
// timeout on the dialer plus a total request timeout on the client, so no
// outbound call can block a worker indefinitely.
func newHTTPClient(connectTimeout, requestTimeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// doJSON performs one JSON call and classifies the outcome into the closed
// error kind set: nil on 2xx, *channel.TransientError on network failures,
// 5xx and 429, *channel.ValidationError on any other 4xx. A positive timeout
// bounds the call with the channel's configured per-request deadline.
func doJSON(ctx context.Context, client *http.Client, timeout time.Duration, method, url string, headers map[string]string, body []byte) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("drivers: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		// Timeouts and connection errors are retryable by definition.
		return channel.NewTransientError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	return classifyStatus(resp, respBody, body)
}

func classifyStatus(resp *http.Response, respBody, reqBody []byte) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil

	case code == http.StatusTooManyRequests || code >= 500:
		te := channel.NewTransientError(fmt.Errorf("HTTP %d: %s", code, truncate(respBody, 500)))
		te.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return te

	default:
		// The destination rejected the payload; retrying cannot succeed.
		return &channel.ValidationError{
			StatusCode:  code,
			Message:     truncate(respBody, 2000),
			PayloadDump: reqBody,
		}
	}
}

// parseRetryAfter understands the delay-seconds form of the header
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
