// Package httpclient sends JSON requests to provider APIs and classifies
// failures for the retry package.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hyperjump/kirinuki/internal/retry"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Service, e.Status, e.Body)
}

// Do sends in as JSON (nil for no body) and decodes the response into out
// (nil to discard it). Client errors other than 408 and 429 are permanent;
// a 429 honours Retry-After.
func Do(ctx context.Context, client *http.Client, service, method, url string, headers map[string]string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return retry.Permanent(fmt.Errorf("%s: marshal request: %w", service, err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%s: create request: %w", service, err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &StatusError{Service: service, Status: resp.StatusCode, Body: string(data)}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return retry.AfterHeader(serr, resp.Header.Get("Retry-After"))
		case resp.StatusCode == http.StatusRequestTimeout:
			return serr
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return retry.Permanent(serr)
		default:
			return serr
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", service, err)
	}
	return nil
}
