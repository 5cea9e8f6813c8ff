package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPClient is the part of *http.Client the JSON helpers need.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientFunc adapts a function to HTTPClient.
type ClientFunc func(req *http.Request) (*http.Response, error)

// Do implements HTTPClient.
func (f ClientFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// GetJSON issues a GET and decodes the JSON body into out. Error bodies in
// the WriteJSONError shape are surfaced in the returned *StatusError.
func GetJSON(ctx context.Context, c HTTPClient, url string, out interface{}) error {
	return doJSON(ctx, c, http.MethodGet, url, out)
}

// PostJSON issues a bodyless POST and decodes the JSON response into out,
// which may be nil.
func PostJSON(ctx context.Context, c HTTPClient, url string, out interface{}) error {
	return doJSON(ctx, c, http.MethodPost, url, out)
}

func doJSON(ctx context.Context, c HTTPClient, method, url string, out interface{}) error {
	if c == nil {
		c = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
