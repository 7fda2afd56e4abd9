// Package netx holds small HTTP client helpers for the command-line tools.
package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
)

const maxErrorBody = 4 << 10

// StatusError is a response outside the 2xx range.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "request failed: " + e.Status
	}
	return fmt.Sprintf("request failed: %s; body: %s", e.Status, e.Body)
}

// NewRequest builds a request carrying a bearer token. A non-nil payload is
// sent as JSON.
func NewRequest(ctx context.Context, method, url, token string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(common.AccessTokenHeaderName, "Bearer "+token)
	}
	return req, nil
}

// CheckResponse returns a *StatusError for non-2xx responses, with the start
// of the body attached. The body is left unread on success.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(b)),
	}
}
