package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrSessionExpired is returned to every request that was waiting on a
	// refresh that failed. The session has been torn down by then.
	ErrSessionExpired = errors.New("session expired")
	ErrNoSession      = errors.New("no active session")
)

// APIError is a non-2xx answer from the auth endpoints.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s: %s", e.Status, e.Code, e.Message)
}

func readAPIError(resp *http.Response) error {
	e := &APIError{Status: resp.StatusCode}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(e)
	return e
}
