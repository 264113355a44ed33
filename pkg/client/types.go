package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/loykin/dbguest/internal/lifecycle"
)

// PrepareRequest is the body of POST /prepare.
type PrepareRequest = lifecycle.PrepareRequest

// FilesystemStats is returned by GET /fs.
type FilesystemStats = lifecycle.FilesystemStats

// StopOptions are the query flags of POST /stop.
type StopOptions struct {
	Persist            bool
	DoNotStartOnReboot bool
}

// VolumeRequest is the body of the /volume endpoints.
type VolumeRequest struct {
	Device     string `json:"device"`
	MountPoint string `json:"mount_point,omitempty"`
}

// Status is the reconciled datastore status reported by the agent.
type Status struct {
	Instance            string    `json:"instance,omitempty"`
	Status              string    `json:"status"`
	OperationInProgress bool      `json:"operation_in_progress"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Event is one entry of GET /history.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Instance   string    `json:"instance"`
	Status     string    `json:"status"`
	Operation  string    `json:"operation,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Token is a bearer token issued by POST /login.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginResult is the body of a successful POST /login.
type LoginResult struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles,omitempty"`
	Token   *Token   `json:"token,omitempty"`
}

// ErrorResponse is the error body returned by the API.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsBusy reports whether err means another lifecycle operation is running.
func IsBusy(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsTimeout reports whether err means the datastore did not reach the
// requested status in time.
func IsTimeout(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusGatewayTimeout
}
