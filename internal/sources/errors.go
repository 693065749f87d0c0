package sources

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aura-webinar/livesync/internal/models"
)

// TransientError is a network, timeout or upstream 5xx failure. The next scheduled
// attempt retries it.
type TransientError struct {
	Source models.SourceKind
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient sync failure: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError means the upstream rejected or is missing our credentials.
// It needs an operator, not a retry.
type AuthError struct {
	Source models.SourceKind
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: upstream auth failure: %v", e.Source, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// MalformedRecordError describes one upstream record that could not be normalized.
type MalformedRecordError struct {
	Source     models.SourceKind
	ExternalID string
	Err        error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s: malformed record %q: %v", e.Source, e.ExternalID, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

var errMissingCredential = errors.New("credential not configured")

// IsAuth reports whether err is an upstream auth failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err is a transient sync failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classifyStatus maps an upstream HTTP status to a sync error. 2xx returns nil.
func classifyStatus(source models.SourceKind, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{Source: source, Err: fmt.Errorf("upstream returned %d", code)}
	case code == http.StatusTooManyRequests || code >= 500:
		return &TransientError{Source: source, Err: fmt.Errorf("upstream returned %d", code)}
	}
	return fmt.Errorf("%s: unexpected upstream status %d", source, code)
}
