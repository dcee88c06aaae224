package gcal

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	ErrAuth      = errors.New("calendar authorization failed")
	ErrNotFound  = errors.New("remote event not found")
	ErrTransient = errors.New("calendar request failed")
)

// Outcome is the result class of a single remote call.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

// APIError is returned by every Client method that fails.
type APIError struct {
	Op     string
	Status int // 0 when the request never got a response
	Err    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is lets callers test for ErrNotFound and ErrTransient with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.notFound()
	case ErrTransient:
		return !e.notFound()
	}
	return false
}

func (e *APIError) notFound() bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusGone
}

// Classify maps an error from the Client onto an Outcome. A 410 Gone is how
// the API reports an event that was already deleted, so it counts as not found.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, ErrNotFound) {
		return OutcomeNotFound
	}
	return OutcomeTransient
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	apiErr := &APIError{Op: op, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		apiErr.Status = gerr.Code
	}
	return apiErr
}
