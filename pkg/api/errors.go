package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnexpectedCondition marks structural faults: a deployment or
// configuration defect rather than a business-data problem. Errors wrapping
// it are never absorbed at step granularity; they abort the run.
var ErrUnexpectedCondition = errors.New("unexpected condition")

// UnexpectedCondition returns an error wrapping ErrUnexpectedCondition.
func UnexpectedCondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnexpectedCondition, fmt.Sprintf(format, args...))
}

// IsFatal reports whether err must abort a run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnexpectedCondition)
}

// ServiceError is returned by clients of external services (partner
// registries, wallets, identity directories).
type ServiceError struct {
	Service    string
	StatusCode int
	Message    string
	// Recoverable flags a fault the service itself reported as transient.
	Recoverable bool
	Cause       error
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Service, msg)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether retrying later may succeed.
func (e *ServiceError) IsTransient() bool {
	if e.Recoverable {
		return true
	}
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ClassifyError turns a failure of an executor's own work into a step
// result.
//
// Transient service faults leave the step TODO with a diagnostic so the
// next poll retries it. Any other error fails the step and schedules the
// retrigger step types. Fatal errors are returned unchanged so they still
// abort the run.
func ClassifyError(err error, retrigger ...StepTypeID) (StepResult, error) {
	if err == nil {
		return StepResult{}, nil
	}
	if IsFatal(err) {
		return StepResult{}, err
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.IsTransient() {
		return Retry(err.Error()), nil
	}

	return Fail(err.Error(), retrigger...), nil
}
