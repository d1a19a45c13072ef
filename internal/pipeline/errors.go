package pipeline

import (
	"errors"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/temporal"

	"github.com/sells-group/sightings/internal/narrative"
	"github.com/sells-group/sightings/internal/resilience"
	"github.com/sells-group/sightings/pkg/weather"
)

// Application error types reported by activities. The first three are
// never retried.
const (
	ErrTypeConfig       = "ConfigError"
	ErrTypeDataContract = "DataContractError"
	ErrTypeOrdering     = "OrderingError"
	ErrTypeTransient    = "TransientError"

	// ErrTypeStepFailed is the type of the error a failed run returns. Its
	// cause is the activity error of the step that failed.
	ErrTypeStepFailed = "StepFailed"
)

// ErrOutOfOrder is returned when a step receives a report that lacks a field
// an earlier step should have produced.
var ErrOutOfOrder = eris.New("pipeline: report is missing an earlier field")

var (
	configErrors       = []error{weather.ErrMissingKey, narrative.ErrNotConfigured}
	dataContractErrors = []error{weather.ErrMissingVisibility, narrative.ErrEmptyResponse}
)

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorKind names the taxonomy bucket of err.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrOutOfOrder):
		return ErrTypeOrdering
	case isAny(err, configErrors):
		return ErrTypeConfig
	case isAny(err, dataContractErrors):
		return ErrTypeDataContract
	}

	// An upstream that refused the request outright will refuse it again.
	status := resilience.RejectedStatus(err)
	switch {
	case status == 0:
		return ErrTypeTransient
	case resilience.IsAuthStatus(status):
		return ErrTypeConfig
	default:
		return ErrTypeDataContract
	}
}

// classify converts a dependency error into a Temporal application error so
// the retry policy can tell fatal failures from retryable ones. The original
// error is kept as the cause.
func classify(step string, err error) error {
	if err == nil {
		return nil
	}
	msg := step + ": " + err.Error()
	switch kind := errorKind(err); kind {
	case ErrTypeTransient:
		return temporal.NewApplicationErrorWithCause(msg, kind, err)
	default:
		return temporal.NewNonRetryableApplicationError(msg, kind, err)
	}
}

// ErrorType returns the application error type carried by err, or "" when
// err is not an application error.
func ErrorType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}
