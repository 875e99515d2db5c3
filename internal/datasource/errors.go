package datasource

import (
	"fmt"

	"github.com/terrylica/kline-fcp/internal/stageerr"
)

// ErrorKind mirrors the abstract stage error taxonomy, mapped to the
// public surface so callers never depend on internal/stageerr directly.
type ErrorKind string

const (
	ErrorUserInput           ErrorKind = "UserInput"
	ErrorTransient           ErrorKind = "Transient"
	ErrorRateLimited         ErrorKind = "RateLimited"
	ErrorPermanentForSegment ErrorKind = "PermanentForSegment"
	ErrorIntegrity           ErrorKind = "Integrity"
	ErrorSchemaViolation     ErrorKind = "SchemaViolation"
	ErrorCancelled           ErrorKind = "Cancelled"
)

// Error is the discriminated error type returned by Manager.GetData,
// following the teacher's ProviderError{Code,Message} shape extended with
// a machine-readable details map per spec.md §6's "exit-code / error
// surface" note.
type Error struct {
	Kind    ErrorKind
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("datasource: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("datasource: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, details map[string]any, cause error) *Error {
	return &Error{Kind: kind, Details: details, Cause: cause}
}

// fromStageErr maps the internal stage taxonomy to the public ErrorKind.
func fromStageErr(err error) *Error {
	se, ok := err.(*stageerr.Error)
	if !ok {
		return newError(ErrorTransient, nil, err)
	}
	kind := map[stageerr.Kind]ErrorKind{
		stageerr.KindUserInput:           ErrorUserInput,
		stageerr.KindTransient:           ErrorTransient,
		stageerr.KindRateLimited:         ErrorRateLimited,
		stageerr.KindPermanentForSegment: ErrorPermanentForSegment,
		stageerr.KindIntegrity:           ErrorIntegrity,
		stageerr.KindSchemaViolation:     ErrorSchemaViolation,
		stageerr.KindCancelled:           ErrorCancelled,
	}[se.Kind]
	details := map[string]any{"message": se.Message}
	if se.RetryAfter > 0 {
		details["retry_after_seconds"] = se.RetryAfter.Seconds()
	}
	return newError(kind, details, se.Cause)
}
