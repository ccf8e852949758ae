package apperr

import "errors"

// Result is returned by every mutating operation
type Result struct {
	Success       bool              `json:"success"`
	Message       string            `json:"message"`
	AffectedID    *int              `json:"affected_id,omitempty"`
	Kind          string            `json:"kind,omitempty"`
	Errors        map[string]string `json:"errors,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Data          any               `json:"data,omitempty"`
}

// Succeeded builds a successful result. id may be zero when nothing was created.
func Succeeded(message string, id int, data any) Result {
	r := Result{Success: true, Message: message, Data: data}
	if id != 0 {
		r.AffectedID = &id
	}
	return r
}

// Failed converts an error into a failure result without exposing causes
// that are not *Error.
func Failed(err error) Result {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return Result{
			Message: "An unexpected error occurred.",
			Kind:    TransientStoreFailure.String(),
		}
	}
	return Result{
		Message:       appErr.Message,
		Kind:          appErr.Kind.String(),
		Errors:        appErr.Fields,
		CorrelationID: appErr.CorrelationID,
	}
}
