package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bookstore/services/archive/internal/apperr"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// envelope wraps read responses in a named key
type envelope map[string]any

var kindStatus = map[apperr.Kind]int{
	apperr.NotFound:               http.StatusNotFound,
	apperr.DuplicateConflict:      http.StatusConflict,
	apperr.InUseConflict:          http.StatusConflict,
	apperr.ValidationFailure:      http.StatusUnprocessableEntity,
	apperr.TransientStoreFailure:  http.StatusServiceUnavailable,
	apperr.ConcurrencyConflict:    http.StatusConflict,
	apperr.InvalidStateTransition: http.StatusConflict,
}

// statusFor maps an error kind to its HTTP status
func statusFor(err error) int {
	if status, ok := kindStatus[apperr.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	js, err := json.Marshal(data)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(js, '\n'))
}

// fail writes err as a failed Result. Errors that are not *apperr.Error are
// logged here and rendered without their cause.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		err = apperr.Internal(a.log, err, "The request could not be completed.",
			zap.String("path", r.URL.Path))
	}
	writeJSON(w, statusFor(err), apperr.Failed(err))
}

// endSpan records err on span before ending it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// readJSON decodes one JSON object from the body into dst. Unknown fields
// and trailing data are rejected.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var typeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			return invalidBody(fmt.Sprintf("badly-formed JSON at character %d", syntaxError.Offset))
		case errors.Is(err, io.ErrUnexpectedEOF):
			return invalidBody("badly-formed JSON")
		case errors.As(err, &typeError):
			if typeError.Field != "" {
				return apperr.Invalid(map[string]string{typeError.Field: "has the wrong type"})
			}
			return invalidBody(fmt.Sprintf("incorrect JSON type at character %d", typeError.Offset))
		case errors.Is(err, io.EOF):
			return invalidBody("must not be empty")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return invalidBody("unknown field " + strings.TrimPrefix(err.Error(), "json: unknown field "))
		case errors.As(err, &maxBytesError):
			return invalidBody(fmt.Sprintf("must not be larger than %d bytes", maxBytesError.Limit))
		default:
			return invalidBody("could not be decoded")
		}
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalidBody("must contain a single JSON value")
	}
	return nil
}

func invalidBody(message string) error {
	return apperr.Invalid(map[string]string{"body": message})
}

// readIDParam reads a positive integer URL parameter
func readIDParam(r *http.Request, name string) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id < 1 {
		return 0, apperr.Invalid(map[string]string{name: "must be a positive integer"})
	}
	return id, nil
}
