// Package validator accumulates field-level validation errors.
package validator

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bookstore/services/archive/internal/apperr"
)

// EmailRX matches a plausible email address
var EmailRX = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// Validator maps field names to the first error recorded for them
type Validator struct {
	Errors map[string]string
}

func New() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// AddError keeps the first message recorded for key
func (v *Validator) AddError(key, message string) {
	if _, exists := v.Errors[key]; !exists {
		v.Errors[key] = message
	}
}

// Check records message for key when ok is false
func (v *Validator) Check(ok bool, key, message string) {
	if !ok {
		v.AddError(key, message)
	}
}

// Err returns a ValidationFailure for the recorded errors, or nil
func (v *Validator) Err() error {
	if v.Valid() {
		return nil
	}
	return apperr.Invalid(v.Errors)
}

// NotBlank reports whether value has non-whitespace content
func NotBlank(value string) bool {
	return strings.TrimSpace(value) != ""
}

// MaxChars reports whether value fits in n characters
func MaxChars(value string, n int) bool {
	return utf8.RuneCountInString(value) <= n
}

// Between reports whether *value is nil or within [lo, hi]
func Between(value *int, lo, hi int) bool {
	return value == nil || (*value >= lo && *value <= hi)
}

// In reports whether value is one of list
func In(value string, list ...string) bool {
	for _, item := range list {
		if value == item {
			return true
		}
	}
	return false
}

func Matches(value string, rx *regexp.Regexp) bool {
	return rx.MatchString(value)
}
