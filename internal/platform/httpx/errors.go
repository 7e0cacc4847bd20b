// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrBadRequest   = errors.New("bad request")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
)

// Generic messages returned to clients per failure class.
const (
	MessageForbidden    = "You do not have permission to perform this action."
	MessageUnauthorized = "Authentication required."
	MessageNotFound     = "The requested resource was not found."
	MessageBadRequest   = "The request could not be understood."
	MessageValidation   = "The given data was invalid."
	MessageInternal     = "An unexpected error occurred. Please try again later."
)

// Error pairs a failure class with a message that is safe to show to clients.
type Error struct {
	Kind    error
	Message string
}

// NewError builds an Error of the given kind.
func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

// FieldErrors maps request fields to validation messages.
type FieldErrors map[string][]string

// Add appends a message for field.
func (f FieldErrors) Add(field, message string) {
	f[field] = append(f[field], message)
}

func (f FieldErrors) Error() string {
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

func (f FieldErrors) Unwrap() error { return ErrValidation }

// FromValidator converts validator errors into FieldErrors keyed by JSON field name.
func FromValidator(err error) FieldErrors {
	out := FieldErrors{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out.Add("request", MessageValidation)
		return out
	}
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out.Add(field, "The "+field+" field is required.")
		case "max":
			out.Add(field, "The "+field+" may not be greater than "+fe.Param()+".")
		case "min":
			out.Add(field, "The "+field+" must be at least "+fe.Param()+".")
		case "oneof":
			out.Add(field, "The "+field+" must be one of: "+fe.Param()+".")
		default:
			out.Add(field, "The "+field+" is invalid.")
		}
	}
	return out
}

// RespondError maps domain errors to the response envelope.
func RespondError(w http.ResponseWriter, err error) {
	var fields FieldErrors
	if errors.As(err, &fields) {
		Fail(w, http.StatusUnprocessableEntity, MessageValidation, fields)
		return
	}
	status, message := classify(err)
	var public *Error
	if errors.As(err, &public) && public.Message != "" && status != http.StatusInternalServerError {
		message = public.Message
	}
	Fail(w, status, message, nil)
}

// StatusOf returns the HTTP status RespondError would use for err.
func StatusOf(err error) int {
	var fields FieldErrors
	if errors.As(err, &fields) {
		return http.StatusUnprocessableEntity
	}
	status, _ := classify(err)
	return status
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, MessageNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, MessageBadRequest
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity, MessageValidation
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, MessageForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, MessageUnauthorized
	default:
		return http.StatusInternalServerError, MessageInternal
	}
}
