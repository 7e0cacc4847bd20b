package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Envelope is the uniform JSON response body.
type Envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	Data    any                 `json:"data,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK sends a successful envelope.
func OK(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Fail sends a failed envelope.
func Fail(w http.ResponseWriter, status int, message string, fields FieldErrors) {
	JSON(w, status, Envelope{Success: false, Message: message, Errors: fields})
}

// DecodeJSON decodes JSON request body into the target struct. Unknown
// fields and trailing data are rejected.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return NewError(ErrBadRequest, "Malformed JSON body.")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return NewError(ErrBadRequest, "Malformed JSON body.")
	}
	return nil
}
