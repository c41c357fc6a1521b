// Package respond writes the JSON envelopes shared by every API handler.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

// Message is the generic {"message": ...} body.
type Message struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// Error writes a Message body.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, Message{Message: msg})
}

// ValidationFailed writes a 400 with per-field reasons.
func ValidationFailed(w http.ResponseWriter, fields map[string]string) {
	JSON(w, http.StatusBadRequest, Message{Message: "Validation failed", Errors: fields})
}

// InternalError hides err behind a generic message; callers log it.
func InternalError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, "An error occurred")
}

// Decode reads a JSON body into dst, rejecting unknown fields and trailing data.
func Decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}
