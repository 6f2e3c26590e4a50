package guardpost

import (
	"encoding/json"
	"net/http"
	"time"
)

// Rejection is a fully-formed pipeline refusal. A stage either returns nil
// (pass through) or a Rejection that stops the pipeline; nothing in between.
type Rejection struct {
	Status  int
	Message string
	Details map[string]any

	// Header carries rejection-specific response headers such as
	// Retry-After or WWW-Authenticate, merged over the pipeline headers.
	Header http.Header
}

// Reject builds a Rejection with the given status and client-safe message.
func Reject(status int, message string) *Rejection {
	return &Rejection{Status: status, Message: message}
}

// WithDetails attaches structured detail to the rejection.
func (rej *Rejection) WithDetails(details map[string]any) *Rejection {
	rej.Details = details
	return rej
}

// WithHeader attaches a response header to the rejection.
func (rej *Rejection) WithHeader(key, value string) *Rejection {
	if rej.Header == nil {
		rej.Header = http.Header{}
	}
	rej.Header.Set(key, value)
	return rej
}

// errorEnvelope is the uniform error body for every pipeline-rejected
// request, so clients need a single parsing path.
type errorEnvelope struct {
	Error     string         `json:"error"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, message string, details map[string]any, now time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error:     message,
		Timestamp: now.UTC().Format(time.RFC3339),
		Details:   details,
	})
}
