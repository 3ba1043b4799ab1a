package helper

import "github.com/google/uuid"

// NewRequestID returns a random v4 UUID used to correlate the log lines
// belonging to one request.
func NewRequestID() string {
	return uuid.NewString()
}
