package control

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound covers a missing meeting, a missing or already-departed
// participant, and a waiting-room entry that is not in waiting state.
var ErrNotFound = errors.New("not found")

// Reason code for callers acting on meetings they are not part of.
const ReasonNotParticipant = "not_participant"

// DenialError is an authorization denial with a stable machine-readable
// reason code. It is never retried.
type DenialError struct {
	Reason  string
	Message string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// RateLimitError tells the caller when the window resets.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// ConflictError reports a request that contradicts current state.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}
