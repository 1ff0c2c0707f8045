package client

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TransportError reports a connection that dropped without a structured
// failure payload. It is terminal for the observer instance that saw it;
// recovery happens through the resume path on the next start, not through
// in-session retries.
type TransportError struct {
	BatchID uuid.UUID
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("connection lost for batch %s", e.BatchID)
	}
	return fmt.Sprintf("connection lost for batch %s: %v", e.BatchID, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// BusinessError is a structured failure payload from the server. It is
// terminal and routes through the same guard as a completion.
type BusinessError struct {
	BatchID uuid.UUID
	Errors  []string
}

func (e *BusinessError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("batch %s failed", e.BatchID)
	}
	return fmt.Sprintf("batch %s failed: %s", e.BatchID, strings.Join(e.Errors, "; "))
}

// PartialFailureWarning reports units dropped while the batch keeps running.
// It is informational; observation continues after delivery.
type PartialFailureWarning struct {
	BatchID uuid.UUID
	Message string
	Failed  int
}

func (e *PartialFailureWarning) Error() string {
	return fmt.Sprintf("batch %s: %s", e.BatchID, e.Message)
}
