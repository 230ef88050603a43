package engine

import (
	"errors"
	"fmt"
)

// FailureReason classifies an operation failure for callers and the API
// layer.
type FailureReason string

const (
	ReasonInsufficientData   FailureReason = "insufficient_data"
	ReasonPersistenceFailure FailureReason = "persistence_failure"
	ReasonUpstreamFailure    FailureReason = "upstream_failure"
	ReasonResourceExhaustion FailureReason = "resource_exhaustion"
)

// OpError carries the failing operation and its classification.
type OpError struct {
	Op     string
	Reason FailureReason
	Err    error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op string, reason FailureReason, err error) *OpError {
	return &OpError{Op: op, Reason: reason, Err: err}
}

// ReasonOf extracts the failure classification, defaulting to upstream
// failure for unclassified errors.
func ReasonOf(err error) FailureReason {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Reason
	}
	return ReasonUpstreamFailure
}
