package domain

// FailureKind classifies why a task or job attempt failed. The kind decides
// the recovery path.
type FailureKind string

// Failure kinds
const (
	// FailureTransient covers timeouts and rate limits; retried with backoff.
	FailureTransient FailureKind = "transient"
	// FailureMalformed is an unparseable model response; regenerated once.
	FailureMalformed FailureKind = "malformed"
	// FailureValidation is a draft rejected by the quality gate; regenerated
	// with the reported issues while attempts remain.
	FailureValidation FailureKind = "validation"
	// FailureDuplicate is a near-duplicate of a stored question; never retried.
	FailureDuplicate FailureKind = "duplicate"
	// FailureFatal is a missing entity or unavailable storage; surfaced at once.
	FailureFatal FailureKind = "fatal"
	// FailureTimeout is a stage that ran past its deadline; handled like
	// a transient failure.
	FailureTimeout FailureKind = "timeout"
	// FailureCancelled marks work stopped by a plan cancellation.
	FailureCancelled FailureKind = "cancelled"
)

// Retryable reports whether another in-process attempt may fix the failure.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTransient, FailureTimeout, FailureMalformed, FailureValidation:
		return true
	}
	return false
}
