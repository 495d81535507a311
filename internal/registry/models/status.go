package models

// Outcome classifies what arbitration did with one incoming attribute.
type Outcome string

const (
	// OutcomeCreated: no previous value existed, the incoming one was stored.
	OutcomeCreated Outcome = "CREATED"
	// OutcomeUpdated: the incoming value replaced the stored one.
	OutcomeUpdated Outcome = "UPDATED"
	// OutcomeRejected: the stored value was retained unchanged.
	OutcomeRejected Outcome = "REJECTED"
	// OutcomeNoChange: same value at the same level, nothing stored.
	OutcomeNoChange Outcome = "NO_CHANGE"
	// OutcomeExtended: same value at the same level but the incoming
	// certificate lives longer, so only the expiry was refreshed. Kept as its
	// own category for audit.
	OutcomeExtended Outcome = "EXTENDED"
)

// RejectReason names why an attribute write was refused. These are statuses,
// not errors: the surrounding request can still succeed.
type RejectReason string

const (
	ReasonNotCertified       RejectReason = "NOT_CERTIFIED"
	ReasonBlankValue         RejectReason = "BLANK_VALUE"
	ReasonDeletionNotAllowed RejectReason = "DELETION_NOT_ALLOWED"
	ReasonLowerCertification RejectReason = "LOWER_CERTIFICATION"
)

// AttributeStatus is the per-attribute line of the report every mutating
// request returns.
type AttributeStatus struct {
	Key          AttributeKey
	Outcome      Outcome
	Reason       RejectReason
	OldValue     string
	NewValue     string
	OldCertifier string
	NewCertifier string
}

// RequestResult summarizes a whole mutation report.
type RequestResult string

const (
	ResultSuccess RequestResult = "SUCCESS"
	// ResultIncompleteSuccess: the identity write succeeded but at least one
	// attribute was individually rejected.
	ResultIncompleteSuccess RequestResult = "INCOMPLETE_SUCCESS"
)

// Report aggregates attribute statuses for one request.
type Report []AttributeStatus

// Result classifies the report as a whole.
func (r Report) Result() RequestResult {
	for _, s := range r {
		if s.Outcome == OutcomeRejected {
			return ResultIncompleteSuccess
		}
	}
	return ResultSuccess
}

// Changed reports whether any attribute was actually written.
func (r Report) Changed() bool {
	for _, s := range r {
		switch s.Outcome {
		case OutcomeCreated, OutcomeUpdated, OutcomeExtended:
			return true
		}
	}
	return false
}
