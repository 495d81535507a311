package models

import (
	"time"

	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// ServiceContract is the read-only policy input a client brings to a request:
// which attribute keys it must see and the minimum certification level per
// key. Consumed for coverage scoring and write authorization.
type ServiceContract struct {
	Code string
	// Mandatory maps each contractually required key to its minimum level.
	Mandatory map[AttributeKey]int
	// Writable lists the keys this client may assert. Empty means all.
	Writable []AttributeKey
}

// MayWrite reports whether the contract authorizes asserting key.
func (c *ServiceContract) MayWrite(key AttributeKey) bool {
	if c == nil || len(c.Writable) == 0 {
		return true
	}
	for _, k := range c.Writable {
		if k == key {
			return true
		}
	}
	return false
}

// ChangeRequest is one mutating request against an identity: a batch of
// attribute assertions plus the author and client policy behind them.
type ChangeRequest struct {
	CustomerID   id.CustomerID
	ConnectionID id.ConnectionID
	Attributes   []IncomingAttribute
	Author       Author
	Contract     *ServiceContract
	// LastUpdatedAt, when set, is the optimistic concurrency check: the
	// request is rejected if the identity changed since this timestamp.
	LastUpdatedAt *time.Time
}

// Validate checks request shape before any store access.
func (r ChangeRequest) Validate() error {
	if r.CustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "customer id is required")
	}
	if len(r.Attributes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one attribute is required")
	}
	seen := make(map[AttributeKey]struct{}, len(r.Attributes))
	for _, attr := range r.Attributes {
		if attr.Key == "" {
			return dErrors.New(dErrors.CodeValidation, "attribute key is required")
		}
		if attr.Certifier == "" {
			return dErrors.Newf(dErrors.CodeValidation, "attribute %q carries no certifier", attr.Key)
		}
		if _, dup := seen[attr.Key]; dup {
			return dErrors.Newf(dErrors.CodeValidation, "attribute %q appears twice in one request", attr.Key)
		}
		seen[attr.Key] = struct{}{}
	}
	return nil
}

// Authorize checks the client contract against every asserted key.
func (r ChangeRequest) Authorize() error {
	for _, attr := range r.Attributes {
		if !r.Contract.MayWrite(attr.Key) {
			return dErrors.Newf(dErrors.CodeUnauthorized, "contract does not permit writing %q", attr.Key)
		}
	}
	return nil
}

// MutationResult is what every identity mutation returns: the resolved
// identity plus the per-attribute report.
type MutationResult struct {
	Identity *Identity
	Report   Report
}

// Candidate is one ranked hit from the search collaborator.
type Candidate struct {
	CustomerID id.CustomerID
	Score      float64
}
