package models

import (
	"time"

	"github.com/google/uuid"

	id "civreg/pkg/domain"
)

// ExcludedPair records that two identities must never again be reported as
// duplicates of each other, until the exclusion is explicitly removed.
// The pair is unordered: Matches answers in either orientation.
type ExcludedPair struct {
	ID               uuid.UUID
	FirstCustomerID  id.CustomerID
	SecondCustomerID id.CustomerID
	ExcludedAt       time.Time
	Author           Author
}

// NewExclusion builds an exclusion row for the pair.
func NewExclusion(a, b id.CustomerID, author Author, now time.Time) *ExcludedPair {
	return &ExcludedPair{
		ID:               uuid.New(),
		FirstCustomerID:  a,
		SecondCustomerID: b,
		ExcludedAt:       now,
		Author:           author,
	}
}

// Matches reports whether the pair covers (a, b) in either order.
func (e *ExcludedPair) Matches(a, b id.CustomerID) bool {
	return (e.FirstCustomerID == a && e.SecondCustomerID == b) ||
		(e.FirstCustomerID == b && e.SecondCustomerID == a)
}

// Mentions reports whether either side of the pair is cuid.
func (e *ExcludedPair) Mentions(cuid id.CustomerID) bool {
	return e.FirstCustomerID == cuid || e.SecondCustomerID == cuid
}
