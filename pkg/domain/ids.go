// Package domain holds the typed identifiers shared by every registry
// component. Typed IDs keep internal ids, customer ids, and connection ids
// from being swapped at call sites.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "civreg/pkg/domain-errors"
)

// IdentityID is the immutable internal identifier of an identity record.
type IdentityID uuid.UUID

// CustomerID is the externally visible identifier of an identity. It is the
// key under which suspicions and exclusions are recorded.
type CustomerID string

// ConnectionID links an identity to an external account. Optional, unique
// across identities when set.
type ConnectionID string

const maxCustomerIDLength = 64

// NewIdentityID returns a fresh random identity id.
func NewIdentityID() IdentityID {
	return IdentityID(uuid.New())
}

// ParseIdentityID parses and validates an internal identity id.
// Rejects empty strings, malformed UUIDs, and the nil UUID.
func ParseIdentityID(s string) (IdentityID, error) {
	if s == "" {
		return IdentityID{}, dErrors.New(dErrors.CodeInvalidInput, "identity id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return IdentityID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "identity id is not a valid uuid")
	}
	if u == uuid.Nil {
		return IdentityID{}, dErrors.New(dErrors.CodeInvalidInput, "identity id must not be the nil uuid")
	}
	return IdentityID(u), nil
}

func (id IdentityID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether the id is unset.
func (id IdentityID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// ParseCustomerID validates an external customer id. Customer ids are opaque
// non-empty tokens; surrounding whitespace is rejected rather than trimmed so
// stored keys stay canonical.
func ParseCustomerID(s string) (CustomerID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "customer id is required")
	}
	if strings.TrimSpace(s) != s {
		return "", dErrors.New(dErrors.CodeInvalidInput, "customer id must not carry surrounding whitespace")
	}
	if len(s) > maxCustomerIDLength {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "customer id exceeds %d characters", maxCustomerIDLength)
	}
	return CustomerID(s), nil
}

func (c CustomerID) String() string {
	return string(c)
}
