package models

import (
	"strings"
	"time"
)

// AttributeKey names one typed attribute on an identity, e.g. "givenName".
type AttributeKey string

// Well-known pivot attribute keys. The authoritative pivot set comes from the
// attribute catalog; these constants exist so flows and tests name keys
// consistently.
const (
	KeyGivenName        AttributeKey = "givenName"
	KeyFamilyName       AttributeKey = "familyName"
	KeyBirthDate        AttributeKey = "birthDate"
	KeyBirthCountryCode AttributeKey = "birthCountryCode"
	KeyBirthPlaceCode   AttributeKey = "birthPlaceCode"
)

// AttributeValue is one certified attribute owned by exactly one identity.
// It is mutated only through the arbitration engine: a value is either fully
// replaced or left untouched.
type AttributeValue struct {
	Key         AttributeKey
	Value       string
	Certifier   string
	Level       int
	CertifiedAt time.Time
	ExpiresAt   *time.Time
}

// Blank reports whether the stored value is empty after trimming.
func (a *AttributeValue) Blank() bool {
	return a == nil || strings.TrimSpace(a.Value) == ""
}

// Clone returns an independent copy.
func (a *AttributeValue) Clone() *AttributeValue {
	if a == nil {
		return nil
	}
	c := *a
	if a.ExpiresAt != nil {
		exp := *a.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}

// IncomingAttribute is a caller-supplied attribute assertion. The
// certification level is never taken from the caller; the arbitration engine
// resolves it from the certification registry.
type IncomingAttribute struct {
	Key       AttributeKey
	Value     string
	Certifier string
	// ExpiresAt optionally carries the incoming certificate's expiration,
	// used for the longer-lived same-value refresh.
	ExpiresAt *time.Time
}

// Blank reports whether the incoming value is empty, which on an existing
// attribute means a deletion attempt.
func (in IncomingAttribute) Blank() bool {
	return strings.TrimSpace(in.Value) == ""
}
