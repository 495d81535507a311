package models

import (
	"time"

	"github.com/google/uuid"

	id "civreg/pkg/domain"
)

// AuthorType distinguishes who performed an action on a suspicion or merge.
type AuthorType string

const (
	AuthorUser   AuthorType = "user"
	AuthorSystem AuthorType = "system"
)

// Author identifies the actor behind a lock, exclusion, or merge.
type Author struct {
	Type AuthorType
	Name string
}

// SuspicionLock is the advisory TTL lock on a suspicion row. It records who
// holds it; mutual exclusion is enforced by the calling layer using this
// state.
type SuspicionLock struct {
	ExpiresAt time.Time
	Author    Author
}

// Expired reports whether the lock's TTL has passed. Readers must treat an
// expired lock as absent even before the sweep removes it.
func (l *SuspicionLock) Expired(now time.Time) bool {
	return l == nil || !now.Before(l.ExpiresAt)
}

// HeldBy reports whether the lock is live and owned by author.
func (l *SuspicionLock) HeldBy(author Author, now time.Time) bool {
	return !l.Expired(now) && l.Author == author
}

// SuspiciousIdentity records the belief that the identity behind CustomerID
// duplicates another. One row per customer id; a later detection under a
// different rule replaces RuleCode rather than adding a row.
type SuspiciousIdentity struct {
	ID         uuid.UUID
	CustomerID id.CustomerID
	RuleCode   string
	CreatedAt  time.Time
	Lock       *SuspicionLock
}

// NewSuspicion builds a fresh unlocked suspicion row.
func NewSuspicion(cuid id.CustomerID, ruleCode string, now time.Time) *SuspiciousIdentity {
	return &SuspiciousIdentity{
		ID:         uuid.New(),
		CustomerID: cuid,
		RuleCode:   ruleCode,
		CreatedAt:  now,
	}
}

// Locked reports whether a live lock is held at now.
func (s *SuspiciousIdentity) Locked(now time.Time) bool {
	return s != nil && !s.Lock.Expired(now)
}
