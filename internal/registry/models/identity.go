package models

import (
	"sort"
	"time"

	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// Identity is the aggregate root for one registry record.
//
// Invariants:
//   - Attributes holds at most one value per key (map keyed by AttributeKey)
//   - A merged identity has no attributes and a non-nil MasterID
//   - A deleted identity is retained (soft delete); hard removal happens only
//     through the explicit purge flow
//   - CreatedAt is immutable after construction
type Identity struct {
	ID           id.IdentityID
	CustomerID   id.CustomerID
	ConnectionID id.ConnectionID
	Merged       bool
	Deleted      bool
	MasterID     *id.IdentityID
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Attributes   map[AttributeKey]*AttributeValue
}

// NewIdentity constructs an empty active identity.
func NewIdentity(cuid id.CustomerID, now time.Time) *Identity {
	return &Identity{
		ID:         id.NewIdentityID(),
		CustomerID: cuid,
		CreatedAt:  now,
		UpdatedAt:  now,
		Attributes: make(map[AttributeKey]*AttributeValue),
	}
}

// IsActive reports whether the identity can accept writes.
func (i *Identity) IsActive() bool {
	return !i.Merged && !i.Deleted
}

// Attribute returns the stored value for key, or nil.
func (i *Identity) Attribute(key AttributeKey) *AttributeValue {
	if i.Attributes == nil {
		return nil
	}
	return i.Attributes[key]
}

// SetAttribute stores value under its key, replacing any previous entry.
func (i *Identity) SetAttribute(value *AttributeValue) {
	if i.Attributes == nil {
		i.Attributes = make(map[AttributeKey]*AttributeValue)
	}
	i.Attributes[value.Key] = value
}

// RemoveAttribute drops the entry for key if present.
func (i *Identity) RemoveAttribute(key AttributeKey) {
	delete(i.Attributes, key)
}

// AttributeValues returns the attribute map as plain key→value strings, the
// projection duplicate rules and scoring operate on.
func (i *Identity) AttributeValues() map[AttributeKey]string {
	out := make(map[AttributeKey]string, len(i.Attributes))
	for k, v := range i.Attributes {
		if !v.Blank() {
			out[k] = v.Value
		}
	}
	return out
}

// SortedAttributes returns the attribute values in key order, for
// deterministic rendering.
func (i *Identity) SortedAttributes() []*AttributeValue {
	out := make([]*AttributeValue, 0, len(i.Attributes))
	for _, v := range i.Attributes {
		out = append(out, v)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out
}

// Clone returns a deep copy, attributes included.
func (i *Identity) Clone() *Identity {
	c := *i
	if i.MasterID != nil {
		m := *i.MasterID
		c.MasterID = &m
	}
	c.Attributes = make(map[AttributeKey]*AttributeValue, len(i.Attributes))
	for k, v := range i.Attributes {
		c.Attributes[k] = v.Clone()
	}
	return &c
}

// CanMergeInto checks whether this identity may be consumed by master.
func (i *Identity) CanMergeInto(master *Identity) error {
	if i.ID == master.ID {
		return dErrors.New(dErrors.CodeInvariantViolation, "identity cannot be merged into itself")
	}
	if !i.IsActive() {
		return dErrors.New(dErrors.CodeInvariantViolation, "identity is already merged or deleted")
	}
	if !master.IsActive() {
		return dErrors.New(dErrors.CodeInvariantViolation, "master identity is merged or deleted")
	}
	return nil
}

// ApplyMerge consumes the identity: flags it merged, points it at the master,
// and drops its attributes. Call CanMergeInto first.
func (i *Identity) ApplyMerge(masterID id.IdentityID, now time.Time) {
	i.Merged = true
	i.MasterID = &masterID
	i.Attributes = make(map[AttributeKey]*AttributeValue)
	i.UpdatedAt = now
}

// CanCancelMerge checks that the identity is currently merged into the given
// master. Cancelling against the wrong master is rejected.
func (i *Identity) CanCancelMerge(masterID id.IdentityID) error {
	if !i.Merged || i.MasterID == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "identity is not merged")
	}
	if *i.MasterID != masterID {
		return dErrors.New(dErrors.CodeInvariantViolation, "identity is merged into a different master")
	}
	return nil
}

// ApplyCancelMerge detaches the identity from its master. Attributes removed
// at merge time are not restored.
func (i *Identity) ApplyCancelMerge(now time.Time) {
	i.Merged = false
	i.MasterID = nil
	i.UpdatedAt = now
}

// ApplySoftDelete flags the identity deleted while retaining the record.
func (i *Identity) ApplySoftDelete(now time.Time) {
	i.Deleted = true
	i.UpdatedAt = now
}
