// Package notify carries identity-change events out of the registry core.
// Delivery is fire-and-forget: a failed or dropped event never rolls back the
// transaction that produced it.
package notify

import (
	"time"

	id "civreg/pkg/domain"
)

// Kind classifies an identity-change event.
type Kind string

const (
	KindIdentityCreated Kind = "identity_created"
	KindIdentityUpdated Kind = "identity_updated"
	KindIdentityDeleted Kind = "identity_deleted"
	// KindIdentityMerged is emitted for the secondary identity consumed by a
	// merge. MasterCustomerID references the surviving primary.
	KindIdentityMerged Kind = "identity_merged"
	// KindIdentityConsolidated is emitted for the primary identity of a merge.
	// ChildCustomerID references the consumed secondary.
	KindIdentityConsolidated Kind = "identity_consolidated"
	KindIdentityMergeCancel  Kind = "identity_merge_cancelled"
	KindSuspicionRecorded    Kind = "suspicion_recorded"
	KindAttributeChanged     Kind = "attribute_changed"
)

// AttributeChange describes one arbitrated attribute outcome inside an event.
type AttributeChange struct {
	Key          string `json:"key"`
	Outcome      string `json:"outcome"`
	OldValue     string `json:"old_value,omitempty"`
	NewValue     string `json:"new_value,omitempty"`
	OldCertifier string `json:"old_certifier,omitempty"`
	NewCertifier string `json:"new_certifier,omitempty"`
}

// Event is emitted from domain logic on identity and attribute changes. Keep
// it transport-agnostic so sinks can fan out.
type Event struct {
	Kind             Kind              `json:"kind"`
	Timestamp        time.Time         `json:"timestamp"`
	CustomerID       id.CustomerID     `json:"customer_id"`
	MasterCustomerID id.CustomerID     `json:"master_customer_id,omitempty"`
	ChildCustomerID  id.CustomerID     `json:"child_customer_id,omitempty"`
	RuleCode         string            `json:"rule_code,omitempty"`
	AuthorType       string            `json:"author_type,omitempty"`
	AuthorName       string            `json:"author_name,omitempty"`
	Attributes       []AttributeChange `json:"attributes,omitempty"`
}
