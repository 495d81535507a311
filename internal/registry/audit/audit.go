// Package audit keeps the append-only trail of registry actions. Events come
// off the notification stream; the trail classifies them so compliance
// records can outlive operational ones.
package audit

import (
	"context"
	"time"

	id "civreg/pkg/domain"
	"civreg/pkg/platform/notify"
	"civreg/pkg/requestcontext"
)

// Category classifies trail entries by their primary purpose.
type Category string

const (
	// CategoryCompliance covers entries with legal significance: identity
	// lifecycle and merge decisions. These get the long retention.
	CategoryCompliance Category = "compliance"
	// CategoryOperations covers entries kept for visibility and debugging.
	CategoryOperations Category = "operations"
)

// Event is one trail entry.
type Event struct {
	Category         Category
	Action           string
	Timestamp        time.Time
	CustomerID       id.CustomerID
	MasterCustomerID id.CustomerID
	ChildCustomerID  id.CustomerID
	RuleCode         string
	AuthorType       string
	AuthorName       string
	RequestID        string
}

// Store persists trail entries. Append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByCustomer(ctx context.Context, cuid id.CustomerID) ([]Event, error)
}

// Trail records registry events into a store. It plugs into the notification
// publisher as a sink, so every emitted event lands in the trail as well.
type Trail struct {
	store Store
}

// NewTrail builds a trail over the given store.
func NewTrail(store Store) *Trail {
	return &Trail{store: store}
}

// Deliver implements notify.Sink.
func (t *Trail) Deliver(ctx context.Context, event notify.Event) error {
	entry := Event{
		Category:         classify(event.Kind),
		Action:           string(event.Kind),
		Timestamp:        event.Timestamp,
		CustomerID:       event.CustomerID,
		MasterCustomerID: event.MasterCustomerID,
		ChildCustomerID:  event.ChildCustomerID,
		RuleCode:         event.RuleCode,
		AuthorType:       event.AuthorType,
		AuthorName:       event.AuthorName,
		RequestID:        requestcontext.RequestID(ctx),
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return t.store.Append(ctx, entry)
}

// ListByCustomer returns the trail for one identity, oldest first.
func (t *Trail) ListByCustomer(ctx context.Context, cuid id.CustomerID) ([]Event, error) {
	return t.store.ListByCustomer(ctx, cuid)
}

// classify splits lifecycle and merge decisions from routine operational
// noise.
func classify(kind notify.Kind) Category {
	switch kind {
	case notify.KindIdentityCreated,
		notify.KindIdentityDeleted,
		notify.KindIdentityMerged,
		notify.KindIdentityConsolidated,
		notify.KindIdentityMergeCancel:
		return CategoryCompliance
	default:
		return CategoryOperations
	}
}
