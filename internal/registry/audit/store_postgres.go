package audit

import (
	"context"
	"database/sql"

	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/tx"
)

// PostgresStore persists the trail in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE audit_events (
//	    id                 BIGSERIAL PRIMARY KEY,
//	    category           TEXT NOT NULL,
//	    action             TEXT NOT NULL,
//	    occurred_at        TIMESTAMPTZ NOT NULL,
//	    customer_id        TEXT NOT NULL,
//	    master_customer_id TEXT NOT NULL DEFAULT '',
//	    child_customer_id  TEXT NOT NULL DEFAULT '',
//	    rule_code          TEXT NOT NULL DEFAULT '',
//	    author_type        TEXT NOT NULL DEFAULT '',
//	    author_name        TEXT NOT NULL DEFAULT '',
//	    request_id         TEXT NOT NULL DEFAULT ''
//	);
//	CREATE INDEX audit_events_customer_idx ON audit_events (customer_id, occurred_at);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO audit_events (
			category, action, occurred_at, customer_id, master_customer_id,
			child_customer_id, rule_code, author_type, author_name, request_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.Runner(ctx, s.db).ExecContext(ctx, query,
		string(event.Category), event.Action, event.Timestamp, string(event.CustomerID),
		string(event.MasterCustomerID), string(event.ChildCustomerID),
		event.RuleCode, event.AuthorType, event.AuthorName, event.RequestID,
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "append audit event")
	}
	return nil
}

func (s *PostgresStore) ListByCustomer(ctx context.Context, cuid id.CustomerID) ([]Event, error) {
	query := `
		SELECT category, action, occurred_at, customer_id, master_customer_id,
		       child_customer_id, rule_code, author_type, author_name, request_id
		FROM audit_events
		WHERE customer_id = $1 OR master_customer_id = $1 OR child_customer_id = $1
		ORDER BY occurred_at, id
	`
	rows, err := tx.Runner(ctx, s.db).QueryContext(ctx, query, string(cuid))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list audit events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var event Event
		var category string
		var customerID, masterID, childID string
		if err := rows.Scan(&category, &event.Action, &event.Timestamp, &customerID,
			&masterID, &childID, &event.RuleCode, &event.AuthorType,
			&event.AuthorName, &event.RequestID); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan audit event")
		}
		event.Category = Category(category)
		event.CustomerID = id.CustomerID(customerID)
		event.MasterCustomerID = id.CustomerID(masterID)
		event.ChildCustomerID = id.CustomerID(childID)
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "iterate audit events")
	}
	return out, nil
}
