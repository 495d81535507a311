package suspect

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/tx"
)

// PostgresStore persists suspicion rows in PostgreSQL. Pure I/O; the rule
// replacement policy lives in the service.
//
// Schema:
//
//	CREATE TABLE suspicious_identities (
//	    id          UUID PRIMARY KEY,
//	    customer_id TEXT NOT NULL UNIQUE,
//	    rule_code   TEXT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, cuid id.CustomerID) (*models.SuspiciousIdentity, error) {
	query := `
		SELECT id, customer_id, rule_code, created_at
		FROM suspicious_identities
		WHERE customer_id = $1
	`
	row, err := scanSuspect(tx.Runner(ctx, s.db).QueryRowContext(ctx, query, string(cuid)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "no suspicion for customer %s", cuid)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get suspicion")
	}
	return row, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, suspect *models.SuspiciousIdentity) error {
	if suspect == nil || suspect.CustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "suspicion row needs a customer id")
	}
	query := `
		INSERT INTO suspicious_identities (id, customer_id, rule_code, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id) DO UPDATE SET
			rule_code = EXCLUDED.rule_code
	`
	_, err := tx.Runner(ctx, s.db).ExecContext(ctx, query,
		suspect.ID, string(suspect.CustomerID), suspect.RuleCode, suspect.CreatedAt)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "upsert suspicion")
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, cuid id.CustomerID) error {
	result, err := tx.Runner(ctx, s.db).ExecContext(ctx,
		`DELETE FROM suspicious_identities WHERE customer_id = $1`, string(cuid))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete suspicion")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete suspicion rows affected")
	}
	if rows == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "no suspicion for customer %s", cuid)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.SuspiciousIdentity, error) {
	query := `
		SELECT id, customer_id, rule_code, created_at
		FROM suspicious_identities
	`
	rows, err := tx.Runner(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list suspicions")
	}
	defer rows.Close()

	var out []*models.SuspiciousIdentity
	for rows.Next() {
		row, err := scanSuspect(rows)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan suspicion")
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "iterate suspicions")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

type suspectRow interface {
	Scan(dest ...any) error
}

func scanSuspect(row suspectRow) (*models.SuspiciousIdentity, error) {
	var record models.SuspiciousIdentity
	var cuid string
	if err := row.Scan(&record.ID, &cuid, &record.RuleCode, &record.CreatedAt); err != nil {
		return nil, err
	}
	record.CustomerID = id.CustomerID(cuid)
	return &record, nil
}
