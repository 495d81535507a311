package exclusion

import (
	"context"
	"database/sql"
	"sort"

	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/tx"
)

// PostgresStore persists excluded pairs in PostgreSQL. The symmetric match
// is expressed in SQL so callers never have to normalize pair order.
//
// Schema:
//
//	CREATE TABLE excluded_pairs (
//	    id                 UUID PRIMARY KEY,
//	    first_customer_id  TEXT NOT NULL,
//	    second_customer_id TEXT NOT NULL,
//	    excluded_at        TIMESTAMPTZ NOT NULL,
//	    author_type        TEXT NOT NULL,
//	    author_name        TEXT NOT NULL
//	);
//	CREATE INDEX excluded_pairs_first_idx ON excluded_pairs (first_customer_id);
//	CREATE INDEX excluded_pairs_second_idx ON excluded_pairs (second_customer_id);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, pair *models.ExcludedPair) error {
	if pair == nil || pair.FirstCustomerID == "" || pair.SecondCustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "excluded pair needs two customer ids")
	}
	query := `
		INSERT INTO excluded_pairs (id, first_customer_id, second_customer_id, excluded_at, author_type, author_name)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.Runner(ctx, s.db).ExecContext(ctx, query,
		pair.ID, string(pair.FirstCustomerID), string(pair.SecondCustomerID),
		pair.ExcludedAt, string(pair.Author.Type), pair.Author.Name)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "insert exclusion")
	}
	return nil
}

func (s *PostgresStore) IsExcluded(ctx context.Context, a, b id.CustomerID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM excluded_pairs
			WHERE (first_customer_id = $1 AND second_customer_id = $2)
			   OR (first_customer_id = $2 AND second_customer_id = $1)
		)
	`
	var excluded bool
	if err := tx.Runner(ctx, s.db).QueryRowContext(ctx, query, string(a), string(b)).Scan(&excluded); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "check exclusion")
	}
	return excluded, nil
}

func (s *PostgresStore) DeleteMentioning(ctx context.Context, cuid id.CustomerID) (int, error) {
	result, err := tx.Runner(ctx, s.db).ExecContext(ctx,
		`DELETE FROM excluded_pairs WHERE first_customer_id = $1 OR second_customer_id = $1`, string(cuid))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "delete exclusions")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "delete exclusions rows affected")
	}
	return int(rows), nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.ExcludedPair, error) {
	query := `
		SELECT id, first_customer_id, second_customer_id, excluded_at, author_type, author_name
		FROM excluded_pairs
	`
	rows, err := tx.Runner(ctx, s.db).QueryContext(ctx, query)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list exclusions")
	}
	defer rows.Close()

	var out []*models.ExcludedPair
	for rows.Next() {
		var pair models.ExcludedPair
		var first, second, authorType string
		if err := rows.Scan(&pair.ID, &first, &second, &pair.ExcludedAt, &authorType, &pair.Author.Name); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan exclusion")
		}
		pair.FirstCustomerID = id.CustomerID(first)
		pair.SecondCustomerID = id.CustomerID(second)
		pair.Author.Type = models.AuthorType(authorType)
		out = append(out, &pair)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "iterate exclusions")
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstCustomerID != out[j].FirstCustomerID {
			return out[i].FirstCustomerID < out[j].FirstCustomerID
		}
		return out[i].SecondCustomerID < out[j].SecondCustomerID
	})
	return out, nil
}
