package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"civreg/internal/registry/duplicates"
	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/tx"
)

// PostgresStore persists identity aggregates in PostgreSQL. Mutating calls
// participate in the transaction carried by ctx, so one mutating request
// writes the identity row and its attribute set all-or-nothing.
//
// Schema:
//
//	CREATE TABLE identities (
//	    id            UUID PRIMARY KEY,
//	    customer_id   TEXT NOT NULL UNIQUE,
//	    connection_id TEXT,
//	    merged        BOOLEAN NOT NULL DEFAULT FALSE,
//	    deleted       BOOLEAN NOT NULL DEFAULT FALSE,
//	    master_id     UUID REFERENCES identities (id),
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL
//	);
//	CREATE UNIQUE INDEX identities_connection_idx
//	    ON identities (connection_id) WHERE connection_id IS NOT NULL;
//
//	CREATE TABLE identity_attributes (
//	    identity_id  UUID NOT NULL REFERENCES identities (id) ON DELETE CASCADE,
//	    key          TEXT NOT NULL,
//	    value        TEXT NOT NULL,
//	    certifier    TEXT NOT NULL,
//	    level        INTEGER NOT NULL,
//	    certified_at TIMESTAMPTZ NOT NULL,
//	    expires_at   TIMESTAMPTZ,
//	    PRIMARY KEY (identity_id, key)
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByCustomerID(ctx context.Context, cuid id.CustomerID) (*models.Identity, error) {
	return s.getBy(ctx, `customer_id = $1`, string(cuid))
}

func (s *PostgresStore) GetByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	return s.getBy(ctx, `id = $1`, identityID.String())
}

func (s *PostgresStore) GetByConnectionID(ctx context.Context, connID id.ConnectionID) (*models.Identity, error) {
	if connID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "connection id is required")
	}
	return s.getBy(ctx, `connection_id = $1`, string(connID))
}

func (s *PostgresStore) getBy(ctx context.Context, where string, arg any) (*models.Identity, error) {
	query := `
		SELECT id, customer_id, connection_id, merged, deleted, master_id, created_at, updated_at
		FROM identities
		WHERE ` + where
	identity, err := scanIdentity(tx.Runner(ctx, s.db).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get identity")
	}
	if err := s.loadAttributes(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

func (s *PostgresStore) loadAttributes(ctx context.Context, identity *models.Identity) error {
	query := `
		SELECT key, value, certifier, level, certified_at, expires_at
		FROM identity_attributes
		WHERE identity_id = $1
	`
	rows, err := tx.Runner(ctx, s.db).QueryContext(ctx, query, identity.ID.String())
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load identity attributes")
	}
	defer rows.Close()

	identity.Attributes = make(map[models.AttributeKey]*models.AttributeValue)
	for rows.Next() {
		var attr models.AttributeValue
		var key string
		var expiresAt sql.NullTime
		if err := rows.Scan(&key, &attr.Value, &attr.Certifier, &attr.Level, &attr.CertifiedAt, &expiresAt); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "scan identity attribute")
		}
		attr.Key = models.AttributeKey(key)
		if expiresAt.Valid {
			t := expiresAt.Time
			attr.ExpiresAt = &t
		}
		identity.SetAttribute(&attr)
	}
	if err := rows.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "iterate identity attributes")
	}
	return nil
}

// Save upserts the aggregate: the identity row plus a full rewrite of its
// attribute set. Callers run it inside a request transaction.
func (s *PostgresStore) Save(ctx context.Context, identity *models.Identity) error {
	if identity == nil || identity.CustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "identity needs a customer id")
	}
	runner := tx.Runner(ctx, s.db)

	var connID any
	if identity.ConnectionID != "" {
		connID = string(identity.ConnectionID)
	}
	var masterID any
	if identity.MasterID != nil {
		masterID = identity.MasterID.String()
	}
	query := `
		INSERT INTO identities (id, customer_id, connection_id, merged, deleted, master_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (customer_id) DO UPDATE SET
			connection_id = EXCLUDED.connection_id,
			merged = EXCLUDED.merged,
			deleted = EXCLUDED.deleted,
			master_id = EXCLUDED.master_id,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := runner.ExecContext(ctx, query,
		identity.ID.String(), string(identity.CustomerID), connID,
		identity.Merged, identity.Deleted, masterID,
		identity.CreatedAt, identity.UpdatedAt,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return dErrors.Newf(dErrors.CodeConflict,
				"connection id %s already bound to another identity", identity.ConnectionID)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "save identity")
	}

	if _, err := runner.ExecContext(ctx,
		`DELETE FROM identity_attributes WHERE identity_id = $1`, identity.ID.String()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "clear identity attributes")
	}
	for _, attr := range identity.Attributes {
		var expiresAt any
		if attr.ExpiresAt != nil {
			expiresAt = *attr.ExpiresAt
		}
		if _, err := runner.ExecContext(ctx, `
			INSERT INTO identity_attributes (identity_id, key, value, certifier, level, certified_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, identity.ID.String(), string(attr.Key), attr.Value, attr.Certifier, attr.Level, attr.CertifiedAt, expiresAt); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "save identity attribute")
		}
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, cuid id.CustomerID) error {
	result, err := tx.Runner(ctx, s.db).ExecContext(ctx,
		`DELETE FROM identities WHERE customer_id = $1`, string(cuid))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete identity")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete identity rows affected")
	}
	if rows == 0 {
		return dErrors.Newf(dErrors.CodeNotFound, "identity %s not found", cuid)
	}
	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context, offset, limit int) ([]*models.Identity, error) {
	if offset < 0 || limit <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "offset must be non-negative and limit positive")
	}
	query := `
		SELECT id, customer_id, connection_id, merged, deleted, master_id, created_at, updated_at
		FROM identities
		WHERE NOT merged AND NOT deleted
		ORDER BY customer_id
		OFFSET $1 LIMIT $2
	`
	rows, err := tx.Runner(ctx, s.db).QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list active identities")
	}
	defer rows.Close()

	var out []*models.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan identity")
		}
		out = append(out, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "iterate identities")
	}
	for _, identity := range out {
		if err := s.loadAttributes(ctx, identity); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindCandidates answers duplicate queries directly against the attribute
// table. Every queried key must match: exact keys compare case-insensitively,
// fuzzy keys additionally ignore spaces and hyphens.
func (s *PostgresStore) FindCandidates(ctx context.Context, query duplicates.SearchQuery) ([]models.Candidate, error) {
	if len(query.Attributes) == 0 {
		return nil, nil
	}

	keys := make([]models.AttributeKey, 0, len(query.Attributes))
	for key := range query.Attributes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var sb strings.Builder
	sb.WriteString(`
		SELECT customer_id FROM identities i
		WHERE NOT i.merged AND NOT i.deleted AND i.customer_id <> $1`)
	args := []any{string(query.ExcludeCustomerID)}
	for _, key := range keys {
		n := len(args) + 1
		var cmp string
		if query.MatchTypes[key] == models.MatchFuzzy {
			cmp = fmt.Sprintf(
				`replace(replace(lower(a.value), ' ', ''), '-', '') = replace(replace(lower($%d), ' ', ''), '-', '')`, n+1)
		} else {
			cmp = fmt.Sprintf(`lower(a.value) = lower($%d)`, n+1)
		}
		fmt.Fprintf(&sb, `
		AND EXISTS (
			SELECT 1 FROM identity_attributes a
			WHERE a.identity_id = i.id AND a.key = $%d AND a.value <> '' AND %s
		)`, n, cmp)
		args = append(args, string(key), query.Attributes[key])
	}
	sb.WriteString(`
		ORDER BY customer_id`)

	rows, err := tx.Runner(ctx, s.db).QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find duplicate candidates")
	}
	defer rows.Close()

	var out []models.Candidate
	for rows.Next() {
		var cuid string
		if err := rows.Scan(&cuid); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "scan duplicate candidate")
		}
		out = append(out, models.Candidate{CustomerID: id.CustomerID(cuid), Score: 1.0})
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "iterate duplicate candidates")
	}
	return out, nil
}

type identityRow interface {
	Scan(dest ...any) error
}

func scanIdentity(row identityRow) (*models.Identity, error) {
	var identity models.Identity
	var rawID, cuid string
	var connID, rawMaster sql.NullString

	if err := row.Scan(&rawID, &cuid, &connID, &identity.Merged, &identity.Deleted,
		&rawMaster, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := id.ParseIdentityID(rawID)
	if err != nil {
		return nil, err
	}
	identity.ID = parsed
	identity.CustomerID = id.CustomerID(cuid)
	if connID.Valid {
		identity.ConnectionID = id.ConnectionID(connID.String)
	}
	if rawMaster.Valid {
		master, err := id.ParseIdentityID(rawMaster.String)
		if err != nil {
			return nil, err
		}
		identity.MasterID = &master
	}
	return &identity, nil
}
