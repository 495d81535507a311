//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance with the
// registry schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS identities (
    id            UUID PRIMARY KEY,
    customer_id   TEXT NOT NULL UNIQUE,
    connection_id TEXT,
    merged        BOOLEAN NOT NULL DEFAULT FALSE,
    deleted       BOOLEAN NOT NULL DEFAULT FALSE,
    master_id     UUID REFERENCES identities (id),
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS identities_connection_idx
    ON identities (connection_id) WHERE connection_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS identity_attributes (
    identity_id  UUID NOT NULL REFERENCES identities (id) ON DELETE CASCADE,
    key          TEXT NOT NULL,
    value        TEXT NOT NULL,
    certifier    TEXT NOT NULL,
    level        INTEGER NOT NULL,
    certified_at TIMESTAMPTZ NOT NULL,
    expires_at   TIMESTAMPTZ,
    PRIMARY KEY (identity_id, key)
);

CREATE TABLE IF NOT EXISTS suspicious_identities (
    id          UUID PRIMARY KEY,
    customer_id TEXT NOT NULL UNIQUE,
    rule_code   TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS excluded_pairs (
    id                 UUID PRIMARY KEY,
    first_customer_id  TEXT NOT NULL,
    second_customer_id TEXT NOT NULL,
    excluded_at        TIMESTAMPTZ NOT NULL,
    author_type        TEXT NOT NULL,
    author_name        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS excluded_pairs_first_idx ON excluded_pairs (first_customer_id);
CREATE INDEX IF NOT EXISTS excluded_pairs_second_idx ON excluded_pairs (second_customer_id);

CREATE TABLE IF NOT EXISTS audit_events (
    id                 BIGSERIAL PRIMARY KEY,
    category           TEXT NOT NULL,
    action             TEXT NOT NULL,
    occurred_at        TIMESTAMPTZ NOT NULL,
    customer_id        TEXT NOT NULL,
    master_customer_id TEXT NOT NULL DEFAULT '',
    child_customer_id  TEXT NOT NULL DEFAULT '',
    rule_code          TEXT NOT NULL DEFAULT '',
    author_type        TEXT NOT NULL DEFAULT '',
    author_name        TEXT NOT NULL DEFAULT '',
    request_id         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_customer_idx ON audit_events (customer_id, occurred_at);
`

// NewPostgresContainer starts a PostgreSQL container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("civreg"),
		tcpostgres.WithUsername("civreg"),
		tcpostgres.WithPassword("civreg"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	// Container lifetime is managed by the singleton Manager; Ryuk reaps it
	// after the test process exits.
	return &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}
}

// TruncateTables empties the given tables between tests.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx,
		fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", ")))
	return err
}
