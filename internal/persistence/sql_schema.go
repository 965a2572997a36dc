package persistence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	// DialectSQLite expects a "modernc.org/sqlite" *sql.DB.
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres expects a "github.com/jackc/pgx/v5/stdlib" *sql.DB.
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a driver name to its Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported sql dialect %q", name)
}

// DriverName is the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// rebind rewrites "?" placeholders to "$n" for Postgres. Queries in this
// package never contain a literal question mark.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// schema is shared by both dialects: JSON documents live in TEXT columns
// and timestamps in BIGINT unix nanoseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		workflow_version_id TEXT,
		status TEXT NOT NULL,
		payload TEXT,
		op_manager_id TEXT,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status)`,

	`CREATE TABLE IF NOT EXISTS workflow_versions (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		version TEXT NOT NULL,
		title TEXT,
		description TEXT,
		source TEXT NOT NULL,
		checksum TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT,
		created_at BIGINT NOT NULL,
		UNIQUE (workflow_id, version)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_workflow_versions_active
		ON workflow_versions(workflow_id) WHERE is_active`,

	`CREATE TABLE IF NOT EXISTS deal_audit (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL,
		event TEXT NOT NULL,
		from_status TEXT,
		to_status TEXT,
		actor_role TEXT,
		actor_id TEXT,
		workflow_version_id TEXT,
		actions TEXT,
		action_hash TEXT,
		details TEXT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deal_audit_deal ON deal_audit(deal_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT,
		status TEXT NOT NULL,
		assignee_role TEXT,
		assignee_user_id TEXT,
		sla_due_at BIGINT,
		sla_status TEXT,
		payload TEXT,
		action_hash TEXT NOT NULL UNIQUE,
		created_at BIGINT NOT NULL,
		completed_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_deal ON tasks(deal_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS notification_queue (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL,
		transition_from TEXT,
		transition_to TEXT,
		kind TEXT NOT NULL,
		to_roles TEXT,
		template TEXT,
		payload TEXT,
		status TEXT NOT NULL,
		error TEXT,
		action_hash TEXT NOT NULL UNIQUE,
		created_at BIGINT NOT NULL,
		sent_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_queue (
		id TEXT PRIMARY KEY,
		deal_id TEXT,
		transition_from TEXT,
		transition_to TEXT,
		endpoint TEXT NOT NULL,
		payload TEXT,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_attempt_at BIGINT,
		last_error TEXT,
		action_hash TEXT NOT NULL UNIQUE,
		created_at BIGINT NOT NULL,
		sent_at BIGINT,
		processed_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS schedule_queue (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL,
		transition_from TEXT,
		transition_to TEXT,
		job_type TEXT NOT NULL,
		cron TEXT,
		payload TEXT,
		status TEXT NOT NULL,
		action_hash TEXT NOT NULL UNIQUE,
		created_at BIGINT NOT NULL,
		processed_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS task_queue (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL,
		transition_from TEXT,
		transition_to TEXT,
		workflow_version_id TEXT,
		task TEXT NOT NULL,
		actor_role TEXT,
		actor_id TEXT,
		context TEXT,
		payload TEXT,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		action_hash TEXT NOT NULL UNIQUE,
		created_at BIGINT NOT NULL,
		processed_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_queue_status ON webhook_queue(status, next_attempt_at)`,
	`CREATE INDEX IF NOT EXISTS idx_schedule_queue_status ON schedule_queue(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_task_queue_status ON task_queue(status, created_at)`,

	`CREATE TABLE IF NOT EXISTS deal_profiles (
		deal_id TEXT NOT NULL,
		side TEXT NOT NULL,
		fields TEXT,
		PRIMARY KEY (deal_id, side)
	)`,
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init %s schema: %w", s.dialect, err)
		}
	}
	return nil
}
