package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/dealflow/internal/guard"
	"github.com/petrijr/dealflow/internal/template"
	"github.com/petrijr/dealflow/pkg/api"
)

// SQLStore is a Store backed by SQLite or PostgreSQL.
//
// It expects an *sql.DB opened with the driver matching its dialect. The
// caller is responsible for importing the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//	import _ "github.com/jackc/pgx/v5/stdlib"
//
// Status updates are compare-and-swap on the stored status, version
// activation runs in a transaction, and queue inserts rely on the unique
// action_hash column.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Ensure SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// NewSQLStore initializes the schema in db and returns a new SQLStore.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLStore opens dsn with the dialect's driver and initializes it.
// For SQLite, ":memory:" databases are pinned to one connection.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the underlying handle.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// --- deals ---

// SaveDeal creates or replaces a deal.
func (s *SQLStore) SaveDeal(ctx context.Context, deal *api.Deal) error {
	payload, err := encodeJSON(deal.Payload)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO deals (id, workflow_id, workflow_version_id, status, payload, op_manager_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			workflow_version_id = excluded.workflow_version_id,
			status = excluded.status,
			payload = excluded.payload,
			op_manager_id = excluded.op_manager_id,
			updated_at = excluded.updated_at`,
		deal.ID,
		deal.WorkflowID,
		nullString(deal.WorkflowVersionID),
		deal.Status,
		payload,
		nullString(deal.OpManagerID),
		encodeTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("save deal %s: %w", deal.ID, err)
	}
	return nil
}

const dealColumns = `id, workflow_id, workflow_version_id, status, payload, op_manager_id, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (*api.Deal, error) {
	var (
		d         api.Deal
		versionID sql.NullString
		payload   sql.NullString
		opManager sql.NullString
		updatedAt int64
	)
	if err := row.Scan(&d.ID, &d.WorkflowID, &versionID, &d.Status, &payload, &opManager, &updatedAt); err != nil {
		return nil, err
	}
	doc, err := decodeJSON[map[string]any](payload)
	if err != nil {
		return nil, err
	}
	d.WorkflowVersionID = versionID.String
	d.Payload = doc
	d.OpManagerID = opManager.String
	d.UpdatedAt = decodeTime(updatedAt)
	return &d, nil
}

func (s *SQLStore) GetDeal(ctx context.Context, id string) (*api.Deal, error) {
	d, err := scanDeal(s.queryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrDealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deal %s: %w", id, err)
	}
	return d, nil
}

func (s *SQLStore) UpdateDealStatus(ctx context.Context, update api.DealStatusUpdate) error {
	res, err := s.exec(ctx, `
		UPDATE deals
		SET status = ?,
		    workflow_version_id = COALESCE(?, workflow_version_id),
		    updated_at = ?
		WHERE id = ? AND status = ?`,
		update.NewStatus,
		nullString(update.WorkflowVersionID),
		encodeTime(s.now()),
		update.DealID,
		update.PreviousStatus,
	)
	if err != nil {
		return fmt.Errorf("update status of deal %s: %w", update.DealID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.GetDeal(ctx, update.DealID); err != nil {
		return err
	}
	return api.ErrStatusConflict
}

func (s *SQLStore) UpdateDealPayload(ctx context.Context, dealID string, payload map[string]any) error {
	doc, err := encodeJSON(payload)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE deals SET payload = ?, updated_at = ? WHERE id = ?`,
		doc, encodeTime(s.now()), dealID)
	if err != nil {
		return fmt.Errorf("update payload of deal %s: %w", dealID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrDealNotFound
	}
	return nil
}

func (s *SQLStore) ListDeals(ctx context.Context, excludeStatuses ...string) ([]*api.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals`
	args := make([]any, 0, len(excludeStatuses))
	if len(excludeStatuses) > 0 {
		marks := make([]string, len(excludeStatuses))
		for i, st := range excludeStatuses {
			marks[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE status NOT IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	var out []*api.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- workflow versions ---

const versionColumns = `id, workflow_id, version, title, description, source, checksum, is_active, created_by, created_at`

func (s *SQLStore) Insert(ctx context.Context, v *api.WorkflowVersion) error {
	source := v.Source
	if source == "" && v.Template != nil {
		data, err := template.Encode(v.Template)
		if err != nil {
			return fmt.Errorf("encode template of version %s: %w", v.ID, err)
		}
		source = string(data)
	}

	res, err := s.exec(ctx, `
		INSERT INTO workflow_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workflow_id, version) DO NOTHING`,
		v.ID,
		v.WorkflowID,
		v.Version,
		nullString(v.Title),
		nullString(v.Description),
		source,
		v.Checksum,
		v.IsActive,
		nullString(v.CreatedBy),
		encodeTime(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert version %s@%s: %w", v.WorkflowID, v.Version, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrVersionExists
	}
	return nil
}

func scanVersion(row rowScanner) (*api.WorkflowVersion, error) {
	var (
		v           api.WorkflowVersion
		title       sql.NullString
		description sql.NullString
		createdBy   sql.NullString
		createdAt   int64
	)
	if err := row.Scan(&v.ID, &v.WorkflowID, &v.Version, &title, &description, &v.Source,
		&v.Checksum, &v.IsActive, &createdBy, &createdAt); err != nil {
		return nil, err
	}
	tpl, err := template.ParseString(v.Source)
	if err != nil {
		return nil, fmt.Errorf("stored version %s: %w", v.ID, err)
	}
	v.Title = title.String
	v.Description = description.String
	v.CreatedBy = createdBy.String
	v.CreatedAt = decodeTime(createdAt)
	v.Template = tpl
	return &v, nil
}

func (s *SQLStore) findVersion(ctx context.Context, notFound error, where string, args ...any) (*api.WorkflowVersion, error) {
	v, err := scanVersion(s.queryRow(ctx, `SELECT `+versionColumns+` FROM workflow_versions WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("find version: %w", err)
	}
	return v, nil
}

func (s *SQLStore) List(ctx context.Context, workflowID string) ([]*api.WorkflowVersion, error) {
	rows, err := s.query(ctx, `
		SELECT `+versionColumns+`
		FROM workflow_versions
		WHERE workflow_id = ?
		ORDER BY created_at DESC, version DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []*api.WorkflowVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLStore) FindActive(ctx context.Context, workflowID string) (*api.WorkflowVersion, error) {
	return s.findVersion(ctx, api.ErrNoActiveVersion, `workflow_id = ? AND is_active`, workflowID)
}

func (s *SQLStore) FindByVersion(ctx context.Context, workflowID, version string) (*api.WorkflowVersion, error) {
	return s.findVersion(ctx, api.ErrVersionNotFound, `workflow_id = ? AND version = ?`, workflowID, version)
}

func (s *SQLStore) FindByID(ctx context.Context, id string) (*api.WorkflowVersion, error) {
	return s.findVersion(ctx, api.ErrVersionNotFound, `id = ?`, id)
}

// MarkActive swaps the active version in one transaction. The siblings are
// cleared first so the partial unique index on active versions never sees
// two active rows.
func (s *SQLStore) MarkActive(ctx context.Context, workflowID, versionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var found string
	err = tx.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT id FROM workflow_versions WHERE id = ? AND workflow_id = ?`),
		versionID, workflowID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return api.ErrVersionNotFound
	}
	if err != nil {
		return fmt.Errorf("find version %s: %w", versionID, err)
	}

	if _, err := tx.ExecContext(ctx,
		s.dialect.rebind(`UPDATE workflow_versions SET is_active = FALSE WHERE workflow_id = ? AND is_active`),
		workflowID); err != nil {
		return fmt.Errorf("deactivate versions of %s: %w", workflowID, err)
	}
	if _, err := tx.ExecContext(ctx,
		s.dialect.rebind(`UPDATE workflow_versions SET is_active = TRUE WHERE id = ?`),
		versionID); err != nil {
		return fmt.Errorf("activate version %s: %w", versionID, err)
	}
	return tx.Commit()
}

// --- audit ---

func (s *SQLStore) LogTransition(ctx context.Context, entry api.AuditEntry) error {
	return s.appendAudit(ctx, entry)
}

func (s *SQLStore) LogAction(ctx context.Context, entry api.AuditEntry) error {
	return s.appendAudit(ctx, entry)
}

func (s *SQLStore) appendAudit(ctx context.Context, entry api.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	actions, err := encodeJSON(entry.Actions)
	if err != nil {
		return err
	}
	details, err := encodeJSON(entry.Details)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `
		INSERT INTO deal_audit (id, deal_id, event, from_status, to_status, actor_role, actor_id,
			workflow_version_id, actions, action_hash, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.DealID,
		entry.Event,
		nullString(entry.From),
		nullString(entry.To),
		nullString(string(entry.ActorRole)),
		nullString(entry.ActorID),
		nullString(entry.WorkflowVersionID),
		actions,
		nullString(entry.ActionHash),
		details,
		encodeTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append audit %s for deal %s: %w", entry.Event, entry.DealID, err)
	}
	return nil
}

// AuditEntries returns the audit trail of a deal, oldest first.
func (s *SQLStore) AuditEntries(ctx context.Context, dealID string) ([]api.AuditEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, deal_id, event, from_status, to_status, actor_role, actor_id,
			workflow_version_id, actions, action_hash, details, created_at
		FROM deal_audit
		WHERE deal_id = ?
		ORDER BY created_at, id`, dealID)
	if err != nil {
		return nil, fmt.Errorf("list audit of deal %s: %w", dealID, err)
	}
	defer rows.Close()

	var out []api.AuditEntry
	for rows.Next() {
		var (
			e              api.AuditEntry
			from, to, role sql.NullString
			actor, version sql.NullString
			hash, actions  sql.NullString
			details        sql.NullString
			createdAt      int64
		)
		if err := rows.Scan(&e.ID, &e.DealID, &e.Event, &from, &to, &role, &actor,
			&version, &actions, &hash, &details, &createdAt); err != nil {
			return nil, err
		}
		if e.Actions, err = decodeJSON[[]api.ActionKind](actions); err != nil {
			return nil, err
		}
		if e.Details, err = decodeJSON[map[string]any](details); err != nil {
			return nil, err
		}
		e.From = from.String
		e.To = to.String
		e.ActorRole = api.Role(role.String)
		e.ActorID = actor.String
		e.WorkflowVersionID = version.String
		e.ActionHash = hash.String
		e.CreatedAt = decodeTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- profiles ---

func (s *SQLStore) LoadProfile(ctx context.Context, dealID string, side api.ProfileSide) (map[string]any, error) {
	var fields sql.NullString
	err := s.queryRow(ctx, `SELECT fields FROM deal_profiles WHERE deal_id = ? AND side = ?`,
		dealID, string(side)).Scan(&fields)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s profile of deal %s: %w", side, dealID, err)
	}
	return decodeJSON[map[string]any](fields)
}

// SaveProfile merges fields into the stored profile.
func (s *SQLStore) SaveProfile(ctx context.Context, dealID string, side api.ProfileSide, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current sql.NullString
	err = tx.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT fields FROM deal_profiles WHERE deal_id = ? AND side = ?`),
		dealID, string(side)).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load %s profile of deal %s: %w", side, dealID, err)
	}
	existing, err := decodeJSON[map[string]any](current)
	if err != nil {
		return err
	}
	merged, err := encodeJSON(guard.DeepMerge(existing, fields))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO deal_profiles (deal_id, side, fields) VALUES (?, ?, ?)
		ON CONFLICT (deal_id, side) DO UPDATE SET fields = excluded.fields`),
		dealID, string(side), merged); err != nil {
		return fmt.Errorf("save %s profile of deal %s: %w", side, dealID, err)
	}
	return tx.Commit()
}
