package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dispatchworks/dispatch/internal/errors"
	"github.com/dispatchworks/dispatch/internal/instance"
)

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Store(errors.CodeStoreOpenFailed, "failed to open store database", errors.WithCause(err))
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Store(errors.CodeStoreOpenFailed, "failed to apply store schema", errors.WithCause(err))
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateInstance inserts a new instance row. Zero timestamps are filled
// with the current time.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *instance.Instance) error {
	now := time.Now()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	if inst.LastActivity.IsZero() {
		inst.LastActivity = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances (id, kind, status, worktree_path, branch, base_branch, session_name,
		 pid, issue_number, pr_number, pr_url, parent_id, prompt, created_at, last_activity, terminated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		inst.ID, string(inst.Kind), string(inst.Status), inst.WorktreePath, inst.Branch,
		inst.BaseBranch, inst.SessionName, inst.PID, inst.IssueNumber, inst.PRNumber,
		inst.PRURL, inst.ParentID, inst.Prompt,
		formatTime(inst.CreatedAt), formatTime(inst.LastActivity), nullableTime(inst.TerminatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Store(errors.CodeStoreConflict,
				fmt.Sprintf("instance %s already exists", inst.ID), errors.WithCause(err))
		}
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

const instanceColumns = `id, kind, status, worktree_path, branch, base_branch, session_name,
pid, issue_number, pr_number, pr_url, parent_id, prompt, created_at, last_activity, terminated_at`

// GetInstance returns nil, nil when the id is unknown.
func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*instance.Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)

	inst, err := scanInstance(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query instance: %w", err)
	}
	return inst, nil
}

// ListInstances returns all instances, newest first.
func (s *SQLiteStore) ListInstances(ctx context.Context) ([]*instance.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []*instance.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// UpdateInstance applies the non-nil fields of update to the row.
func (s *SQLiteStore) UpdateInstance(ctx context.Context, id string, update InstanceUpdate) error {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.WorktreePath != nil {
		sets = append(sets, "worktree_path = ?")
		args = append(args, *update.WorktreePath)
	}
	if update.Branch != nil {
		sets = append(sets, "branch = ?")
		args = append(args, *update.Branch)
	}
	if update.BaseBranch != nil {
		sets = append(sets, "base_branch = ?")
		args = append(args, *update.BaseBranch)
	}
	if update.SessionName != nil {
		sets = append(sets, "session_name = ?")
		args = append(args, *update.SessionName)
	}
	if update.PID != nil {
		sets = append(sets, "pid = ?")
		args = append(args, *update.PID)
	}
	if update.PRNumber != nil {
		sets = append(sets, "pr_number = ?")
		args = append(args, *update.PRNumber)
	}
	if update.PRURL != nil {
		sets = append(sets, "pr_url = ?")
		args = append(args, *update.PRURL)
	}
	if update.Prompt != nil {
		sets = append(sets, "prompt = ?")
		args = append(args, *update.Prompt)
	}
	if update.LastActivity != nil {
		sets = append(sets, "last_activity = ?")
		args = append(args, formatTime(*update.LastActivity))
	}
	if update.TerminatedAt != nil {
		sets = append(sets, "terminated_at = ?")
		args = append(args, formatTime(*update.TerminatedAt))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update instance: no row with id %s", id)
	}
	return nil
}

// CreateRelationship inserts a new edge and fills rel.ID from the row id.
func (s *SQLiteStore) CreateRelationship(ctx context.Context, rel *instance.Relationship) error {
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO relationships (parent_id, child_id, kind, iteration, metadata, created_at)
		 VALUES (?,?,?,?,?,?)`,
		rel.ParentID, rel.ChildID, string(rel.Kind), rel.Iteration, rel.Metadata,
		formatTime(rel.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Store(errors.CodeStoreConflict,
				fmt.Sprintf("relationship %s -> %s (%s) already exists", rel.ParentID, rel.ChildID, rel.Kind),
				errors.WithCause(err))
		}
		return fmt.Errorf("insert relationship: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rel.ID = id
	}
	return nil
}

// GetRelationships returns every edge touching the instance, in creation
// order.
func (s *SQLiteStore) GetRelationships(ctx context.Context, instanceID string) ([]*instance.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, child_id, kind, iteration, metadata, created_at
		 FROM relationships WHERE parent_id = ? OR child_id = ? ORDER BY id ASC`,
		instanceID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var rels []*instance.Relationship
	for rows.Next() {
		var (
			rel       instance.Relationship
			kind      string
			createdAt string
		)
		if err := rows.Scan(&rel.ID, &rel.ParentID, &rel.ChildID, &kind, &rel.Iteration, &rel.Metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rel.Kind = instance.RelationshipKind(kind)
		if rel.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, &rel)
	}
	return rels, rows.Err()
}

// UpdateRelationship applies the non-nil fields of update to the row.
func (s *SQLiteStore) UpdateRelationship(ctx context.Context, id int64, update RelationshipUpdate) error {
	if update.Metadata == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE relationships SET metadata = ? WHERE id = ?`, *update.Metadata, id)
	if err != nil {
		return fmt.Errorf("update relationship: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update relationship: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update relationship: no row with id %d", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*instance.Instance, error) {
	var (
		inst         instance.Instance
		kind, status string
		createdAt    string
		lastActivity string
		terminatedAt sql.NullString
	)
	err := row.Scan(
		&inst.ID, &kind, &status, &inst.WorktreePath, &inst.Branch, &inst.BaseBranch,
		&inst.SessionName, &inst.PID, &inst.IssueNumber, &inst.PRNumber, &inst.PRURL,
		&inst.ParentID, &inst.Prompt, &createdAt, &lastActivity, &terminatedAt,
	)
	if err != nil {
		return nil, err
	}

	inst.Kind = instance.Kind(kind)
	inst.Status = instance.Status(status)
	if inst.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if inst.LastActivity, err = parseTime(lastActivity); err != nil {
		return nil, err
	}
	if terminatedAt.Valid {
		t, err := parseTime(terminatedAt.String)
		if err != nil {
			return nil, err
		}
		inst.TerminatedAt = &t
	}
	return &inst, nil
}

// timeLayout pads fractional seconds to fixed width so the TEXT columns
// sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
