package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pixline/internal/domain"
	"pixline/internal/events"
)

// Repo is the ownership-scoped persistence layer. Every mutation refreshes
// updated_at and appends an audit event in the same transaction; every read
// excludes soft-deleted rows.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

var ErrNotFound = errors.New("not found")

func New(db *sql.DB) Repo {
	return Repo{
		DB:     db,
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// marshalJSON stores nil for empty values so the column reads back as NULL.
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	if s == "null" || s == "{}" || s == "[]" {
		return nil, nil
	}
	return s, nil
}

func unmarshalJSON(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

func taskColumns(state domain.TaskState) (status string, report any, progress int, logs any, refs any, err error) {
	status = string(state.Status)
	report = nullable(state.Report)
	progress = state.Progress
	logs, err = marshalJSON(state.Logs)
	if err != nil {
		return
	}
	refs, err = marshalJSON(state.References)
	return
}

func scanTaskState(status string, report sql.NullString, progress int, logs, refs sql.NullString) (domain.TaskState, error) {
	state := domain.TaskState{
		Status:   domain.StepStatus(status),
		Progress: progress,
	}
	if report.Valid {
		state.Report = report.String
	}
	if err := unmarshalJSON(logs, &state.Logs); err != nil {
		return state, fmt.Errorf("task logs: %w", err)
	}
	if refs.Valid {
		var list domain.TaskReferenceList
		if err := unmarshalJSON(refs, &list); err != nil {
			return state, fmt.Errorf("task references: %w", err)
		}
		state.References = &list
	}
	return state, nil
}

// withTx runs fn in a transaction, committing on success.
func (r Repo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestEventsFrom returns events newest-first, optionally filtered and
// paginated by cursor.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, taskType, taskID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if taskType != "" {
		clauses = append(clauses, "task_type=?")
		args = append(args, taskType)
	}
	if taskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, taskID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,task_type,task_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,task_type,task_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.queryEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var taskID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.TaskType, &taskID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if taskID.Valid {
			e.TaskID = taskID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
