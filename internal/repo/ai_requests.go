package repo

import (
	"context"
	"database/sql"
	"strings"

	"pixline/internal/domain"
	"pixline/internal/events"
)

const aiRequestCols = `uid,created_at,updated_at,is_deleted,metadata_json,user_id,prompt,context_json,answer_json,engine,template_key,task_status,task_report,task_progress,task_logs_json,task_refs_json`

func scanAIRequest(sc scanner) (*domain.AIRequest, error) {
	var a domain.AIRequest
	var createdAt, updatedAt string
	var isDeleted int
	var metadata, prompt, contextJSON, answerJSON, templateKey, report, logs, refs sql.NullString
	var status, engine string
	var progress int
	err := sc.Scan(&a.UID, &createdAt, &updatedAt, &isDeleted, &metadata, &a.UserID,
		&prompt, &contextJSON, &answerJSON, &engine, &templateKey,
		&status, &report, &progress, &logs, &refs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	a.IsDeleted = isDeleted != 0
	if err := unmarshalJSON(metadata, &a.Metadata); err != nil {
		return nil, err
	}
	if prompt.Valid {
		a.Prompt = prompt.String
	}
	if err := unmarshalJSON(contextJSON, &a.Context); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(answerJSON, &a.Answer); err != nil {
		return nil, err
	}
	a.Engine = domain.AIEngine(engine)
	if templateKey.Valid {
		a.TemplateKey = templateKey.String
	}
	a.TaskState, err = scanTaskState(status, report, progress, logs, refs)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r Repo) InsertAIRequest(ctx context.Context, a *domain.AIRequest, actorID string) error {
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.Touch(now)
	metadata, err := marshalJSON(a.Metadata)
	if err != nil {
		return err
	}
	contextJSON, err := marshalJSON(a.Context)
	if err != nil {
		return err
	}
	answerJSON, err := marshalJSON(a.Answer)
	if err != nil {
		return err
	}
	status, report, progress, logs, refs, err := taskColumns(a.TaskState)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO ai_requests(`+aiRequestCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			a.UID, formatTime(a.CreatedAt), formatTime(a.UpdatedAt), boolInt(a.IsDeleted), metadata, a.UserID,
			nullable(a.Prompt), contextJSON, answerJSON, string(a.Engine), nullable(a.TemplateKey),
			status, report, progress, logs, refs)
		if err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, "task.created", domain.TypeAIRequest, a.UID, actorID, events.EventPayload{"status": status})
	})
}

func (r Repo) UpdateAIRequest(ctx context.Context, a *domain.AIRequest, actorID string) error {
	a.Touch(r.now())
	metadata, err := marshalJSON(a.Metadata)
	if err != nil {
		return err
	}
	contextJSON, err := marshalJSON(a.Context)
	if err != nil {
		return err
	}
	answerJSON, err := marshalJSON(a.Answer)
	if err != nil {
		return err
	}
	status, report, progress, logs, refs, err := taskColumns(a.TaskState)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE ai_requests SET updated_at=?, metadata_json=?, prompt=?, context_json=?, answer_json=?, engine=?, template_key=?, task_status=?, task_report=?, task_progress=?, task_logs_json=?, task_refs_json=? WHERE uid=? AND is_deleted=0`,
			formatTime(a.UpdatedAt), metadata, nullable(a.Prompt), contextJSON, answerJSON, string(a.Engine), nullable(a.TemplateKey),
			status, report, progress, logs, refs, a.UID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.Events.Append(ctx, tx, "task.updated", domain.TypeAIRequest, a.UID, actorID, events.EventPayload{"status": status, "progress": progress})
	})
}

// GetAIRequest returns the single non-deleted record matching uid and the
// ownership keys present in scope.
func (r Repo) GetAIRequest(ctx context.Context, uid string, scope domain.Scope) (*domain.AIRequest, error) {
	clauses := []string{"uid=?", "is_deleted=0"}
	args := []any{uid}
	if scope.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, scope.UserID)
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+aiRequestCols+` FROM ai_requests WHERE `+strings.Join(clauses, " AND "), args...)
	return scanAIRequest(row)
}

type AIRequestFilters struct {
	Scope           domain.Scope
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorUID       string
}

func (r Repo) ListAIRequests(ctx context.Context, f AIRequestFilters) ([]*domain.AIRequest, error) {
	clauses := []string{"is_deleted=0"}
	var args []any
	if f.Scope.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.Scope.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "task_status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorUID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND uid < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorUID)
	}
	query := `SELECT ` + aiRequestCols + ` FROM ai_requests WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, uid DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.AIRequest
	for rows.Next() {
		a, err := scanAIRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) SoftDeleteAIRequest(ctx context.Context, uid string, scope domain.Scope, actorID string) error {
	clauses := []string{"uid=?", "is_deleted=0"}
	args := []any{formatTime(r.now()), uid}
	if scope.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, scope.UserID)
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE ai_requests SET is_deleted=1, updated_at=? WHERE `+strings.Join(clauses, " AND "), args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.Events.Append(ctx, tx, "task.deleted", domain.TypeAIRequest, uid, actorID, nil)
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
