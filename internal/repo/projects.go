package repo

import (
	"context"
	"database/sql"
	"strings"

	"pixline/internal/domain"
	"pixline/internal/events"
)

const projectCols = `uid,created_at,updated_at,is_deleted,metadata_json,user_id,url,mode,language,project_step,data_json,task_status,task_report,task_progress,task_logs_json,task_refs_json`

func scanProject(sc scanner) (*domain.Project, error) {
	var p domain.Project
	var createdAt, updatedAt string
	var isDeleted int
	var metadata, language, data, report, logs, refs sql.NullString
	var mode, step, status string
	var progress int
	err := sc.Scan(&p.UID, &createdAt, &updatedAt, &isDeleted, &metadata, &p.UserID,
		&p.URL, &mode, &language, &step, &data,
		&status, &report, &progress, &logs, &refs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	p.IsDeleted = isDeleted != 0
	if err := unmarshalJSON(metadata, &p.Metadata); err != nil {
		return nil, err
	}
	p.Mode = mode
	if language.Valid {
		p.Language = language.String
	}
	p.Step = domain.ProjectStep(step)
	if data.Valid {
		p.Data = &domain.BrandData{}
		if err := unmarshalJSON(data, p.Data); err != nil {
			return nil, err
		}
	}
	p.TaskState, err = scanTaskState(status, report, progress, logs, refs)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r Repo) InsertProject(ctx context.Context, p *domain.Project, actorID string) error {
	now := r.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.Touch(now)
	if p.Mode == "" {
		p.Mode = "manual"
	}
	if p.Step == "" {
		p.Step = domain.StepSource
	}
	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return err
	}
	data, err := marshalJSON(p.Data)
	if err != nil {
		return err
	}
	status, report, progress, logs, refs, err := taskColumns(p.TaskState)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			p.UID, formatTime(p.CreatedAt), formatTime(p.UpdatedAt), boolInt(p.IsDeleted), metadata, p.UserID,
			p.URL, p.Mode, nullable(p.Language), string(p.Step), data,
			status, report, progress, logs, refs)
		if err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, "task.created", domain.TypeProject, p.UID, actorID, events.EventPayload{"status": status, "url": p.URL})
	})
}

func (r Repo) UpdateProject(ctx context.Context, p *domain.Project, actorID string) error {
	p.Touch(r.now())
	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return err
	}
	data, err := marshalJSON(p.Data)
	if err != nil {
		return err
	}
	status, report, progress, logs, refs, err := taskColumns(p.TaskState)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at=?, metadata_json=?, url=?, mode=?, language=?, project_step=?, data_json=?, task_status=?, task_report=?, task_progress=?, task_logs_json=?, task_refs_json=? WHERE uid=? AND is_deleted=0`,
			formatTime(p.UpdatedAt), metadata, p.URL, p.Mode, nullable(p.Language), string(p.Step), data,
			status, report, progress, logs, refs, p.UID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.Events.Append(ctx, tx, "task.updated", domain.TypeProject, p.UID, actorID, events.EventPayload{"status": status, "progress": progress, "step": string(p.Step)})
	})
}

func (r Repo) GetProject(ctx context.Context, uid string, scope domain.Scope) (*domain.Project, error) {
	clauses := []string{"uid=?", "is_deleted=0"}
	args := []any{uid}
	if scope.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, scope.UserID)
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE `+strings.Join(clauses, " AND "), args...)
	return scanProject(row)
}

type ProjectFilters struct {
	Scope           domain.Scope
	Status          string
	Step            string
	Limit           int
	CursorCreatedAt string
	CursorUID       string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]*domain.Project, error) {
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
	if f.Step != "" {
		clauses = append(clauses, "project_step=?")
		args = append(args, f.Step)
	}
	if f.CursorCreatedAt != "" && f.CursorUID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND uid < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorUID)
	}
	query := `SELECT ` + projectCols + ` FROM projects WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, uid DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) SoftDeleteProject(ctx context.Context, uid string, scope domain.Scope, actorID string) error {
	clauses := []string{"uid=?", "is_deleted=0"}
	args := []any{formatTime(r.now()), uid}
	if scope.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, scope.UserID)
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE projects SET is_deleted=1, updated_at=? WHERE `+strings.Join(clauses, " AND "), args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.Events.Append(ctx, tx, "task.deleted", domain.TypeProject, uid, actorID, nil)
	})
}
