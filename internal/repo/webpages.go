package repo

import (
	"context"
	"database/sql"
	"strings"

	"pixline/internal/domain"
	"pixline/internal/events"
)

const webpageCols = `uid,created_at,updated_at,is_deleted,metadata_json,url,crawl_method,page_source,screenshot,ai_data_json,task_status,task_report,task_progress,task_logs_json,task_refs_json`

func scanWebpage(sc scanner) (*domain.Webpage, error) {
	var w domain.Webpage
	var createdAt, updatedAt string
	var isDeleted int
	var metadata, pageSource, screenshot, aiData, report, logs, refs sql.NullString
	var crawlMethod, status string
	var progress int
	err := sc.Scan(&w.UID, &createdAt, &updatedAt, &isDeleted, &metadata, &w.URL,
		&crawlMethod, &pageSource, &screenshot, &aiData,
		&status, &report, &progress, &logs, &refs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	w.IsDeleted = isDeleted != 0
	if err := unmarshalJSON(metadata, &w.Metadata); err != nil {
		return nil, err
	}
	w.CrawlMethod = domain.CrawlMethod(crawlMethod)
	if pageSource.Valid {
		w.PageSource = pageSource.String
	}
	if screenshot.Valid {
		w.Screenshot = screenshot.String
	}
	if aiData.Valid {
		w.AIData = &domain.BrandData{}
		if err := unmarshalJSON(aiData, w.AIData); err != nil {
			return nil, err
		}
	}
	w.TaskState, err = scanTaskState(status, report, progress, logs, refs)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r Repo) InsertWebpage(ctx context.Context, w *domain.Webpage, actorID string) error {
	now := r.now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.Touch(now)
	if w.CrawlMethod == "" {
		w.CrawlMethod = domain.CrawlDirect
	}
	metadata, err := marshalJSON(w.Metadata)
	if err != nil {
		return err
	}
	aiData, err := marshalJSON(w.AIData)
	if err != nil {
		return err
	}
	status, report, progress, logs, refs, err := taskColumns(w.TaskState)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO webpages(`+webpageCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			w.UID, formatTime(w.CreatedAt), formatTime(w.UpdatedAt), boolInt(w.IsDeleted), metadata, w.URL,
			string(w.CrawlMethod), nullable(w.PageSource), nullable(w.Screenshot), aiData,
			status, report, progress, logs, refs)
		if err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, "task.created", domain.TypeWebpage, w.UID, actorID, events.EventPayload{"status": status, "url": w.URL})
	})
}

func (r Repo) UpdateWebpage(ctx context.Context, w *domain.Webpage, actorID string) error {
	w.Touch(r.now())
	metadata, err := marshalJSON(w.Metadata)
	if err != nil {
		return err
	}
	aiData, err := marshalJSON(w.AIData)
	if err != nil {
		return err
	}
	status, report, progress, logs, refs, err := taskColumns(w.TaskState)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE webpages SET updated_at=?, metadata_json=?, url=?, crawl_method=?, page_source=?, screenshot=?, ai_data_json=?, task_status=?, task_report=?, task_progress=?, task_logs_json=?, task_refs_json=? WHERE uid=? AND is_deleted=0`,
			formatTime(w.UpdatedAt), metadata, w.URL, string(w.CrawlMethod), nullable(w.PageSource), nullable(w.Screenshot), aiData,
			status, report, progress, logs, refs, w.UID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.Events.Append(ctx, tx, "task.updated", domain.TypeWebpage, w.UID, actorID, events.EventPayload{"status": status, "progress": progress})
	})
}

// GetWebpage ignores scope ownership keys: webpages are shared base entities.
func (r Repo) GetWebpage(ctx context.Context, uid string, _ domain.Scope) (*domain.Webpage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+webpageCols+` FROM webpages WHERE uid=? AND is_deleted=0`, uid)
	return scanWebpage(row)
}

// GetWebpageByURL returns the most recent completed crawl of url. In-flight
// crawls of the same URL are skipped, so a task looking the URL up never sees
// itself.
func (r Repo) GetWebpageByURL(ctx context.Context, url string) (*domain.Webpage, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+webpageCols+` FROM webpages WHERE url=? AND is_deleted=0 AND task_status=? ORDER BY created_at DESC, uid DESC LIMIT 1`, url, string(domain.StepDone))
	return scanWebpage(row)
}

type WebpageFilters struct {
	URL             string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorUID       string
}

func (r Repo) ListWebpages(ctx context.Context, f WebpageFilters) ([]*domain.Webpage, error) {
	clauses := []string{"is_deleted=0"}
	var args []any
	if f.URL != "" {
		clauses = append(clauses, "url=?")
		args = append(args, f.URL)
	}
	if f.Status != "" {
		clauses = append(clauses, "task_status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorUID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND uid < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorUID)
	}
	query := `SELECT ` + webpageCols + ` FROM webpages WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, uid DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Webpage
	for rows.Next() {
		w, err := scanWebpage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) SoftDeleteWebpage(ctx context.Context, uid string, actorID string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE webpages SET is_deleted=1, updated_at=? WHERE uid=? AND is_deleted=0`, formatTime(r.now()), uid)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.Events.Append(ctx, tx, "task.deleted", domain.TypeWebpage, uid, actorID, nil)
	})
}
