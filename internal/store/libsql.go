package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/formflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// versionContent is the JSON stored in form_versions.content.
type versionContent struct {
	Sections          []*schema.Section         `json:"sections"`
	CustomValidations []schema.CustomValidation `json:"custom_validations,omitempty"`
}

// --- Forms ---

func (s *LibSQLStore) CreateForm(ctx context.Context, form *schema.Form) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	status := form.Status
	if status == "" {
		status = schema.FormStatusDraft
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO forms (id, title, status, active_version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		form.ID, form.Title, string(status), nullStr(form.ActiveVersion),
		timeOrNow(form.CreatedAt), timeOrNow(form.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return schema.NewErrorf(schema.ErrCodeConflict, "form %q already exists", form.ID)
	}
	if err := saveVersions(ctx, tx, form); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetForm(ctx context.Context, formID string) (*schema.Form, error) {
	return loadForm(ctx, s.db, formID)
}

// UpdateForm loads the form inside a transaction, lets fn modify it and
// writes the result back. Versions are upserted by label and never removed.
// Concurrent updates are serialized by the single write connection.
func (s *LibSQLStore) UpdateForm(ctx context.Context, formID string, fn func(*schema.Form) error) (*schema.Form, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	form, err := loadForm(ctx, tx, formID)
	if err != nil {
		return nil, err
	}
	if err := fn(form); err != nil {
		return nil, err
	}
	if form.ID != formID {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "form id cannot change (%q -> %q)", formID, form.ID)
	}
	if form.Status == "" {
		form.Status = schema.FormStatusDraft
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE forms SET title = ?, status = ?, active_version = ?, updated_at = ? WHERE id = ?`,
		form.Title, string(form.Status), nullStr(form.ActiveVersion), timeOrNow(form.UpdatedAt), formID,
	); err != nil {
		return nil, err
	}
	if err := saveVersions(ctx, tx, form); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return form, nil
}

func (s *LibSQLStore) ListForms(ctx context.Context, filter FormFilter) ([]*schema.Form, error) {
	query := `SELECT id FROM forms`
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY rowid"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	forms := make([]*schema.Form, 0, len(ids))
	for _, id := range ids {
		f, err := loadForm(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		forms = append(forms, f)
	}
	return forms, nil
}

func (s *LibSQLStore) GetFormVersion(ctx context.Context, formID, label string) (*schema.FormVersion, error) {
	if label == "" {
		var active sql.NullString
		err := s.db.QueryRowContext(ctx, `SELECT active_version FROM forms WHERE id = ?`, formID).Scan(&active)
		if err == sql.ErrNoRows {
			return nil, storeNotFound("form", formID)
		}
		if err != nil {
			return nil, err
		}
		if !active.Valid || active.String == "" {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "form %q has no active version", formID)
		}
		label = active.String
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT label, status, content, created_at, published_at FROM form_versions WHERE form_id = ? AND label = ?`,
		formID, label)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("form version", formID+"@"+label)
	}
	return v, err
}

func (s *LibSQLStore) FormExists(ctx context.Context, formID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM forms WHERE id = ?`, formID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func loadForm(ctx context.Context, q querier, formID string) (*schema.Form, error) {
	f := &schema.Form{}
	var status string
	var active sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, title, status, active_version, created_at, updated_at FROM forms WHERE id = ?`, formID,
	).Scan(&f.ID, &f.Title, &status, &active, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("form", formID)
	}
	if err != nil {
		return nil, err
	}
	f.Status = schema.FormStatus(status)
	f.ActiveVersion = active.String

	rows, err := q.QueryContext(ctx,
		`SELECT label, status, content, created_at, published_at FROM form_versions WHERE form_id = ? ORDER BY position`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		f.Versions = append(f.Versions, v)
	}
	return f, rows.Err()
}

func saveVersions(ctx context.Context, tx *sql.Tx, form *schema.Form) error {
	for i, v := range form.Versions {
		content, err := json.Marshal(versionContent{Sections: v.Sections, CustomValidations: v.CustomValidations})
		if err != nil {
			return fmt.Errorf("marshal version %q: %w", v.Label, err)
		}
		status := v.Status
		if status == "" {
			status = schema.VersionStatusDraft
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO form_versions (form_id, label, position, status, content, created_at, published_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(form_id, label) DO UPDATE SET
			   position=excluded.position, status=excluded.status,
			   content=excluded.content, published_at=excluded.published_at`,
			form.ID, v.Label, i, string(status), string(content), timeOrNow(v.CreatedAt), nullTime(v.PublishedAt),
		)
		if err != nil {
			return constraintError(err, "form version", form.ID+"@"+v.Label)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(r rowScanner) (*schema.FormVersion, error) {
	v := &schema.FormVersion{}
	var status, content string
	var publishedAt sql.NullTime
	if err := r.Scan(&v.Label, &status, &content, &v.CreatedAt, &publishedAt); err != nil {
		return nil, err
	}
	var c versionContent
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		return nil, fmt.Errorf("unmarshal version %q: %w", v.Label, err)
	}
	v.Status = schema.VersionStatus(status)
	v.Sections = c.Sections
	v.CustomValidations = c.CustomValidations
	if publishedAt.Valid {
		t := publishedAt.Time
		v.PublishedAt = &t
	}
	return v, nil
}

// --- Responses ---

func (s *LibSQLStore) CreateResponse(ctx context.Context, resp *schema.FormResponse) error {
	answers, err := marshalAnswers(resp.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO form_responses (id, form_id, version_label, answers, submitter, submitted_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		resp.ID, resp.FormID, resp.VersionLabel, answers, nullStr(resp.Submitter),
		timeOrNow(resp.SubmittedAt), timeOrNow(resp.UpdatedAt),
	)
	if err != nil {
		return constraintError(err, "response", resp.ID)
	}
	return nil
}

func (s *LibSQLStore) GetResponse(ctx context.Context, responseID string) (*schema.FormResponse, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM form_responses WHERE id = ?`, responseID)
	r, err := scanResponse(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("response", responseID)
	}
	return r, err
}

// UpdateResponse rewrites the answers of a live response and appends the
// history record in one transaction.
func (s *LibSQLStore) UpdateResponse(ctx context.Context, resp *schema.FormResponse, hist *schema.ResponseHistory) error {
	answers, err := marshalAnswers(resp.Answers)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE form_responses SET answers = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		answers, timeOrNow(resp.UpdatedAt), resp.ID,
	)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "response", resp.ID); err != nil {
		return err
	}

	if hist != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO response_history (id, response_id, editor, before_answers, after_answers, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			hist.ID, resp.ID, nullStr(hist.Editor), rawOrEmpty(hist.Before), rawOrEmpty(hist.After), timeOrNow(hist.CreatedAt),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) SoftDeleteResponse(ctx context.Context, responseID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE form_responses SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		timeOrNow(at), responseID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "response", responseID)
}

// CountResponses counts every response bound to the version, deleted ones included.
func (s *LibSQLStore) CountResponses(ctx context.Context, formID, label string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM form_responses WHERE form_id = ? AND version_label = ?`, formID, label,
	).Scan(&n)
	return n, err
}

func (s *LibSQLStore) ListResponses(ctx context.Context, filter schema.ResponseFilter) ([]*schema.FormResponse, error) {
	var where []string
	var args []any

	if filter.FormID != "" {
		where = append(where, "form_id = ?")
		args = append(args, filter.FormID)
	}
	if filter.VersionLabel != "" {
		where = append(where, "version_label = ?")
		args = append(args, filter.VersionLabel)
	}
	if filter.Submitter != "" {
		where = append(where, "submitter = ?")
		args = append(args, filter.Submitter)
	}
	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}

	query := `SELECT ` + responseColumns + ` FROM form_responses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.FormResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) ListResponseHistory(ctx context.Context, responseID string) ([]*schema.ResponseHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, response_id, editor, before_answers, after_answers, created_at
		 FROM response_history WHERE response_id = ? ORDER BY rowid`, responseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.ResponseHistory
	for rows.Next() {
		h := &schema.ResponseHistory{}
		var editor sql.NullString
		var before, after string
		if err := rows.Scan(&h.ID, &h.ResponseID, &editor, &before, &after, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Editor = editor.String
		h.Before = json.RawMessage(before)
		h.After = json.RawMessage(after)
		out = append(out, h)
	}
	return out, rows.Err()
}

const responseColumns = `id, form_id, version_label, answers, submitter, submitted_at, updated_at, deleted_at`

func scanResponse(r rowScanner) (*schema.FormResponse, error) {
	resp := &schema.FormResponse{}
	var answers string
	var submitter sql.NullString
	var deletedAt sql.NullTime
	if err := r.Scan(&resp.ID, &resp.FormID, &resp.VersionLabel, &answers, &submitter,
		&resp.SubmittedAt, &resp.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(answers), &resp.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers of %q: %w", resp.ID, err)
	}
	resp.Submitter = submitter.String
	if deletedAt.Valid {
		t := deletedAt.Time
		resp.DeletedAt = &t
	}
	return resp, nil
}

func marshalAnswers(t schema.AnswerTree) (string, error) {
	if t == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal answers: %w", err)
	}
	return string(raw), nil
}

// --- Workflows ---

// SaveWorkflow inserts or replaces a workflow. Replacing keeps the
// workflow's position in its trigger form's declaration order.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	def, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, trigger_form_id, definition, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, trigger_form_id=excluded.trigger_form_id,
		   definition=excluded.definition, is_active=excluded.is_active,
		   updated_at=excluded.updated_at`,
		wf.ID, wf.Name, wf.TriggerFormID, string(def), wf.IsActive, now, now,
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, workflowID string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT definition, is_active FROM workflows WHERE id = ?`, workflowID)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", workflowID)
	}
	return wf, err
}

// ListActiveWorkflows returns the active workflows of a trigger form in the
// order they were first saved.
func (s *LibSQLStore) ListActiveWorkflows(ctx context.Context, formID string) ([]*schema.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition, is_active FROM workflows
		 WHERE trigger_form_id = ? AND is_active = 1 ORDER BY rowid`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func scanWorkflow(r rowScanner) (*schema.Workflow, error) {
	var def string
	var active bool
	if err := r.Scan(&def, &active); err != nil {
		return nil, err
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal([]byte(def), wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	wf.IsActive = active
	return wf, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FormError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

// constraintError maps SQLite constraint and trigger failures to CONFLICT.
func constraintError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, marker := range []string{"UNIQUE constraint", "FOREIGN KEY constraint", "immutable", "append-only"} {
		if strings.Contains(msg, marker) {
			return schema.NewErrorf(schema.ErrCodeConflict, "%s %q: %s", resource, id, msg).WithCause(err)
		}
	}
	var fe *schema.FormError
	if errors.As(err, &fe) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s %q: %s", resource, id, msg).WithCause(err)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func rawOrEmpty(r json.RawMessage) string {
	if len(r) == 0 {
		return "null"
	}
	return string(r)
}
