package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"github.com/quorumforge/aiorch/internal/core"
)

// ProjectFilter is the query shape for ProjectRepo.List (spec §4.2).
// VisibleUserIDs nil means "no user filter" (ADMIN); a non-nil empty
// slice means "nothing visible" and must short-circuit to an empty page
// before this filter is even applied.
type ProjectFilter struct {
	VisibleUserIDs []string
	TenantID       string
	Status         core.ProjectStatus
	Language       string
	Framework      string
	Search         string
	Page           int
	PageSize       int
}

// ProjectRepo persists the Project table (spec §4.2).
type ProjectRepo struct {
	db *DB
}

// NewProjectRepo constructs a ProjectRepo over db.
func NewProjectRepo(db *DB) *ProjectRepo { return &ProjectRepo{db: db} }

// Create inserts a new project, deriving its id.
func (r *ProjectRepo) Create(ctx context.Context, p *core.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = core.ProjectActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return r.db.retryWrite(ctx, "create project", func() error {
		_, err := r.db.db.ExecContext(ctx, `
			INSERT INTO projects (
				id, owner_user_id, tenant_id, name, language, framework,
				local_path, remote_url, branch, status, protected, created_at, last_opened_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			p.ID, p.OwnerUserID, p.TenantID, p.Name, p.Language, p.Framework,
			p.LocalPath, p.RemoteURL, p.Branch, string(p.Status), boolInt(p.Protected),
			p.CreatedAt, nullTime(p.LastOpenedAt),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return core.ErrAlreadyExists("project", p.ID)
			}
			return core.ErrInternal("", "creating project").WithCause(err)
		}
		return nil
	})
}

// Get fetches a project by id.
func (r *ProjectRepo) Get(ctx context.Context, id string) (*core.Project, error) {
	row := r.db.readDB.QueryRowContext(ctx, `
		SELECT id, owner_user_id, tenant_id, name, language, framework,
		       local_path, remote_url, branch, status, protected, created_at, last_opened_at
		FROM projects WHERE id = ?
	`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("project", id)
	}
	if err != nil {
		return nil, core.ErrInternal("", "loading project").WithCause(err)
	}
	return p, nil
}

// List applies filter and returns (items, total, page, pageSize) per
// spec §4.2. When VisibleUserIDs is non-nil and empty, returns an empty
// page without querying.
func (r *ProjectRepo) List(ctx context.Context, filter ProjectFilter) ([]*core.Project, int, int, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.VisibleUserIDs != nil && len(filter.VisibleUserIDs) == 0 {
		return nil, 0, filter.Page, filter.PageSize, nil
	}

	var clauses []string
	var args []interface{}

	if filter.VisibleUserIDs != nil {
		placeholders := make([]string, len(filter.VisibleUserIDs))
		for i, uid := range filter.VisibleUserIDs {
			placeholders[i] = "?"
			args = append(args, uid)
		}
		clauses = append(clauses, fmt.Sprintf("owner_user_id IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.TenantID != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Language != "" {
		clauses = append(clauses, "language = ?")
		args = append(args, filter.Language)
	}
	if filter.Framework != "" {
		clauses = append(clauses, "framework = ?")
		args = append(args, filter.Framework)
	}
	if filter.Search != "" {
		clauses = append(clauses, "name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM projects " + where
	if err := r.db.readDB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, filter.Page, filter.PageSize, core.ErrInternal("", "counting projects").WithCause(err)
	}

	query := `
		SELECT id, owner_user_id, tenant_id, name, language, framework,
		       local_path, remote_url, branch, status, protected, created_at, last_opened_at
		FROM projects ` + where + ` ORDER BY created_at DESC`
	rows, err := r.db.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, filter.Page, filter.PageSize, core.ErrInternal("", "listing projects").WithCause(err)
	}
	defer rows.Close()

	var items []*core.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, filter.Page, filter.PageSize, core.ErrInternal("", "scanning project").WithCause(err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, filter.Page, filter.PageSize, core.ErrInternal("", "iterating projects").WithCause(err)
	}

	// Secondary fuzzy ranking pass over the substring-filtered result set
	// (ordering only — the LIKE filter above already decided membership).
	if filter.Search != "" && len(items) > 1 {
		items = fuzzyRankProjects(items, filter.Search)
	}

	start := (filter.Page - 1) * filter.PageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + filter.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], total, filter.Page, filter.PageSize, nil
}

func fuzzyRankProjects(items []*core.Project, search string) []*core.Project {
	names := make([]string, len(items))
	for i, p := range items {
		names[i] = p.Name
	}
	matches := fuzzy.Find(search, names)
	if len(matches) == 0 {
		return items
	}
	ranked := make([]*core.Project, 0, len(items))
	seen := make(map[int]bool, len(matches))
	for _, m := range matches {
		ranked = append(ranked, items[m.Index])
		seen[m.Index] = true
	}
	for i, p := range items {
		if !seen[i] {
			ranked = append(ranked, p)
		}
	}
	return ranked
}

// Update applies patch fields to the project identified by id.
// ownerUserId and tenantId are immutable and ignored if present in patch.
func (r *ProjectRepo) Update(ctx context.Context, id string, patch map[string]interface{}) error {
	allowed := map[string]bool{
		"name": true, "language": true, "framework": true, "local_path": true,
		"remote_url": true, "branch": true, "status": true, "protected": true,
	}
	var sets []string
	var args []interface{}
	for k, v := range patch {
		if !allowed[k] {
			continue
		}
		sets = append(sets, k+" = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	return r.db.retryWrite(ctx, "update project", func() error {
		res, err := r.db.db.ExecContext(ctx, fmt.Sprintf("UPDATE projects SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
		if err != nil {
			return core.ErrInternal("", "updating project").WithCause(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return core.ErrNotFound("project", id)
		}
		return nil
	})
}

// Delete removes a project. Soft unless hard is true, matching the
// caller's already-authorized hard-delete decision (spec §4.2).
func (r *ProjectRepo) Delete(ctx context.Context, id string, hard bool) error {
	return r.db.retryWrite(ctx, "delete project", func() error {
		var res sql.Result
		var err error
		if hard {
			res, err = r.db.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
		} else {
			res, err = r.db.db.ExecContext(ctx, "UPDATE projects SET status = ? WHERE id = ?", string(core.ProjectDeleted), id)
		}
		if err != nil {
			return core.ErrInternal("", "deleting project").WithCause(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return core.ErrNotFound("project", id)
		}
		return nil
	})
}

// TouchLastOpened updates a project's last-opened timestamp to now.
func (r *ProjectRepo) TouchLastOpened(ctx context.Context, id string) error {
	return r.db.retryWrite(ctx, "touch last opened", func() error {
		res, err := r.db.db.ExecContext(ctx, "UPDATE projects SET last_opened_at = ? WHERE id = ?", time.Now(), id)
		if err != nil {
			return core.ErrInternal("", "touching last opened").WithCause(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return core.ErrNotFound("project", id)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row scanner) (*core.Project, error) {
	var p core.Project
	var status string
	var protected int
	var lastOpened sql.NullTime
	err := row.Scan(
		&p.ID, &p.OwnerUserID, &p.TenantID, &p.Name, &p.Language, &p.Framework,
		&p.LocalPath, &p.RemoteURL, &p.Branch, &status, &protected, &p.CreatedAt, &lastOpened,
	)
	if err != nil {
		return nil, err
	}
	p.Status = core.ProjectStatus(status)
	p.Protected = protected != 0
	if lastOpened.Valid {
		p.LastOpenedAt = lastOpened.Time
	}
	return &p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
