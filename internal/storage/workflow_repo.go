package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/quorumforge/aiorch/internal/core"
)

// WorkflowRepo persists Workflow and its embedded steps and log chunks.
type WorkflowRepo struct {
	db *DB
}

// NewWorkflowRepo constructs a WorkflowRepo over db.
func NewWorkflowRepo(db *DB) *WorkflowRepo { return &WorkflowRepo{db: db} }

// Create inserts a new workflow row and its steps, deriving an id if
// absent.
func (r *WorkflowRepo) Create(ctx context.Context, w *core.Workflow) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return r.db.retryWrite(ctx, "create workflow", func() error {
		tx, err := r.db.db.BeginTx(ctx, nil)
		if err != nil {
			return core.ErrInternal("", "beginning transaction").WithCause(err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflows (id, project_id, caller_user_id, status, started_at, finished_at, tokens_in, tokens_out)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, w.ID, w.ProjectID, w.CallerUserID, string(w.Status), nullTime(w.StartedAt), nullTime(w.FinishedAt), w.TokensIn, w.TokensOut)
		if err != nil {
			return core.ErrInternal("", "inserting workflow").WithCause(err)
		}

		for i, step := range w.Steps {
			if err := insertStep(ctx, tx, w.ID, i, step); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func insertStep(ctx context.Context, tx *sql.Tx, workflowID string, seq int, s *core.StepState) error {
	var resultJSON []byte
	if s.Result != nil {
		var err error
		resultJSON, err = json.Marshal(s.Result)
		if err != nil {
			return core.ErrInternal("", "marshaling step result").WithCause(err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_steps (workflow_id, seq, name, status, started_at, finished_at, result_json, error_kind, error_msg)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, seq) DO UPDATE SET
			status = excluded.status, started_at = excluded.started_at,
			finished_at = excluded.finished_at, result_json = excluded.result_json,
			error_kind = excluded.error_kind, error_msg = excluded.error_msg
	`, workflowID, seq, string(s.Name), string(s.Status), nullTime(s.StartedAt), nullTime(s.FinishedAt),
		nullString(resultJSON), string(s.ErrorKind), s.ErrorMsg)
	if err != nil {
		return core.ErrInternal("", "inserting step").WithCause(err)
	}
	return nil
}

// Save persists the full current state of w (status, steps). Used after
// each step transition by the scheduler.
func (r *WorkflowRepo) Save(ctx context.Context, w *core.Workflow) error {
	return r.db.retryWrite(ctx, "save workflow", func() error {
		tx, err := r.db.db.BeginTx(ctx, nil)
		if err != nil {
			return core.ErrInternal("", "beginning transaction").WithCause(err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			UPDATE workflows SET status = ?, started_at = ?, finished_at = ?, tokens_in = ?, tokens_out = ?
			WHERE id = ?
		`, string(w.Status), nullTime(w.StartedAt), nullTime(w.FinishedAt), w.TokensIn, w.TokensOut, w.ID)
		if err != nil {
			return core.ErrInternal("", "updating workflow").WithCause(err)
		}
		for i, step := range w.Steps {
			if err := insertStep(ctx, tx, w.ID, i, step); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// AppendLogChunk appends one log line, preserving capture-time order via
// an auto-incrementing sequence.
func (r *WorkflowRepo) AppendLogChunk(ctx context.Context, workflowID string, chunk core.LogChunk) error {
	return r.db.retryWrite(ctx, "append log chunk", func() error {
		var next int
		err := r.db.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), -1) + 1 FROM workflow_log_chunks WHERE workflow_id = ?", workflowID).Scan(&next)
		if err != nil {
			return core.ErrInternal("", "computing next log seq").WithCause(err)
		}
		_, err = r.db.db.ExecContext(ctx, `
			INSERT INTO workflow_log_chunks (workflow_id, seq, timestamp, step_name, line)
			VALUES (?, ?, ?, ?, ?)
		`, workflowID, next, chunk.Timestamp, string(chunk.StepName), chunk.Line)
		if err != nil {
			return core.ErrInternal("", "inserting log chunk").WithCause(err)
		}
		return nil
	})
}

// LogChunks returns log chunks from index `from` onward (spec §4.3's
// "lazy restartable sequence").
func (r *WorkflowRepo) LogChunks(ctx context.Context, workflowID string, from int) ([]core.LogChunk, error) {
	rows, err := r.db.readDB.QueryContext(ctx, `
		SELECT timestamp, step_name, line FROM workflow_log_chunks
		WHERE workflow_id = ? AND seq >= ? ORDER BY seq
	`, workflowID, from)
	if err != nil {
		return nil, core.ErrInternal("", "querying log chunks").WithCause(err)
	}
	defer rows.Close()

	var chunks []core.LogChunk
	for rows.Next() {
		var c core.LogChunk
		var step string
		if err := rows.Scan(&c.Timestamp, &step, &c.Line); err != nil {
			return nil, core.ErrInternal("", "scanning log chunk").WithCause(err)
		}
		c.StepName = core.StepName(step)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Get loads a workflow and its steps by id.
func (r *WorkflowRepo) Get(ctx context.Context, id string) (*core.Workflow, error) {
	row := r.db.readDB.QueryRowContext(ctx, `
		SELECT id, project_id, caller_user_id, status, started_at, finished_at, tokens_in, tokens_out
		FROM workflows WHERE id = ?
	`, id)

	var w core.Workflow
	var status string
	var started, finished sql.NullTime
	err := row.Scan(&w.ID, &w.ProjectID, &w.CallerUserID, &status, &started, &finished, &w.TokensIn, &w.TokensOut)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("workflow", id)
	}
	if err != nil {
		return nil, core.ErrInternal("", "loading workflow").WithCause(err)
	}
	w.Status = core.WorkflowStatus(status)
	if started.Valid {
		w.StartedAt = started.Time
	}
	if finished.Valid {
		w.FinishedAt = finished.Time
	}

	rows, err := r.db.readDB.QueryContext(ctx, `
		SELECT name, status, started_at, finished_at, result_json, error_kind, error_msg
		FROM workflow_steps WHERE workflow_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, core.ErrInternal("", "loading steps").WithCause(err)
	}
	defer rows.Close()

	for rows.Next() {
		s := &core.StepState{}
		var name, status string
		var started, finished sql.NullTime
		var resultJSON sql.NullString
		if err := rows.Scan(&name, &status, &started, &finished, &resultJSON, &s.ErrorKind, &s.ErrorMsg); err != nil {
			return nil, core.ErrInternal("", "scanning step").WithCause(err)
		}
		s.Name = core.StepName(name)
		s.Status = core.StepStatus(status)
		if started.Valid {
			s.StartedAt = started.Time
		}
		if finished.Valid {
			s.FinishedAt = finished.Time
		}
		if resultJSON.Valid && resultJSON.String != "" {
			if err := json.Unmarshal([]byte(resultJSON.String), &s.Result); err != nil {
				return nil, core.ErrInternal("", "unmarshaling step result").WithCause(err)
			}
		}
		w.Steps = append(w.Steps, s)
	}
	return &w, rows.Err()
}

// ListByProject returns workflow ids for a project, most recent first.
func (r *WorkflowRepo) ListByProject(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.db.readDB.QueryContext(ctx, `
		SELECT id FROM workflows WHERE project_id = ? ORDER BY rowid DESC
	`, projectID)
	if err != nil {
		return nil, core.ErrInternal("", fmt.Sprintf("listing workflows for %s", projectID)).WithCause(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, core.ErrInternal("", "scanning workflow id").WithCause(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
