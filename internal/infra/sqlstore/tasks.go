package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"taskq/internal/domain"
)

func (s *Store) CreateTaskType(ctx context.Context, name string) (*domain.TaskType, error) {
	// Idempotent by name: the first creation wins, later calls return the
	// existing row.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO task_types (id, name) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		uuid.NewString(), name); err != nil {
		return nil, err
	}
	return s.TaskTypeByName(ctx, name)
}

func (s *Store) TaskTypeByName(ctx context.Context, name string) (*domain.TaskType, error) {
	var tt domain.TaskType
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM task_types WHERE name = ?`, name).Scan(&tt.ID, &tt.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUnknownTaskType
	}
	if err != nil {
		return nil, err
	}
	return &tt, nil
}

func (s *Store) ListTaskTypes(ctx context.Context) ([]domain.TaskType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM task_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TaskType
	for rows.Next() {
		var tt domain.TaskType
		if err := rows.Scan(&tt.ID, &tt.Name); err != nil {
			return nil, err
		}
		out = append(out, tt)
	}
	return out, rows.Err()
}

func (s *Store) CreateTask(ctx context.Context, t domain.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, task_type_id, input_data, status, created_at, assigned_to)
		VALUES (?, ?, ?, 'pending', ?, NULL)`,
		t.ID, t.TaskTypeID, string(t.InputData), toMillis(t.CreatedAt))
	return err
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return getTask(ctx, s.db, taskID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, q querier, taskID string) (*domain.Task, error) {
	var t domain.Task
	var input sql.NullString
	var assigned sql.NullString
	var createdAt int64
	err := q.QueryRowContext(ctx, `
		SELECT id, task_type_id, input_data, status, created_at, assigned_to
		FROM tasks WHERE id = ?`, taskID).
		Scan(&t.ID, &t.TaskTypeID, &input, &t.Status, &createdAt, &assigned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	if input.Valid {
		t.InputData = json.RawMessage(input.String)
	}
	t.AssignedTo = assigned.String
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}

func (s *Store) PendingByType(ctx context.Context, taskTypeID string, limit int) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_type_id, input_data, status, created_at
		FROM tasks WHERE status = 'pending' AND task_type_id = ?
		ORDER BY created_at, id
		LIMIT ?`, taskTypeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		var input sql.NullString
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.TaskTypeID, &input, &t.Status, &createdAt); err != nil {
			return nil, err
		}
		if input.Valid {
			t.InputData = json.RawMessage(input.String)
		}
		t.CreatedAt = fromMillis(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) TypesWithPending(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT task_type_id FROM tasks WHERE status = 'pending'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) AssignTask(ctx context.Context, taskID, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'queued', assigned_to = ?
		WHERE id = ? AND status = 'pending'
		  AND EXISTS (SELECT 1 FROM worker_capabilities wc
		              WHERE wc.worker_id = ? AND wc.task_type_id = tasks.task_type_id)`,
		workerID, taskID, workerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	t, err := getTask(ctx, s.db, taskID)
	if err != nil {
		return err
	}
	if t.Status == domain.StatusPending {
		return domain.ErrWorkerNotCapable
	}
	return domain.ErrStaleTransition
}

func (s *Store) ReleaseTask(ctx context.Context, taskID, workerID string) error {
	return s.guardedUpdate(ctx, taskID, `
		UPDATE tasks SET status = 'pending', assigned_to = NULL
		WHERE id = ? AND status = 'queued' AND assigned_to = ?`, taskID, workerID)
}

func (s *Store) StartTask(ctx context.Context, taskID, workerID string) error {
	return s.guardedUpdate(ctx, taskID, `
		UPDATE tasks SET status = 'running'
		WHERE id = ? AND status = 'queued' AND assigned_to = ?`, taskID, workerID)
}

func (s *Store) CancelTask(ctx context.Context, taskID string) error {
	// Running tasks are not interruptible; they finish naturally or get
	// reclaimed through worker death.
	return s.guardedUpdate(ctx, taskID, `
		UPDATE tasks SET status = 'cancelled', assigned_to = NULL
		WHERE id = ? AND status IN ('pending','queued')`, taskID)
}

func (s *Store) guardedUpdate(ctx context.Context, taskID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := getTask(ctx, s.db, taskID); err != nil {
		return err
	}
	return domain.ErrStaleTransition
}

func (s *Store) FinalizeTask(ctx context.Context, taskID, workerID string, success bool, output, errData json.RawMessage) (*domain.TaskResult, error) {
	var result *domain.TaskResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		status := domain.StatusCompleted
		if !success {
			status = domain.StatusFailed
		}
		switch {
		case t.Status.Terminal():
			return domain.ErrDuplicateResult
		case t.Status == domain.StatusPending:
			// Reclaimed after its worker was declared dead; the current
			// owner's result is authoritative, a late one is dropped.
			return domain.ErrOrphanedResult
		case !domain.CanTransition(t.Status, status):
			return domain.ErrStaleTransition
		}

		now := time.Now()
		r := domain.TaskResult{
			ID:          uuid.NewString(),
			TaskID:      taskID,
			CompletedAt: now,
			WorkerID:    workerID,
			CreatedAt:   now,
		}
		// Exactly one of output/error is recorded per outcome; the schema
		// check constraint backs this up.
		if success {
			r.OutputData = output
			if len(r.OutputData) == 0 {
				r.OutputData = json.RawMessage("null")
			}
		} else {
			r.ErrorData = errData
			if len(r.ErrorData) == 0 {
				r.ErrorData = json.RawMessage("null")
			}
		}

		var outCol, errCol any
		if r.OutputData != nil {
			outCol = string(r.OutputData)
		}
		if r.ErrorData != nil {
			errCol = string(r.ErrorData)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_results (id, task_id, output_data, error_data, completed_at, worker_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.TaskID, outCol, errCol, toMillis(r.CompletedAt), r.WorkerID, toMillis(r.CreatedAt)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, assigned_to = NULL
			WHERE id = ? AND status IN ('queued','running')`, string(status), taskID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrStaleTransition
		}
		result = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetResult(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	var r domain.TaskResult
	var out, errData sql.NullString
	var completedAt, createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, output_data, error_data, completed_at, worker_id, created_at
		FROM task_results WHERE task_id = ?`, taskID).
		Scan(&r.ID, &r.TaskID, &out, &errData, &completedAt, &r.WorkerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	if out.Valid {
		r.OutputData = json.RawMessage(out.String)
	}
	if errData.Valid {
		r.ErrorData = json.RawMessage(errData.String)
	}
	r.CompletedAt = fromMillis(completedAt)
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}
