package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskq/internal/domain"
	"taskq/internal/ports"
)

func (s *Store) RegisterWorker(ctx context.Context, w domain.Worker, capabilities []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, typeID := range capabilities {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM task_types WHERE id = ?`, typeID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("task type %s: %w", typeID, domain.ErrInvalidCapability)
			}
			if err != nil {
				return err
			}
		}

		now := time.Now()
		registeredAt := w.RegisteredAt
		if registeredAt.IsZero() {
			registeredAt = now
		}
		// Re-registration refreshes name and capabilities and is the only
		// path out of the dead state.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workers (id, name, status, registered_at) VALUES (?, ?, 'alive', ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, status = 'alive'`,
			w.ID, w.Name, toMillis(registeredAt))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM worker_capabilities WHERE worker_id = ?`, w.ID); err != nil {
			return err
		}
		for _, typeID := range capabilities {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO worker_capabilities (worker_id, task_type_id) VALUES (?, ?)`,
				w.ID, typeID); err != nil {
				return err
			}
		}
		// Seed a heartbeat so the sweep has a reference point before the
		// worker's own heartbeat loop starts.
		_, err = tx.ExecContext(ctx,
			`INSERT INTO heartbeats (worker_id, heartbeat_time, created_at) VALUES (?, ?, ?)`,
			w.ID, toMillis(now), toMillis(now))
		return err
	})
}

func (s *Store) UnregisterWorker(ctx context.Context, workerID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE workers SET status = 'dead' WHERE id = ?`, workerID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrWorkerNotFound
		}
		// A graceful departure releases in-flight work immediately instead of
		// waiting for the death timeout.
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'pending', assigned_to = NULL
			WHERE assigned_to = ? AND status IN ('queued','running')`, workerID)
		return err
	})
}

func (s *Store) GetWorker(ctx context.Context, workerID string) (*domain.Worker, error) {
	var w domain.Worker
	var registeredAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, registered_at FROM workers WHERE id = ?`, workerID).
		Scan(&w.ID, &w.Name, &w.Status, &registeredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWorkerNotFound
	}
	if err != nil {
		return nil, err
	}
	w.RegisteredAt = fromMillis(registeredAt)
	return &w, nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, registered_at FROM workers ORDER BY registered_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Worker
	for rows.Next() {
		var w domain.Worker
		var registeredAt int64
		if err := rows.Scan(&w.ID, &w.Name, &w.Status, &registeredAt); err != nil {
			return nil, err
		}
		w.RegisteredAt = fromMillis(registeredAt)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) CapableWorkers(ctx context.Context, taskTypeID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id FROM workers w
		JOIN worker_capabilities wc ON wc.worker_id = w.id
		WHERE wc.task_type_id = ? AND w.status = 'alive'
		ORDER BY w.id`, taskTypeID)
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

func (s *Store) RecordHeartbeat(ctx context.Context, workerID string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM workers WHERE id = ?`, workerID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrWorkerNotFound
		}
		if err != nil {
			return err
		}
		// Append-only log; liveness reads MAX(heartbeat_time), so out-of-order
		// arrival of an older heartbeat can never move the clock backwards.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO heartbeats (worker_id, heartbeat_time, created_at) VALUES (?, ?, ?)`,
			workerID, toMillis(at), toMillis(time.Now())); err != nil {
			return err
		}
		// A fresh heartbeat revives a suspected worker. Dead stays dead until
		// re-registration clears its stale assignments.
		_, err = tx.ExecContext(ctx,
			`UPDATE workers SET status = 'alive' WHERE id = ? AND status <> 'dead'`, workerID)
		return err
	})
}

func (s *Store) SweepLiveness(ctx context.Context, now time.Time, heartbeatTimeout, deathTimeout time.Duration) (*ports.SweepReport, error) {
	report := &ports.SweepReport{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT w.id, w.status, COALESCE(MAX(h.heartbeat_time), w.registered_at)
			FROM workers w
			LEFT JOIN heartbeats h ON h.worker_id = w.id
			WHERE w.status <> 'dead'
			GROUP BY w.id`)
		if err != nil {
			return err
		}
		type candidate struct {
			id     string
			status domain.WorkerStatus
			lastHB int64
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			if err := rows.Scan(&c.id, &c.status, &c.lastHB); err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, c := range candidates {
			elapsed := now.Sub(fromMillis(c.lastHB))
			switch {
			case elapsed > deathTimeout:
				res, err := tx.ExecContext(ctx,
					`UPDATE workers SET status = 'dead' WHERE id = ? AND status <> 'dead'`, c.id)
				if err != nil {
					return err
				}
				if n, _ := res.RowsAffected(); n == 0 {
					continue
				}
				// Reclaim is the sole source of re-delivery after failure:
				// everything the dead worker held goes back to pending.
				reclaim, err := tx.ExecContext(ctx, `
					UPDATE tasks SET status = 'pending', assigned_to = NULL
					WHERE assigned_to = ? AND status IN ('queued','running')`, c.id)
				if err != nil {
					return err
				}
				n, _ := reclaim.RowsAffected()
				report.Reclaimed += int(n)
				report.Dead = append(report.Dead, c.id)
			case elapsed > heartbeatTimeout && c.status == domain.WorkerAlive:
				if _, err := tx.ExecContext(ctx,
					`UPDATE workers SET status = 'suspected' WHERE id = ? AND status = 'alive'`, c.id); err != nil {
					return err
				}
				report.Suspected = append(report.Suspected, c.id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
