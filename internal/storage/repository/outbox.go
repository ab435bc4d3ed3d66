package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/NikitaNevsky/vacvpn/internal/models"
)

// EnqueueProvision создаёт по одной записи outbox на каждый узел. Записи
// переживают перезапуск процесса; выгребает их воркер рассылки.
func (s *Storage) EnqueueProvision(ctx context.Context, accessIdentity, userID string, nodeIDs []string, action string) error {
	const op = "storage.EnqueueProvision"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO provision_outbox (access_identity, user_id, node_id, action, next_attempt_at)
			  VALUES ($1::uuid, $2, $3, $4, now())`
	for _, nodeID := range nodeIDs {
		if _, err := s.DB.ExecContext(ctx, query, accessIdentity, userID, nodeID, action); err != nil {
			return storeErr(op, err)
		}
	}
	return nil
}

// DueProvisionJobs возвращает записи outbox, готовые к попытке. Воркер
// рассылки один на процесс, поэтому блокировки строк здесь не нужны.
func (s *Storage) DueProvisionJobs(ctx context.Context, now time.Time, limit int) ([]*models.ProvisionJob, error) {
	const op = "storage.DueProvisionJobs"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, access_identity, user_id, node_id, action, attempts,
			      next_attempt_at, done, created_at
			  FROM provision_outbox
			  WHERE NOT done AND next_attempt_at <= $1
			  ORDER BY id
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.ProvisionJob
	for rows.Next() {
		var j models.ProvisionJob
		if err = rows.Scan(&j.ID, &j.AccessIdentity, &j.UserID, &j.NodeID,
			&j.Action, &j.Attempts, &j.NextAttemptAt, &j.Done, &j.CreatedAt); err != nil {
			return nil, storeErr(op, err)
		}
		result = append(result, &j)
	}
	if err = rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return result, nil
}

// MarkProvisionDone помечает запись outbox завершённой.
func (s *Storage) MarkProvisionDone(ctx context.Context, id int64) error {
	const op = "storage.MarkProvisionDone"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE provision_outbox SET done = TRUE WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, id); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// RescheduleProvision откладывает запись outbox до следующей попытки.
func (s *Storage) RescheduleProvision(ctx context.Context, id int64, attempts int, nextAttempt time.Time) error {
	const op = "storage.RescheduleProvision"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE provision_outbox SET attempts = $2, next_attempt_at = $3 WHERE id = $1`
	if _, err := s.DB.ExecContext(ctx, query, id, attempts, nextAttempt); err != nil {
		return storeErr(op, err)
	}
	return nil
}
