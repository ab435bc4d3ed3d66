package repository

import (
	"context"
	"fmt"

	"github.com/NikitaNevsky/vacvpn/internal/models"
)

// UpsertAccessGrant записывает результат рассылки на узел: создаёт зеркало
// выдачи или обновляет его активность.
func (s *Storage) UpsertAccessGrant(ctx context.Context, g models.AccessGrant) error {
	const op = "storage.UpsertAccessGrant"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO access_grants (user_id, node_id, access_identity, is_active, config)
			  VALUES ($1, $2, $3::uuid, $4, COALESCE(NULLIF($5, ''), '{}')::jsonb)
			  ON CONFLICT (user_id, node_id) DO UPDATE
			  SET access_identity = EXCLUDED.access_identity,
			      is_active = EXCLUDED.is_active,
			      updated_at = now()`
	if _, err := s.DB.ExecContext(ctx, query,
		g.UserID, g.NodeID, g.AccessIdentity, g.IsActive, g.Config); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// DeactivateUserGrants помечает все зеркала выдач пользователя неактивными.
// Вызывается при исчерпании или отмене подписки.
func (s *Storage) DeactivateUserGrants(ctx context.Context, userID string) error {
	const op = "storage.DeactivateUserGrants"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE access_grants SET is_active = FALSE, updated_at = now()
			  WHERE user_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, userID); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// ListUserGrants возвращает зеркала выдач пользователя по всем узлам.
func (s *Storage) ListUserGrants(ctx context.Context, userID string) ([]*models.AccessGrant, error) {
	const op = "storage.ListUserGrants"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT user_id, node_id, access_identity, is_active, config::text, updated_at
			  FROM access_grants
			  WHERE user_id = $1
			  ORDER BY node_id`
	rows, err := s.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.AccessGrant
	for rows.Next() {
		var g models.AccessGrant
		if err = rows.Scan(&g.UserID, &g.NodeID, &g.AccessIdentity,
			&g.IsActive, &g.Config, &g.UpdatedAt); err != nil {
			return nil, storeErr(op, err)
		}
		result = append(result, &g)
	}
	if err = rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return result, nil
}
