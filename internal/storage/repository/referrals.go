package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/NikitaNevsky/vacvpn/internal/models"
)

// InsertReferralTx создаёт реферальную запись внутри переданной транзакции.
// Ключ записи детерминированный, поэтому ON CONFLICT DO NOTHING превращает
// повторную попытку в no-op: false означает, что пара уже была начислена и
// зачисления выполнять нельзя.
func (s *Storage) InsertReferralTx(ctx context.Context, tx *sql.Tx, ref models.Referral) (bool, error) {
	const op = "storage.InsertReferralTx"

	query := `INSERT INTO referrals (referral_id, referrer_id, referred_id,
			      referrer_bonus, referred_bonus)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (referral_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, query,
		ref.ID, ref.ReferrerID, ref.ReferredID, ref.ReferrerBonus, ref.ReferredBonus)
	if err != nil {
		return false, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(op, err)
	}
	return n > 0, nil
}

// ListReferrals возвращает реферальные записи пользователя.
func (s *Storage) ListReferrals(ctx context.Context, referrerID string) ([]*models.Referral, error) {
	const op = "storage.ListReferrals"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT referral_id, referrer_id, referred_id, referrer_bonus,
			      referred_bonus, created_at
			  FROM referrals
			  WHERE referrer_id = $1
			  ORDER BY created_at`
	rows, err := s.DB.QueryContext(ctx, query, referrerID)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Referral
	for rows.Next() {
		var r models.Referral
		if err = rows.Scan(&r.ID, &r.ReferrerID, &r.ReferredID,
			&r.ReferrerBonus, &r.ReferredBonus, &r.CreatedAt); err != nil {
			return nil, storeErr(op, err)
		}
		result = append(result, &r)
	}
	if err = rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return result, nil
}
