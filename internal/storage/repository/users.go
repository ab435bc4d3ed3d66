package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/NikitaNevsky/vacvpn/internal/models"
)

const userColumns = `user_id, username, first_name, last_name, balance,
		has_subscription, subscription_days, subscription_start, subscription_end,
		access_identity, preferred_node, last_entitlement_check, referred_by,
		referral_link, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var (
		username, firstName, lastName sql.NullString
		subStart, subEnd, lastCheck   sql.NullTime
		accessIdentity, preferredNode sql.NullString
		referredBy, referralLink      sql.NullString
	)
	if err := row.Scan(&u.ID, &username, &firstName, &lastName, &u.Balance,
		&u.HasSubscription, &u.SubscriptionDays, &subStart, &subEnd,
		&accessIdentity, &preferredNode, &lastCheck, &referredBy,
		&referralLink, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Username = username.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.AccessIdentity = accessIdentity.String
	u.PreferredNode = preferredNode.String
	u.ReferredBy = referredBy.String
	u.ReferralLink = referralLink.String
	if subStart.Valid {
		u.SubscriptionStart = &subStart.Time
	}
	if subEnd.Valid {
		u.SubscriptionEnd = &subEnd.Time
	}
	if lastCheck.Valid {
		u.LastEntitlementCheck = &lastCheck.Time
	}
	return u, nil
}

// CreateUser сохраняет нового пользователя.
func (s *Storage) CreateUser(ctx context.Context, user models.User) error {
	const op = "storage.CreateUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (user_id, username, first_name, last_name, balance,
			      has_subscription, subscription_days, referred_by, referral_link,
			      last_entitlement_check)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), CURRENT_DATE)`
	if _, err := s.DB.ExecContext(ctx, query,
		user.ID, user.Username, user.FirstName, user.LastName, user.Balance,
		user.HasSubscription, user.SubscriptionDays, user.ReferredBy,
		user.ReferralLink); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Storage) GetUser(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.GetUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, storeErr(op, err)
	}
	return u, nil
}

// GetUserForUpdateTx читает пользователя с блокировкой строки. Конкурентные
// изменения одного пользователя (Grant/Decay/леджер) сериализуются на этой
// блокировке, поэтому каждое перечитывает актуальное состояние.
func (s *Storage) GetUserForUpdateTx(ctx context.Context, tx *sql.Tx, userID string) (*models.User, error) {
	const op = "storage.GetUserForUpdateTx"

	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1 FOR UPDATE`
	u, err := scanUser(tx.QueryRowContext(ctx, query, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, storeErr(op, err)
	}
	return u, nil
}

// UpdateUserBalanceTx выставляет новое значение баланса внутри транзакции,
// в которой строка уже заблокирована.
func (s *Storage) UpdateUserBalanceTx(ctx context.Context, tx *sql.Tx, userID string, newBalance float64) error {
	const op = "storage.UpdateUserBalanceTx"

	query := `UPDATE users SET balance = $2, updated_at = now() WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, query, userID, newBalance); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// UpdateUserEntitlementTx применяет изменение подписочного состояния.
func (s *Storage) UpdateUserEntitlementTx(ctx context.Context, tx *sql.Tx, userID string, upd models.EntitlementUpdate) error {
	const op = "storage.UpdateUserEntitlementTx"

	query := `UPDATE users
			  SET subscription_days = $2,
			      has_subscription = $3,
			      subscription_start = $4,
			      subscription_end = $5,
			      last_entitlement_check = $6,
			      access_identity = NULLIF($7, '')::uuid,
			      updated_at = now()
			  WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, query, userID,
		upd.SubscriptionDays, upd.HasSubscription, upd.SubscriptionStart,
		upd.SubscriptionEnd, upd.LastEntitlementCheck, upd.AccessIdentity); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// FindUserByAccessIdentity возвращает пользователя по идентичности доступа.
func (s *Storage) FindUserByAccessIdentity(ctx context.Context, accessIdentity string) (*models.User, error) {
	const op = "storage.FindUserByAccessIdentity"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE access_identity = $1::uuid`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, accessIdentity))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return nil, storeErr(op, err)
	}
	return u, nil
}

// ListEntitledUserIDs возвращает идентификаторы всех пользователей с
// активной подпиской; используется периодическим обходом.
func (s *Storage) ListEntitledUserIDs(ctx context.Context) ([]string, error) {
	const op = "storage.ListEntitledUserIDs"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT user_id FROM users WHERE has_subscription = TRUE ORDER BY user_id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, storeErr(op, err)
		}
		result = append(result, id)
	}
	if err = rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return result, nil
}

// SetReferralLink сохраняет реферальную ссылку пользователя, если она ещё
// не выставлена.
func (s *Storage) SetReferralLink(ctx context.Context, userID, link string) error {
	const op = "storage.SetReferralLink"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET referral_link = $2, updated_at = now()
			  WHERE user_id = $1 AND referral_link IS NULL`
	if _, err := s.DB.ExecContext(ctx, query, userID, link); err != nil {
		return storeErr(op, err)
	}
	return nil
}
