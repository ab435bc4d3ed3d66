package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/NikitaNevsky/vacvpn/internal/models"
)

const paymentColumns = `payment_id, user_id, amount, tariff_id, payment_type,
		status, payment_method, gateway_id, selected_node, created_at, confirmed_at`

func scanPayment(row *sql.Row) (*models.Payment, error) {
	p := &models.Payment{}
	var (
		tariffID, gatewayID, selectedNode sql.NullString
		confirmedAt                       sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Amount, &tariffID, &p.PaymentType,
		&p.Status, &p.PaymentMethod, &gatewayID, &selectedNode,
		&p.CreatedAt, &confirmedAt); err != nil {
		return nil, err
	}
	p.TariffID = tariffID.String
	p.GatewayID = gatewayID.String
	p.SelectedNode = selectedNode.String
	if confirmedAt.Valid {
		p.ConfirmedAt = &confirmedAt.Time
	}
	return p, nil
}

// CreatePayment сохраняет новый платёж в статусе pending.
func (s *Storage) CreatePayment(ctx context.Context, p models.Payment) error {
	const op = "storage.CreatePayment"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments (payment_id, user_id, amount, tariff_id,
			      payment_type, status, payment_method, gateway_id, selected_node)
			  VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))`
	if _, err := s.DB.ExecContext(ctx, query,
		p.ID, p.UserID, p.Amount, p.TariffID, p.PaymentType,
		models.PaymentStatusPending, p.PaymentMethod, p.GatewayID,
		p.SelectedNode); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// GetPayment возвращает платёж по локальному идентификатору.
func (s *Storage) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	const op = "storage.GetPayment"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = $1`
	p, err := scanPayment(s.DB.QueryRowContext(ctx, query, paymentID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, ErrPaymentNotFound)
		}
		return nil, storeErr(op, err)
	}
	return p, nil
}

// FindPaymentByGatewayID возвращает платёж по идентификатору, присвоенному
// шлюзом. Используется push-путём, когда уведомление не несёт локального id.
func (s *Storage) FindPaymentByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error) {
	const op = "storage.FindPaymentByGatewayID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_id = $1`
	p, err := scanPayment(s.DB.QueryRowContext(ctx, query, gatewayID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, ErrPaymentNotFound)
		}
		return nil, storeErr(op, err)
	}
	return p, nil
}

// SetPaymentGatewayID записывает идентификатор платежа на стороне шлюза.
func (s *Storage) SetPaymentGatewayID(ctx context.Context, paymentID, gatewayID string) error {
	const op = "storage.SetPaymentGatewayID"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments SET gateway_id = $2 WHERE payment_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, paymentID, gatewayID); err != nil {
		return storeErr(op, err)
	}
	return nil
}

// MarkPaymentTerminal переводит платёж из pending в терминальный статус.
// Переход выполняется не более одного раза: условие status = 'pending'
// гарантирует, что при гонке push- и pull-путей побеждает ровно один, и
// возвращённый false означает, что побочные эффекты применять не нужно.
func (s *Storage) MarkPaymentTerminal(ctx context.Context, paymentID, status, gatewayID string) (bool, error) {
	const op = "storage.MarkPaymentTerminal"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments
			  SET status = $2,
			      gateway_id = COALESCE(NULLIF($3, ''), gateway_id),
			      confirmed_at = CASE WHEN $2 = 'succeeded' THEN now() ELSE confirmed_at END
			  WHERE payment_id = $1 AND status = 'pending'`
	res, err := s.DB.ExecContext(ctx, query, paymentID, status, gatewayID)
	if err != nil {
		return false, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(op, err)
	}
	return n > 0, nil
}
