// Package ledger реализует атомарное изменение баланса пользователя.
// Операция синхронная и строго согласованная: выполняется в транзакции с
// блокировкой строки пользователя, без отложенных побочных эффектов.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/NikitaNevsky/vacvpn/internal/cache"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/models"
)

// ErrInsufficientBalance возвращается при попытке списать больше, чем есть
// на балансе. Леджер проверяет достаточность сам; предварительные проверки
// вызывающих нужны только для человекочитаемых сообщений.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Repository определяет методы хранилища, нужные леджеру.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	GetUserForUpdateTx(ctx context.Context, tx *sql.Tx, userID string) (*models.User, error)
	UpdateUserBalanceTx(ctx context.Context, tx *sql.Tx, userID string, newBalance float64) error
}

// Cache описывает инвалидацию кеша снимков пользователя.
type Cache interface {
	Invalidate(key string) error
}

// Service реализует леджер.
type Service struct {
	repo  Repository
	cache Cache
	log   *slog.Logger
}

// New создает новый экземпляр леджера.
func New(repo Repository, cache Cache, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// AdjustBalance изменяет баланс пользователя на delta (может быть
// отрицательной). Конкурентные изменения одного пользователя сериализуются
// блокировкой строки: каждая транзакция перечитывает актуальный баланс,
// потерять чужое обновление нельзя.
func (s *Service) AdjustBalance(ctx context.Context, userID string, delta float64) error {
	const op = "ledger.AdjustBalance"

	var newBalance float64
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		u, err := s.repo.GetUserForUpdateTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		newBalance = u.Balance + delta
		if newBalance < 0 {
			return fmt.Errorf("%s: %w: have %.2f, need %.2f",
				op, ErrInsufficientBalance, u.Balance, -delta)
		}
		return s.repo.UpdateUserBalanceTx(ctx, tx, userID, newBalance)
	})
	if err != nil {
		return err
	}

	if err := s.cache.Invalidate(cache.UserKey(userID)); err != nil {
		s.log.Warn("failed to invalidate user cache", sl.Err(err))
	}

	s.log.Info("balance adjusted",
		slog.String("user_id", userID),
		slog.Float64("delta", delta),
		slog.Float64("balance", newBalance))
	return nil
}
