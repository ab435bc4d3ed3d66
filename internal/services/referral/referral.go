// Package referral начисляет разовые бонусы за приглашение. Оба зачисления
// и запись-маркер создаются в одной транзакции, поэтому бонус по паре
// (пригласивший, приглашённый) либо начисляется целиком один раз, либо не
// начисляется вовсе.
package referral

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/NikitaNevsky/vacvpn/internal/cache"
	"github.com/NikitaNevsky/vacvpn/internal/config"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/models"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

// ErrNotEligible означает, что пара не подходит под реферальную программу.
var ErrNotEligible = errors.New("referral not eligible")

// Repository определяет методы хранилища для реферальных начислений.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	GetUserForUpdateTx(ctx context.Context, tx *sql.Tx, userID string) (*models.User, error)
	UpdateUserBalanceTx(ctx context.Context, tx *sql.Tx, userID string, newBalance float64) error
	InsertReferralTx(ctx context.Context, tx *sql.Tx, ref models.Referral) (bool, error)
	ListReferrals(ctx context.Context, referrerID string) ([]*models.Referral, error)
}

// Cache описывает инвалидацию кеша снимков пользователя.
type Cache interface {
	Invalidate(key string) error
}

// Service реализует реферальные начисления.
type Service struct {
	repo  Repository
	cache Cache
	cfg   config.Referral
	log   *slog.Logger
}

// New создает новый экземпляр реферального сервиса.
func New(repo Repository, cache Cache, cfg config.Referral, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		cfg:   cfg,
		log:   log,
	}
}

// CreditOnce начисляет бонусы паре (referrerID, referredID). Возвращает
// false без ошибки, если пара уже была начислена: повторный вызов безопасен
// на любом пути, который может сработать дважды. Самоприглашение и
// несуществующий пригласивший дают ErrNotEligible.
func (s *Service) CreditOnce(ctx context.Context, referrerID, referredID string) (bool, error) {
	const op = "referral.CreditOnce"
	log := s.log.With(
		slog.String("op", op),
		slog.String("referrer_id", referrerID),
		slog.String("referred_id", referredID),
	)

	if referrerID == "" || referredID == "" || referrerID == referredID {
		return false, ErrNotEligible
	}

	var credited bool
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		// Блокируем стороны в фиксированном порядке ключей, чтобы два
		// встречных начисления не взяли блокировки крест-накрест.
		firstID, secondID := referrerID, referredID
		if secondID < firstID {
			firstID, secondID = secondID, firstID
		}

		users := make(map[string]*models.User, 2)
		for _, id := range []string{firstID, secondID} {
			u, err := s.repo.GetUserForUpdateTx(ctx, tx, id)
			if err != nil {
				if errors.Is(err, repository.ErrUserNotFound) {
					return ErrNotEligible
				}
				return err
			}
			users[id] = u
		}

		inserted, err := s.repo.InsertReferralTx(ctx, tx, models.Referral{
			ID:            models.ReferralID(referrerID, referredID),
			ReferrerID:    referrerID,
			ReferredID:    referredID,
			ReferrerBonus: s.cfg.ReferrerBonus,
			ReferredBonus: s.cfg.ReferredBonus,
			CreatedAt:     time.Now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		referrer := users[referrerID]
		referred := users[referredID]
		if err := s.repo.UpdateUserBalanceTx(ctx, tx, referrerID, referrer.Balance+s.cfg.ReferrerBonus); err != nil {
			return err
		}
		if err := s.repo.UpdateUserBalanceTx(ctx, tx, referredID, referred.Balance+s.cfg.ReferredBonus); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !credited {
		return false, nil
	}

	for _, id := range []string{referrerID, referredID} {
		if err := s.cache.Invalidate(cache.UserKey(id)); err != nil {
			log.Warn("failed to invalidate user cache", sl.Err(err))
		}
	}

	log.Info("referral bonuses credited",
		slog.Float64("referrer_bonus", s.cfg.ReferrerBonus),
		slog.Float64("referred_bonus", s.cfg.ReferredBonus))
	return true, nil
}

// Stats возвращает список начислений пригласившего и суммарный заработок.
func (s *Service) Stats(ctx context.Context, referrerID string) ([]*models.Referral, float64, error) {
	refs, err := s.repo.ListReferrals(ctx, referrerID)
	if err != nil {
		return nil, 0, err
	}
	var total float64
	for _, r := range refs {
		total += r.ReferrerBonus
	}
	return refs, total, nil
}
