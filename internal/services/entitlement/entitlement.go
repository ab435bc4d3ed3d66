// Package entitlement реализует машину состояний подписки: начисление дней,
// ленивое посуточное списание и принудительную отмену. Все переходы
// выполняются в транзакции с блокировкой строки пользователя, поэтому
// конкурентные Grant/Decay/Cancel по одному пользователю линеаризуются.
// Рассылка на узлы доступа — отложенный побочный эффект: её ошибки никогда
// не доходят до вызывающего.
package entitlement

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/NikitaNevsky/vacvpn/internal/cache"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/metrics"
	"github.com/NikitaNevsky/vacvpn/internal/models"
)

// Repository определяет методы хранилища, нужные машине состояний.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	GetUserForUpdateTx(ctx context.Context, tx *sql.Tx, userID string) (*models.User, error)
	UpdateUserEntitlementTx(ctx context.Context, tx *sql.Tx, userID string, upd models.EntitlementUpdate) error
	DeactivateUserGrants(ctx context.Context, userID string) error
}

// Provisioner рассылает выдачу/отзыв идентичности по узлам доступа.
type Provisioner interface {
	Propagate(ctx context.Context, accessIdentity, userID string, nodeIDs []string, action string) error
}

// Cache описывает инвалидацию кеша снимков пользователя.
type Cache interface {
	Invalidate(key string) error
}

// Service реализует машину состояний подписки.
type Service struct {
	repo    Repository
	prov    Provisioner
	cache   Cache
	nodeIDs []string // все настроенные узлы доступа
	log     *slog.Logger
}

// New создает новый экземпляр машины состояний.
func New(repo Repository, prov Provisioner, cache Cache, nodeIDs []string, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		prov:    prov,
		cache:   cache,
		nodeIDs: nodeIDs,
		log:     log,
	}
}

// truncateToDay приводит момент времени к началу суток UTC; списание дней
// работает с гранулярностью в календарный день.
func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Grant начисляет пользователю days дней подписки и возвращает его
// идентичность доступа, генерируя её при первом начислении. После фиксации
// транзакции выдача рассылается на запрошенный узел (или на все узлы),
// ошибки рассылки логируются и не влияют на результат.
func (s *Service) Grant(ctx context.Context, userID string, days int, nodeID string) (string, error) {
	const op = "entitlement.Grant"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID))

	now := time.Now()
	var identity string
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		u, err := s.repo.GetUserForUpdateTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		identity = u.AccessIdentity
		if identity == "" {
			identity = uuid.NewString()
		}

		newDays := u.SubscriptionDays + days
		hasSubscription := u.HasSubscription
		if !hasSubscription && days > 0 {
			hasSubscription = true
		}

		start := u.SubscriptionStart
		if hasSubscription && start == nil {
			start = &now
		}
		end := now.AddDate(0, 0, newDays)
		today := truncateToDay(now)

		return s.repo.UpdateUserEntitlementTx(ctx, tx, userID, models.EntitlementUpdate{
			SubscriptionDays:     newDays,
			HasSubscription:      hasSubscription,
			SubscriptionStart:    start,
			SubscriptionEnd:      &end,
			LastEntitlementCheck: &today,
			AccessIdentity:       identity,
		})
	})
	if err != nil {
		return "", err
	}

	if err := s.cache.Invalidate(cache.UserKey(userID)); err != nil {
		log.Warn("failed to invalidate user cache", sl.Err(err))
	}

	nodes := s.nodeIDs
	if nodeID != "" {
		nodes = []string{nodeID}
	}
	if err := s.prov.Propagate(ctx, identity, userID, nodes, models.ProvisionActionGrant); err != nil {
		log.Error("failed to enqueue provisioning", sl.Err(err))
	}

	log.Info("subscription days granted",
		slog.Int("days", days),
		slog.String("access_identity", identity))
	return identity, nil
}

// Decay применяет ленивое списание дней на момент now. Списание идемпотентно
// в пределах календарного дня: повторный вызов в тот же день ничего не
// меняет. Первое наблюдение пользователя только ставит отметку, не списывая
// дни. Возвращает true, если подписка исчерпалась этим вызовом.
func (s *Service) Decay(ctx context.Context, userID string, now time.Time) (bool, error) {
	const op = "entitlement.Decay"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID))

	var (
		exhausted bool
		identity  string
	)
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		u, err := s.repo.GetUserForUpdateTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		identity = u.AccessIdentity

		if !u.HasSubscription || u.SubscriptionDays <= 0 {
			return nil
		}

		today := truncateToDay(now)
		if u.LastEntitlementCheck == nil {
			// Первая отметка: не наказываем за промежуток между созданием
			// пользователя и первой проверкой.
			return s.repo.UpdateUserEntitlementTx(ctx, tx, userID, models.EntitlementUpdate{
				SubscriptionDays:     u.SubscriptionDays,
				HasSubscription:      u.HasSubscription,
				SubscriptionStart:    u.SubscriptionStart,
				SubscriptionEnd:      u.SubscriptionEnd,
				LastEntitlementCheck: &today,
				AccessIdentity:       u.AccessIdentity,
			})
		}

		daysPassed := int(today.Sub(truncateToDay(*u.LastEntitlementCheck)).Hours() / 24)
		if daysPassed <= 0 {
			return nil
		}

		newDays := u.SubscriptionDays - daysPassed
		if newDays < 0 {
			newDays = 0
		}

		upd := models.EntitlementUpdate{
			SubscriptionDays:     newDays,
			HasSubscription:      u.HasSubscription,
			SubscriptionStart:    u.SubscriptionStart,
			SubscriptionEnd:      u.SubscriptionEnd,
			LastEntitlementCheck: &today,
			AccessIdentity:       u.AccessIdentity,
		}
		if newDays == 0 {
			upd.HasSubscription = false
			upd.SubscriptionEnd = &now
			exhausted = true
		}
		return s.repo.UpdateUserEntitlementTx(ctx, tx, userID, upd)
	})
	if err != nil {
		return false, err
	}

	if err := s.cache.Invalidate(cache.UserKey(userID)); err != nil {
		log.Warn("failed to invalidate user cache", sl.Err(err))
	}

	if exhausted {
		metrics.SubscriptionsExpired.Inc()
		s.revoke(ctx, userID, identity, log)
		log.Info("subscription exhausted")
	}
	return exhausted, nil
}

// Cancel принудительно завершает подписку независимо от остатка дней.
// Побочные эффекты те же, что и при естественном исчерпании.
func (s *Service) Cancel(ctx context.Context, userID string) error {
	const op = "entitlement.Cancel"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID))

	now := time.Now()
	var identity string
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		u, err := s.repo.GetUserForUpdateTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		identity = u.AccessIdentity
		today := truncateToDay(now)

		// Дата первой активации информационная и переживает отмену.
		return s.repo.UpdateUserEntitlementTx(ctx, tx, userID, models.EntitlementUpdate{
			SubscriptionDays:     0,
			HasSubscription:      false,
			SubscriptionStart:    u.SubscriptionStart,
			SubscriptionEnd:      &now,
			LastEntitlementCheck: &today,
			AccessIdentity:       u.AccessIdentity,
		})
	})
	if err != nil {
		return err
	}

	if err := s.cache.Invalidate(cache.UserKey(userID)); err != nil {
		log.Warn("failed to invalidate user cache", sl.Err(err))
	}

	s.revoke(ctx, userID, identity, log)
	log.Info("subscription canceled")
	return nil
}

// revoke деактивирует зеркала выдач и ставит отзыв по всем узлам в outbox.
func (s *Service) revoke(ctx context.Context, userID, identity string, log *slog.Logger) {
	if err := s.repo.DeactivateUserGrants(ctx, userID); err != nil {
		log.Error("failed to deactivate access grants", sl.Err(err))
	}
	if identity == "" {
		return
	}
	if err := s.prov.Propagate(ctx, identity, userID, s.nodeIDs, models.ProvisionActionRevoke); err != nil {
		log.Error("failed to enqueue revocation", sl.Err(err))
	}
}
