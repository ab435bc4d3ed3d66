// Package sweeper периодически обходит пользователей с активной подпиской
// и применяет к каждому ленивое списание дней. Обход страхует отзыв доступа
// у пользователей, которые перестали ходить в API: без него их подписка
// числилась бы активной до следующего обращения. Об исчерпанных подписках
// публикуется событие в RabbitMQ для бота уведомлений.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/rabbitmq"
)

// Repository определяет выборку пользователей для обхода.
type Repository interface {
	ListEntitledUserIDs(ctx context.Context) ([]string, error)
}

// Entitlement описывает списание дней подписки.
type Entitlement interface {
	Decay(ctx context.Context, userID string, now time.Time) (bool, error)
}

// ExpiredEvent публикуется при исчерпании подписки обходом.
type ExpiredEvent struct {
	UserID    string    `json:"user_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

// Service реализует периодический обход подписок.
type Service struct {
	repo        Repository
	entitlement Entitlement
	channel     *amqp.Channel
	interval    time.Duration
	log         *slog.Logger
}

// New создает новый экземпляр обходчика.
func New(repo Repository, ent Entitlement, channel *amqp.Channel, interval time.Duration, log *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		entitlement: ent,
		channel:     channel,
		interval:    interval,
		log:         log,
	}
}

// Run выполняет обход сразу при старте и далее по интервалу до отмены
// контекста.
func (s *Service) Run(ctx context.Context) {
	const op = "sweeper.Run"
	log := s.log.With(slog.String("op", op))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info("sweeper started", slog.Duration("interval", s.interval))
	s.sweep(ctx, log)

	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx, log)
		}
	}
}

// sweep один раз проходит по всем активным подпискам. Ошибка по одному
// пользователю не прерывает обход.
func (s *Service) sweep(ctx context.Context, log *slog.Logger) {
	userIDs, err := s.repo.ListEntitledUserIDs(ctx)
	if err != nil {
		log.Error("failed to list entitled users", sl.Err(err))
		return
	}

	now := time.Now()
	var expired int
	for _, userID := range userIDs {
		exhausted, err := s.entitlement.Decay(ctx, userID, now)
		if err != nil {
			log.Error("failed to decay subscription",
				slog.String("user_id", userID), sl.Err(err))
			continue
		}
		if !exhausted {
			continue
		}

		expired++
		s.publishExpired(userID, now, log)
	}

	log.Info("sweep finished",
		slog.Int("checked", len(userIDs)),
		slog.Int("expired", expired))
}

func (s *Service) publishExpired(userID string, now time.Time, log *slog.Logger) {
	if s.channel == nil {
		return
	}
	err := rabbitmq.PublishMessage(s.channel, "notifications", "expired", ExpiredEvent{
		UserID:    userID,
		ExpiredAt: now,
	})
	if err != nil {
		log.Error("failed to publish expiration event",
			slog.String("user_id", userID), sl.Err(err))
	}
}
