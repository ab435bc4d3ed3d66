// Package provisioning доставляет выдачи и отзывы идентичностей до узлов
// доступа через durable outbox. Запись в outbox происходит синхронно с
// бизнес-операцией, доставка — асинхронно воркером с ограниченными
// повторами. Отказ одного узла не задерживает доставку на остальные.
package provisioning

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/NikitaNevsky/vacvpn/internal/config"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/metrics"
	"github.com/NikitaNevsky/vacvpn/internal/models"
)

// Repository определяет методы хранилища для очереди доставки и зеркала выдач.
type Repository interface {
	EnqueueProvision(ctx context.Context, accessIdentity, userID string, nodeIDs []string, action string) error
	DueProvisionJobs(ctx context.Context, now time.Time, limit int) ([]*models.ProvisionJob, error)
	MarkProvisionDone(ctx context.Context, id int64) error
	RescheduleProvision(ctx context.Context, id int64, attempts int, nextAttempt time.Time) error
	UpsertAccessGrant(ctx context.Context, g models.AccessGrant) error
}

// NodeClient описывает API узла доступа.
type NodeClient interface {
	AddUser(ctx context.Context, nodeID, accessIdentity string) error
	RemoveUser(ctx context.Context, nodeID, accessIdentity string) error
	CheckUser(ctx context.Context, nodeID, accessIdentity string) (bool, error)
}

// Service реализует постановку заданий в outbox и их доставку.
type Service struct {
	repo    Repository
	nodes   NodeClient
	nodeIDs []string
	cfg     config.Provisioning
	log     *slog.Logger
	wake    chan struct{}
}

// New создает новый экземпляр сервиса доставки.
func New(repo Repository, nodes NodeClient, nodeIDs []string, cfg config.Provisioning, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		nodes:   nodes,
		nodeIDs: nodeIDs,
		cfg:     cfg,
		log:     log,
		wake:    make(chan struct{}, 1),
	}
}

// Propagate ставит по заданию на каждый узел и будит воркер. Сами задания
// становятся видимыми доставке сразу, ошибки узлов обрабатываются воркером.
func (s *Service) Propagate(ctx context.Context, accessIdentity, userID string, nodeIDs []string, action string) error {
	const op = "provisioning.Propagate"

	if err := s.repo.EnqueueProvision(ctx, accessIdentity, userID, nodeIDs, action); err != nil {
		return err
	}

	s.log.Debug("provision jobs enqueued",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("action", action),
		slog.Int("nodes", len(nodeIDs)))

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Probe спрашивает узлы напрямую, минуя outbox, известна ли им идентичность.
// При пустом nodeID опрашиваются все настроенные узлы; достаточно одного
// подтверждения. Диагностическая операция для админской ручки.
func (s *Service) Probe(ctx context.Context, accessIdentity, nodeID string) (bool, error) {
	const op = "provisioning.Probe"

	if nodeID != "" {
		return s.nodes.CheckUser(ctx, nodeID, accessIdentity)
	}

	var lastErr error
	answered := false
	for _, id := range s.nodeIDs {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.NodeTimeout)
		exists, err := s.nodes.CheckUser(callCtx, id, accessIdentity)
		cancel()
		if err != nil {
			s.log.Warn("node probe failed",
				slog.String("op", op), sl.Node(id), sl.Err(err))
			lastErr = err
			continue
		}
		answered = true
		if exists {
			return true, nil
		}
	}
	if !answered && lastErr != nil {
		return false, lastErr
	}
	return false, nil
}

// Run крутит цикл доставки до отмены контекста. Просроченные задания
// выбираются пачками и доставляются конкурентно, по горутине на задание.
func (s *Service) Run(ctx context.Context) {
	const op = "provisioning.Run"
	log := s.log.With(slog.String("op", op))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	log.Info("provisioning worker started",
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Int("max_attempts", s.cfg.MaxAttempts))

	for {
		s.deliverDue(ctx, log)

		select {
		case <-ctx.Done():
			log.Info("provisioning worker stopped")
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

func (s *Service) deliverDue(ctx context.Context, log *slog.Logger) {
	jobs, err := s.repo.DueProvisionJobs(ctx, time.Now(), s.cfg.BatchSize)
	if err != nil {
		log.Error("failed to fetch due provision jobs", sl.Err(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job *models.ProvisionJob) {
			defer wg.Done()
			s.processJob(ctx, job)
		}(job)
	}
	wg.Wait()
}

// processJob выполняет одну попытку доставки задания на его узел.
func (s *Service) processJob(ctx context.Context, job *models.ProvisionJob) {
	const op = "provisioning.processJob"
	log := s.log.With(
		slog.String("op", op),
		slog.Int64("job_id", job.ID),
		sl.Node(job.NodeID),
		slog.String("action", job.Action),
		slog.String("user_id", job.UserID),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.NodeTimeout)
	defer cancel()

	var err error
	switch job.Action {
	case models.ProvisionActionGrant:
		err = s.nodes.AddUser(callCtx, job.NodeID, job.AccessIdentity)
	case models.ProvisionActionRevoke:
		err = s.nodes.RemoveUser(callCtx, job.NodeID, job.AccessIdentity)
	default:
		log.Error("unknown provision action, dropping job")
		if err := s.repo.MarkProvisionDone(ctx, job.ID); err != nil {
			log.Error("failed to drop malformed job", sl.Err(err))
		}
		return
	}

	if err != nil {
		metrics.ProvisionAttempts.WithLabelValues(job.NodeID, job.Action, "error").Inc()
		s.retryOrGiveUp(ctx, job, err, log)
		return
	}

	metrics.ProvisionAttempts.WithLabelValues(job.NodeID, job.Action, "ok").Inc()

	if err := s.repo.MarkProvisionDone(ctx, job.ID); err != nil {
		// Задание выполнится повторно, узловые операции идемпотентны.
		log.Error("failed to mark provision job done", sl.Err(err))
		return
	}

	if err := s.repo.UpsertAccessGrant(ctx, models.AccessGrant{
		UserID:         job.UserID,
		NodeID:         job.NodeID,
		AccessIdentity: job.AccessIdentity,
		IsActive:       job.Action == models.ProvisionActionGrant,
		UpdatedAt:      time.Now(),
	}); err != nil {
		log.Error("failed to mirror access grant", sl.Err(err))
	}

	log.Info("provision job delivered", slog.Int("attempts", job.Attempts+1))
}

// retryOrGiveUp переназначает задание с линейно растущей задержкой либо
// снимает его после исчерпания попыток.
func (s *Service) retryOrGiveUp(ctx context.Context, job *models.ProvisionJob, cause error, log *slog.Logger) {
	attempts := job.Attempts + 1
	if attempts >= s.cfg.MaxAttempts {
		log.Error("provision job exhausted retries, giving up",
			sl.Err(cause), slog.Int("attempts", attempts))
		if err := s.repo.MarkProvisionDone(ctx, job.ID); err != nil {
			log.Error("failed to retire exhausted job", sl.Err(err))
		}
		return
	}

	next := time.Now().Add(s.cfg.Backoff * time.Duration(attempts))
	log.Warn("provision attempt failed, rescheduling",
		sl.Err(cause),
		slog.Int("attempts", attempts),
		slog.Time("next_attempt", next))
	if err := s.repo.RescheduleProvision(ctx, job.ID, attempts, next); err != nil {
		log.Error("failed to reschedule provision job", sl.Err(err))
	}
}
