// Package reconciliation сводит платёжные события из разных каналов
// (webhook шлюза, опрос статуса, оплата с баланса) к однократному
// применению эффектов платежа. Точка сериализации — переход локальной
// записи платежа из pending в терминальный статус: кто выиграл переход,
// тот и применяет эффекты, остальные каналы видят no-op.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/NikitaNevsky/vacvpn/internal/config"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/metrics"
	"github.com/NikitaNevsky/vacvpn/internal/models"
	"github.com/NikitaNevsky/vacvpn/internal/paymentprovider"
	"github.com/NikitaNevsky/vacvpn/internal/services/referral"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

var (
	// ErrInvalidTariff возвращается при покупке неизвестного тарифа.
	ErrInvalidTariff = errors.New("unknown tariff")
	// ErrInvalidAmount возвращается при сумме пополнения вне допустимых границ.
	ErrInvalidAmount = errors.New("amount out of bounds")
	// ErrUnknownPaymentMethod возвращается при неподдерживаемом способе оплаты.
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
)

// Repository определяет методы хранилища для платёжной сверки.
type Repository interface {
	CreatePayment(ctx context.Context, p models.Payment) error
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	FindPaymentByGatewayID(ctx context.Context, gatewayID string) (*models.Payment, error)
	SetPaymentGatewayID(ctx context.Context, paymentID, gatewayID string) error
	MarkPaymentTerminal(ctx context.Context, paymentID, status, gatewayID string) (bool, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// Ledger описывает транзакционное изменение баланса.
type Ledger interface {
	AdjustBalance(ctx context.Context, userID string, delta float64) error
}

// Entitlement описывает начисление дней подписки.
type Entitlement interface {
	Grant(ctx context.Context, userID string, days int, nodeID string) (string, error)
}

// ReferralCreditor описывает однократное начисление реферальных бонусов.
type ReferralCreditor interface {
	CreditOnce(ctx context.Context, referrerID, referredID string) (bool, error)
}

// Gateway описывает клиент платёжного шлюза.
type Gateway interface {
	CreatePayment(ctx context.Context, idempotenceKey string, reqParams paymentprovider.CreatePaymentRequest) (*paymentprovider.CreatePaymentResponse, error)
	GetPayment(ctx context.Context, gatewayID string) (*paymentprovider.PaymentStatusResponse, error)
}

// Service реализует платёжную сверку.
type Service struct {
	repo        Repository
	ledger      Ledger
	entitlement Entitlement
	referrals   ReferralCreditor
	gateway     Gateway
	cfg         config.Gateway
	tariffs     []config.Tariff
	log         *slog.Logger
}

// New создает новый экземпляр сервиса сверки.
func New(
	repo Repository,
	ldg Ledger,
	ent Entitlement,
	ref ReferralCreditor,
	gateway Gateway,
	cfg config.Gateway,
	tariffs []config.Tariff,
	log *slog.Logger,
) *Service {
	return &Service{
		repo:        repo,
		ledger:      ldg,
		entitlement: ent,
		referrals:   ref,
		gateway:     gateway,
		cfg:         cfg,
		tariffs:     tariffs,
		log:         log,
	}
}

func (s *Service) tariffByID(id string) (config.Tariff, bool) {
	for _, t := range s.tariffs {
		if t.ID == id {
			return t, true
		}
	}
	return config.Tariff{}, false
}

// InitTopUp создаёт пополнение баланса через платёжный шлюз и возвращает
// ссылку подтверждения. Локальная запись создаётся до обращения к шлюзу,
// её ID служит ключом идемпотентности запроса.
func (s *Service) InitTopUp(ctx context.Context, req models.TopUpRequest) (*models.PurchaseResult, error) {
	const op = "reconciliation.InitTopUp"
	log := s.log.With(slog.String("op", op), slog.String("user_id", req.UserID))

	if req.Amount < s.cfg.TopUpMin || req.Amount > s.cfg.TopUpMax {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidAmount)
	}
	if req.PaymentMethod != models.PaymentMethodGateway {
		return nil, fmt.Errorf("%s: %w", op, ErrUnknownPaymentMethod)
	}
	if _, err := s.repo.GetUser(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	payment := models.Payment{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Amount:        req.Amount,
		PaymentType:   models.PaymentTypeBalance,
		Status:        models.PaymentStatusPending,
		PaymentMethod: models.PaymentMethodGateway,
		CreatedAt:     time.Now(),
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	confirmationURL, err := s.createGatewayPayment(ctx, payment,
		fmt.Sprintf("Пополнение баланса VAC VPN на %.2f руб.", req.Amount))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("top-up initiated",
		slog.String("payment_id", payment.ID),
		slog.Float64("amount", req.Amount))
	return &models.PurchaseResult{
		PaymentID:       payment.ID,
		Status:          models.PaymentStatusPending,
		Amount:          req.Amount,
		ConfirmationURL: confirmationURL,
	}, nil
}

// ActivateTariff покупает тариф с баланса либо через шлюз. Оплата с баланса
// завершается синхронно: списание, начисление дней и реферальный бонус
// происходят до ответа. Оплата через шлюз возвращает ссылку подтверждения,
// эффекты применятся при сверке.
func (s *Service) ActivateTariff(ctx context.Context, req models.ActivateTariffRequest) (*models.PurchaseResult, error) {
	const op = "reconciliation.ActivateTariff"
	log := s.log.With(
		slog.String("op", op),
		slog.String("user_id", req.UserID),
		slog.String("tariff", req.Tariff),
	)

	tariff, ok := s.tariffByID(req.Tariff)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidTariff)
	}
	if _, err := s.repo.GetUser(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	payment := models.Payment{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Amount:       tariff.Price,
		TariffID:     tariff.ID,
		PaymentType:  models.PaymentTypeTariff,
		Status:       models.PaymentStatusPending,
		SelectedNode: req.SelectedNode,
		CreatedAt:    time.Now(),
	}

	switch req.PaymentMethod {
	case models.PaymentMethodBalance:
		payment.PaymentMethod = models.PaymentMethodBalance
		if err := s.repo.CreatePayment(ctx, payment); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := s.ledger.AdjustBalance(ctx, req.UserID, -tariff.Price); err != nil {
			// Запись останется pending и никогда не перейдёт в succeeded.
			if markErr := s.markCanceled(ctx, payment.ID); markErr != nil {
				log.Error("failed to cancel unpaid tariff payment", sl.Err(markErr))
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if won, err := s.repo.MarkPaymentTerminal(ctx, payment.ID, models.PaymentStatusSucceeded, ""); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		} else if !won {
			log.Warn("balance payment already terminal", slog.String("payment_id", payment.ID))
			return nil, fmt.Errorf("%s: payment %s already settled", op, payment.ID)
		}
		if _, err := s.entitlement.Grant(ctx, req.UserID, tariff.Days, req.SelectedNode); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		metrics.PaymentsApplied.WithLabelValues(models.PaymentTypeTariff, models.PaymentStatusSucceeded).Inc()
		s.creditReferral(ctx, req.UserID, log)

		log.Info("tariff activated from balance",
			slog.String("payment_id", payment.ID),
			slog.Int("days", tariff.Days))
		return &models.PurchaseResult{
			PaymentID:    payment.ID,
			Status:       models.PaymentStatusSucceeded,
			Amount:       tariff.Price,
			Days:         tariff.Days,
			SelectedNode: req.SelectedNode,
		}, nil

	case models.PaymentMethodGateway:
		payment.PaymentMethod = models.PaymentMethodGateway
		if err := s.repo.CreatePayment(ctx, payment); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		confirmationURL, err := s.createGatewayPayment(ctx, payment,
			fmt.Sprintf("Подписка VAC VPN: %s", tariff.Name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		log.Info("tariff purchase initiated",
			slog.String("payment_id", payment.ID))
		return &models.PurchaseResult{
			PaymentID:       payment.ID,
			Status:          models.PaymentStatusPending,
			Amount:          tariff.Price,
			Days:            tariff.Days,
			SelectedNode:    req.SelectedNode,
			ConfirmationURL: confirmationURL,
		}, nil

	default:
		return nil, fmt.Errorf("%s: %w", op, ErrUnknownPaymentMethod)
	}
}

// createGatewayPayment регистрирует платёж в шлюзе и сохраняет его GatewayID.
func (s *Service) createGatewayPayment(ctx context.Context, p models.Payment, description string) (string, error) {
	resp, err := s.gateway.CreatePayment(ctx, p.ID, paymentprovider.CreatePaymentRequest{
		Amount: paymentprovider.Amount{
			Value:    paymentprovider.FormatAmount(p.Amount),
			Currency: "RUB",
		},
		Confirmation: paymentprovider.Confirmation{
			Type:      "redirect",
			ReturnURL: s.cfg.ReturnURL,
		},
		Capture:     true,
		Description: description,
		Metadata: map[string]string{
			"payment_id":   p.ID,
			"user_id":      p.UserID,
			"payment_type": p.PaymentType,
			"tariff_id":    p.TariffID,
		},
	})
	if err != nil {
		return "", err
	}
	if err := s.repo.SetPaymentGatewayID(ctx, p.ID, resp.ID); err != nil {
		return "", err
	}
	return resp.Confirmation.ConfirmationURL, nil
}

// CheckStatus опрашивает шлюз по сохранённому GatewayID и применяет
// терминальный статус, если шлюз его уже знает. Возвращает актуальную
// локальную запись платежа.
func (s *Service) CheckStatus(ctx context.Context, paymentID string) (*models.Payment, error) {
	const op = "reconciliation.CheckStatus"

	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if payment.Terminal() || payment.GatewayID == "" {
		return payment, nil
	}

	resp, err := s.gateway.GetPayment(ctx, payment.GatewayID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.apply(ctx, payment, resp.Status, resp.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	payment, err = s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payment, nil
}

// ProcessGatewayEvent применяет уведомление шлюза. Платёж разыскивается по
// metadata.payment_id, затем по GatewayID; если локальной записи нет вовсе,
// она синтезируется из уведомления, о чём громко сообщается в лог.
func (s *Service) ProcessGatewayEvent(ctx context.Context, obj paymentprovider.PaymentStatusResponse) error {
	const op = "reconciliation.ProcessGatewayEvent"
	log := s.log.With(slog.String("op", op), slog.String("gateway_id", obj.ID))

	payment, err := s.resolvePayment(ctx, obj)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if payment == nil {
		payment, err = s.synthesizePayment(ctx, obj, log)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if payment == nil {
			// Недостаточно метаданных, событие игнорируется.
			return nil
		}
	}

	if err := s.apply(ctx, payment, obj.Status, obj.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) resolvePayment(ctx context.Context, obj paymentprovider.PaymentStatusResponse) (*models.Payment, error) {
	if id := obj.Metadata["payment_id"]; id != "" {
		p, err := s.repo.GetPayment(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, err
		}
	}

	p, err := s.repo.FindPaymentByGatewayID(ctx, obj.ID)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, nil
	}
	return nil, err
}

// synthesizePayment восстанавливает локальную запись платежа из уведомления
// шлюза. Так быть не должно: каждая запись создаётся до обращения к шлюзу,
// и синтез означает потерю локальной записи или уведомление из чужого
// магазина.
func (s *Service) synthesizePayment(ctx context.Context, obj paymentprovider.PaymentStatusResponse, log *slog.Logger) (*models.Payment, error) {
	userID := obj.Metadata["user_id"]
	if userID == "" {
		log.Error("gateway event has no local payment and no user_id metadata, ignoring")
		return nil, nil
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		log.Error("gateway event references unknown user, ignoring", sl.Err(err))
		return nil, nil
	}

	amount, err := strconv.ParseFloat(obj.Amount.Value, 64)
	if err != nil {
		log.Error("gateway event has malformed amount, ignoring", sl.Err(err))
		return nil, nil
	}

	paymentType := obj.Metadata["payment_type"]
	if paymentType != models.PaymentTypeTariff {
		paymentType = models.PaymentTypeBalance
	}

	payment := models.Payment{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		TariffID:      obj.Metadata["tariff_id"],
		PaymentType:   paymentType,
		Status:        models.PaymentStatusPending,
		PaymentMethod: models.PaymentMethodGateway,
		GatewayID:     obj.ID,
		CreatedAt:     time.Now(),
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	metrics.PaymentsSynthesized.Inc()
	log.Error("synthesized payment record from gateway event, local record was missing",
		slog.String("payment_id", payment.ID),
		slog.String("user_id", userID),
		slog.String("payment_type", paymentType),
		slog.Float64("amount", amount))
	return &payment, nil
}

// apply переводит платёж в терминальный статус и применяет эффекты.
// Нетерминальные статусы шлюза игнорируются. Эффекты применяет ровно тот
// вызов, который выиграл переход из pending.
func (s *Service) apply(ctx context.Context, payment *models.Payment, gatewayStatus, gatewayID string) error {
	const op = "reconciliation.apply"
	log := s.log.With(
		slog.String("op", op),
		slog.String("payment_id", payment.ID),
		slog.String("user_id", payment.UserID),
	)

	var status string
	switch gatewayStatus {
	case models.PaymentStatusSucceeded:
		status = models.PaymentStatusSucceeded
	case models.PaymentStatusCanceled:
		status = models.PaymentStatusCanceled
	default:
		return nil
	}

	if payment.Terminal() {
		return nil
	}

	won, err := s.repo.MarkPaymentTerminal(ctx, payment.ID, status, gatewayID)
	if err != nil {
		return err
	}
	if !won {
		log.Info("payment already settled by another channel")
		return nil
	}

	metrics.PaymentsApplied.WithLabelValues(payment.PaymentType, status).Inc()
	if status == models.PaymentStatusCanceled {
		log.Info("payment canceled")
		return nil
	}

	switch payment.PaymentType {
	case models.PaymentTypeBalance:
		if err := s.ledger.AdjustBalance(ctx, payment.UserID, payment.Amount); err != nil {
			return err
		}
	case models.PaymentTypeTariff:
		tariff, ok := s.tariffByID(payment.TariffID)
		if !ok {
			// Платёж уже помечен как успешный, деньги получены. Начислять
			// нечего, требуется ручной разбор.
			log.Error("succeeded payment references unknown tariff",
				slog.String("tariff_id", payment.TariffID))
			return fmt.Errorf("%s: %w", op, ErrInvalidTariff)
		}
		if _, err := s.entitlement.Grant(ctx, payment.UserID, tariff.Days, payment.SelectedNode); err != nil {
			return err
		}
	}

	s.creditReferral(ctx, payment.UserID, log)
	log.Info("payment applied",
		slog.String("type", payment.PaymentType),
		slog.Float64("amount", payment.Amount))
	return nil
}

// creditReferral пытается начислить реферальный бонус после первого
// успешного платежа приглашённого. Повторные вызовы поглощаются записью-
// маркером, ошибки не влияют на исход платежа.
func (s *Service) creditReferral(ctx context.Context, userID string, log *slog.Logger) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		log.Error("failed to load user for referral crediting", sl.Err(err))
		return
	}
	if u.ReferredBy == "" {
		return
	}

	credited, err := s.referrals.CreditOnce(ctx, u.ReferredBy, userID)
	if err != nil {
		if errors.Is(err, referral.ErrNotEligible) {
			return
		}
		log.Error("failed to credit referral bonus", sl.Err(err))
		return
	}
	if credited {
		log.Info("referral bonus credited", slog.String("referrer_id", u.ReferredBy))
	}
}

func (s *Service) markCanceled(ctx context.Context, paymentID string) error {
	_, err := s.repo.MarkPaymentTerminal(ctx, paymentID, models.PaymentStatusCanceled, "")
	return err
}
