// Package user реализует жизненный цикл пользователя: регистрацию из
// мини-приложения, выдачу снимка состояния с ленивым списанием дней и
// проверку доступа по идентичности, которую предъявляют узлы.
package user

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/NikitaNevsky/vacvpn/internal/cache"
	"github.com/NikitaNevsky/vacvpn/internal/config"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/models"
	"github.com/NikitaNevsky/vacvpn/internal/services/referral"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

// Снимок пользователя живёт в кеше недолго: списание дней привязано к
// календарным суткам, и минутное окно не даёт наблюдаемой погрешности.
const userCacheTTL = time.Minute

// Repository определяет методы хранилища для жизненного цикла пользователя.
type Repository interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	SetReferralLink(ctx context.Context, userID, link string) error
	FindUserByAccessIdentity(ctx context.Context, accessIdentity string) (*models.User, error)
	ListEntitledUserIDs(ctx context.Context) ([]string, error)
	ListUserGrants(ctx context.Context, userID string) ([]*models.AccessGrant, error)
}

// Entitlement описывает ленивое списание дней подписки.
type Entitlement interface {
	Decay(ctx context.Context, userID string, now time.Time) (bool, error)
}

// ReferralCreditor описывает однократное начисление реферальных бонусов.
type ReferralCreditor interface {
	CreditOnce(ctx context.Context, referrerID, referredID string) (bool, error)
}

// Cache описывает кеш снимков пользователя.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// InitResult возвращается регистрацией пользователя.
type InitResult struct {
	UserID       string `json:"user_id"`
	Created      bool   `json:"created"`
	IsReferral   bool   `json:"is_referral"`
	BonusApplied bool   `json:"bonus_applied"`
	ReferralLink string `json:"referral_link"`
}

// Service реализует жизненный цикл пользователя.
type Service struct {
	repo        Repository
	entitlement Entitlement
	referrals   ReferralCreditor
	cache       Cache
	cfg         config.Referral
	log         *slog.Logger
}

// New создает новый экземпляр сервиса пользователей.
func New(repo Repository, ent Entitlement, ref ReferralCreditor, cch Cache, cfg config.Referral, log *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		entitlement: ent,
		referrals:   ref,
		cache:       cch,
		cfg:         cfg,
		log:         log,
	}
}

// Шаблоны реферального параметра мини-приложения. Исторически ссылка
// менялась несколько раз, поэтому принимаются все встречавшиеся формы.
var referrerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`ref_(\d+)`),
	regexp.MustCompile(`ref(\d+)`),
	regexp.MustCompile(`referral_(\d+)`),
	regexp.MustCompile(`referral(\d+)`),
	regexp.MustCompile(`(\d+)`),
}

// extractReferrerID достаёт идентификатор пригласившего из start-параметра.
func extractReferrerID(startParam string) string {
	if startParam == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(startParam, "ref_"); ok {
		return rest
	}
	for _, re := range referrerPatterns {
		if m := re.FindStringSubmatch(startParam); m != nil {
			return m[1]
		}
	}
	return startParam
}

// InitUser регистрирует пользователя при первом входе в мини-приложение.
// Повторный вызов безопасен: существующему пользователю только достраивается
// реферальная ссылка, если её ещё нет. Реферальный бонус начисляется сразу
// при регистрации по приглашению.
func (s *Service) InitUser(ctx context.Context, req models.InitUserRequest) (*InitResult, error) {
	const op = "user.InitUser"
	log := s.log.With(slog.String("op", op), slog.String("user_id", req.UserID))

	link := s.cfg.LinkBase + req.UserID

	existing, err := s.repo.GetUser(ctx, req.UserID)
	if err == nil {
		if existing.ReferralLink == "" {
			if err := s.repo.SetReferralLink(ctx, req.UserID, link); err != nil {
				log.Warn("failed to backfill referral link", sl.Err(err))
			} else {
				existing.ReferralLink = link
			}
		}
		return &InitResult{
			UserID:       req.UserID,
			Created:      false,
			ReferralLink: existing.ReferralLink,
		}, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	referrerID := extractReferrerID(req.StartParam)
	isReferral := false
	if referrerID != "" && referrerID != req.UserID {
		if _, err := s.repo.GetUser(ctx, referrerID); err == nil {
			isReferral = true
		} else if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
	}

	u := models.User{
		ID:           req.UserID,
		Username:     req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		ReferralLink: link,
	}
	if isReferral {
		u.ReferredBy = referrerID
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	bonusApplied := false
	if isReferral {
		credited, err := s.referrals.CreditOnce(ctx, referrerID, req.UserID)
		if err != nil && !errors.Is(err, referral.ErrNotEligible) {
			log.Error("failed to credit referral bonus", sl.Err(err))
		}
		bonusApplied = credited
	}

	log.Info("user registered",
		slog.Bool("is_referral", isReferral),
		slog.Bool("bonus_applied", bonusApplied))
	return &InitResult{
		UserID:       req.UserID,
		Created:      true,
		IsReferral:   isReferral,
		BonusApplied: bonusApplied,
		ReferralLink: link,
	}, nil
}

// UserData возвращает снимок пользователя, предварительно применив ленивое
// списание дней. Снимок кешируется на короткий срок; мутации инвалидируют
// его через свои сервисы.
func (s *Service) UserData(ctx context.Context, userID string) (*models.User, error) {
	const op = "user.UserData"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID))

	var cached models.User
	if hit, err := s.cache.Get(cache.UserKey(userID), &cached); err != nil {
		log.Warn("user cache lookup failed", sl.Err(err))
	} else if hit {
		return &cached, nil
	}

	if _, err := s.entitlement.Decay(ctx, userID, time.Now()); err != nil {
		return nil, err
	}

	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(cache.UserKey(userID), u, userCacheTTL); err != nil {
		log.Warn("failed to cache user snapshot", sl.Err(err))
	}
	return u, nil
}

// CheckAccess проверяет право доступа по идентичности, которую предъявил
// узел. Перед ответом применяется ленивое списание, поэтому исчерпанная
// подписка отзывается прямо в момент проверки.
func (s *Service) CheckAccess(ctx context.Context, accessIdentity string) (bool, error) {
	const op = "user.CheckAccess"

	u, err := s.repo.FindUserByAccessIdentity(ctx, accessIdentity)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}

	if _, err := s.entitlement.Decay(ctx, u.ID, time.Now()); err != nil {
		return false, err
	}

	u, err = s.repo.GetUser(ctx, u.ID)
	if err != nil {
		return false, err
	}
	return u.Entitled(), nil
}

// ActiveUsers возвращает идентификаторы пользователей с активной подпиской.
func (s *Service) ActiveUsers(ctx context.Context) ([]string, error) {
	return s.repo.ListEntitledUserIDs(ctx)
}

// Grants возвращает зеркала выдач пользователя по узлам.
func (s *Service) Grants(ctx context.Context, userID string) ([]*models.AccessGrant, error) {
	return s.repo.ListUserGrants(ctx, userID)
}
