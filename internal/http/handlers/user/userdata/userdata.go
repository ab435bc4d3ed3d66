// Package userdata реализует HTTP-обработчик выдачи снимка пользователя.
//
// Перед ответом сервис применяет ленивое списание дней подписки, поэтому
// снимок всегда отражает актуальный остаток на текущие сутки.
package userdata

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/NikitaNevsky/vacvpn/internal/http/response"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/models"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

// Handler управляет HTTP-запросами снимка пользователя.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service
}

// Service описывает интерфейс бизнес-логики снимка пользователя.
type Service interface {
	UserData(ctx context.Context, userID string) (*models.User, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// UserView — снимок пользователя в JSON-ответе.
type UserView struct {
	UserID           string     `json:"user_id"`
	Username         string     `json:"username,omitempty"`
	FirstName        string     `json:"first_name,omitempty"`
	LastName         string     `json:"last_name,omitempty"`
	Balance          float64    `json:"balance"`
	HasSubscription  bool       `json:"has_subscription"`
	SubscriptionDays int        `json:"subscription_days"`
	SubscriptionEnd  *time.Time `json:"subscription_end,omitempty"`
	AccessIdentity   string     `json:"access_identity,omitempty"`
	PreferredNode    string     `json:"preferred_node,omitempty"`
	ReferralLink     string     `json:"referral_link,omitempty"`
}

func viewOf(u *models.User) UserView {
	return UserView{
		UserID:           u.ID,
		Username:         u.Username,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Balance:          u.Balance,
		HasSubscription:  u.HasSubscription,
		SubscriptionDays: u.SubscriptionDays,
		SubscriptionEnd:  u.SubscriptionEnd,
		AccessIdentity:   u.AccessIdentity,
		PreferredNode:    u.PreferredNode,
		ReferralLink:     u.ReferralLink,
	}
}

// ServeHTTP godoc
// @Summary Получить снимок пользователя
// @Description Возвращает баланс, состояние подписки и реферальную ссылку. Перед ответом применяется ленивое списание дней.
// @Tags Users
// @Produce  json
// @Param user_id path string true "Идентификатор пользователя"
// @Success 200 {object} response.Response "Снимок пользователя"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /user-data/{user_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.user.userdata"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("user_id is required"))
		return
	}

	u, err := h.service.UserData(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			log.Info("user not found", slog.String("user_id", userID))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("user not found"))
			return
		}
		log.Error("failed to get user data", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get user data"))
		return
	}

	render.JSON(w, r, response.OKWithData(viewOf(u)))
}
