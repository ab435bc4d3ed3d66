// Package stats реализует HTTP-обработчик реферальной статистики
// пользователя: список приглашённых и суммарный заработок.
package stats

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/NikitaNevsky/vacvpn/internal/http/response"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/models"
)

// Handler управляет HTTP-запросами реферальной статистики.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service
}

// Service описывает интерфейс бизнес-логики реферальной статистики.
type Service interface {
	Stats(ctx context.Context, referrerID string) ([]*models.Referral, float64, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// referralView — одно начисление в JSON-ответе.
type referralView struct {
	ReferredID string  `json:"referred_id"`
	Bonus      float64 `json:"bonus"`
}

// ServeHTTP godoc
// @Summary Реферальная статистика
// @Description Возвращает список приглашённых пользователей и суммарный реферальный заработок.
// @Tags Referrals
// @Produce  json
// @Param user_id path string true "Идентификатор пригласившего"
// @Success 200 {object} response.Response "Статистика"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /referral-stats/{user_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.referral.stats"
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

	refs, total, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		log.Error("failed to get referral stats", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get referral stats"))
		return
	}

	views := make([]referralView, 0, len(refs))
	for _, ref := range refs {
		views = append(views, referralView{
			ReferredID: ref.ReferredID,
			Bonus:      ref.ReferrerBonus,
		})
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"referrals":      views,
		"total_earned":   total,
		"referral_count": len(views),
	}))
}
