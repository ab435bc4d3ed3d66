// Package cancel реализует административный HTTP-обработчик принудительной
// отмены подписки: остаток дней обнуляется, доступ отзывается на всех узлах.
package cancel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/NikitaNevsky/vacvpn/internal/http/response"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

// Handler управляет HTTP-запросами принудительной отмены подписки.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service
}

// Service описывает интерфейс машины состояний подписки.
type Service interface {
	Cancel(ctx context.Context, userID string) error
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Отменить подписку
// @Description Принудительно завершает подписку пользователя и отзывает доступ на всех узлах.
// @Tags Admin
// @Produce  json
// @Param user_id path string true "Идентификатор пользователя"
// @Success 200 {object} response.Response "Подписка отменена"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /admin/cancel-subscription/{user_id} [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.cancel"
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

	if err := h.service.Cancel(r.Context(), userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("user not found"))
			return
		}
		log.Error("failed to cancel subscription", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not cancel subscription"))
		return
	}

	log.Info("subscription canceled", slog.String("user_id", userID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"user_id": userID,
	}))
}
