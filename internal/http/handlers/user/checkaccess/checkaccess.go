// Package checkaccess реализует HTTP-обработчик проверки права доступа по
// идентичности, которую предъявляет узел доступа. Перед ответом применяется
// ленивое списание дней, поэтому исчерпанная подписка будет отозвана прямо
// в момент проверки.
package checkaccess

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/NikitaNevsky/vacvpn/internal/http/response"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
)

// Handler управляет HTTP-запросами проверки доступа.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service
}

// Service описывает интерфейс бизнес-логики проверки доступа.
type Service interface {
	CheckAccess(ctx context.Context, accessIdentity string) (bool, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Проверить право доступа
// @Description Возвращает, действует ли подписка владельца идентичности. Неизвестная идентичность — не ошибка, а отказ в доступе.
// @Tags Access
// @Produce  json
// @Param access_identity path string true "Идентичность доступа (uuid)"
// @Success 200 {object} response.Response "Результат проверки"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /check-user-access/{access_identity} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.user.checkaccess"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	accessIdentity := chi.URLParam(r, "access_identity")
	if accessIdentity == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("access_identity is required"))
		return
	}

	allowed, err := h.service.CheckAccess(r.Context(), accessIdentity)
	if err != nil {
		log.Error("failed to check access", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not check access"))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"allowed": allowed,
	}))
}
