// Package probe реализует административный HTTP-обработчик прямого опроса
// узлов доступа: известна ли узлам идентичность, минуя локальное состояние
// и outbox. Используется для диагностики расхождений между базой и узлами.
package probe

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

// Handler управляет HTTP-запросами диагностического опроса узлов.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс прямого опроса узлов доступа. Пустой nodeID
// означает опрос всех настроенных узлов до первого подтверждения.
type Service interface {
	Probe(ctx context.Context, accessIdentity, nodeID string) (bool, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Опросить узлы доступа об идентичности
// @Description Спрашивает узлы напрямую, известна ли им идентичность. Без параметра node опрашиваются все узлы, достаточно одного подтверждения.
// @Tags Admin
// @Produce  json
// @Param access_identity path string true "Идентичность доступа (UUID)"
// @Param node query string false "Идентификатор конкретного узла"
// @Success 200 {object} response.Response "Результат опроса"
// @Failure 502 {object} response.ErrorResponse "Узлы недоступны"
// @Router /admin/probe-access/{access_identity} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.probe"
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
	nodeID := r.URL.Query().Get("node")

	exists, err := h.service.Probe(r.Context(), accessIdentity, nodeID)
	if err != nil {
		log.Error("node probe failed", sl.Err(err))
		w.WriteHeader(http.StatusBadGateway)
		render.JSON(w, r, response.Error("nodes unreachable"))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"access_identity": accessIdentity,
		"exists":          exists,
	}))
}
