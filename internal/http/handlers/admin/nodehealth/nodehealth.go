// Package nodehealth реализует административный HTTP-обработчик проверки
// живости узлов доступа. Узлы опрашиваются по одному, отказ одного узла не
// скрывает состояние остальных.
package nodehealth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/NikitaNevsky/vacvpn/internal/http/response"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
)

// Pinger описывает проверку живости одного узла доступа.
type Pinger interface {
	Health(ctx context.Context, nodeID string) error
}

// Handler управляет HTTP-запросами проверки живости узлов.
type Handler struct {
	log     *slog.Logger
	nodes   Pinger
	nodeIDs []string
}

// New создает новый Handler для переданного списка узлов.
func New(log *slog.Logger, nodes Pinger, nodeIDs []string) *Handler {
	return &Handler{log: log, nodes: nodes, nodeIDs: nodeIDs}
}

// nodeStatus — состояние одного узла в JSON-ответе.
type nodeStatus struct {
	NodeID string `json:"node_id"`
	Alive  bool   `json:"alive"`
	Error  string `json:"error,omitempty"`
}

// ServeHTTP godoc
// @Summary Проверить живость узлов доступа
// @Description Опрашивает админ-API каждого настроенного узла и возвращает их состояние.
// @Tags Admin
// @Produce  json
// @Success 200 {object} response.Response "Состояние узлов"
// @Router /admin/nodes-health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.nodehealth"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	statuses := make([]nodeStatus, 0, len(h.nodeIDs))
	alive := 0
	for _, id := range h.nodeIDs {
		st := nodeStatus{NodeID: id, Alive: true}
		if err := h.nodes.Health(r.Context(), id); err != nil {
			log.Warn("node health check failed", sl.Node(id), sl.Err(err))
			st.Alive = false
			st.Error = err.Error()
		} else {
			alive++
		}
		statuses = append(statuses, st)
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"nodes": statuses,
		"alive": alive,
		"total": len(h.nodeIDs),
	}))
}
