// Package servers реализует HTTP-обработчик списка доступных узлов.
// Отдаются только публичные параметры подключения; служебный URL и ключ
// API узла наружу не выходят.
package servers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/NikitaNevsky/vacvpn/internal/config"
	"github.com/NikitaNevsky/vacvpn/internal/http/response"
)

// NodeView — публичное описание узла в JSON-ответе.
type NodeView struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	PublicKey   string `json:"public_key,omitempty"`
	ShortID     string `json:"short_id,omitempty"`
	SNI         string `json:"sni,omitempty"`
}

// Handler управляет HTTP-запросами списка узлов.
type Handler struct {
	log   *slog.Logger // Логгер для записи информации и ошибок
	nodes []NodeView
}

// New создает новый Handler по списку настроенных узлов.
func New(log *slog.Logger, nodes []config.AccessNode) *Handler {
	views := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, NodeView{
			ID:          n.ID,
			DisplayName: n.DisplayName,
			Address:     n.Address,
			Port:        n.Port,
			PublicKey:   n.PublicKey,
			ShortID:     n.ShortID,
			SNI:         n.SNI,
		})
	}
	return &Handler{log: log, nodes: views}
}

// ServeHTTP godoc
// @Summary Список узлов доступа
// @Description Возвращает публичные параметры подключения всех настроенных узлов.
// @Tags Access
// @Produce  json
// @Success 200 {object} response.Response "Список узлов"
// @Router /servers [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, response.OKWithData(map[string]any{
		"servers": h.nodes,
	}))
}
