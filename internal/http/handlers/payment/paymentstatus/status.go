// Package paymentstatus реализует HTTP-обработчик опроса статуса платежа.
// Это pull-путь сверки: статус запрашивается у шлюза синхронно и, если он
// терминальный, применяется той же идемпотентной логикой, что и webhook.
package paymentstatus

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
	"github.com/NikitaNevsky/vacvpn/internal/models"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

// Handler управляет HTTP-запросами статуса платежа.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service
}

// Service описывает интерфейс бизнес-логики опроса статуса.
type Service interface {
	CheckStatus(ctx context.Context, paymentID string) (*models.Payment, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Проверить статус платежа
// @Description Опрашивает шлюз и применяет терминальный статус, если оплата завершилась. Возвращает актуальную локальную запись платежа.
// @Tags Payments
// @Produce  json
// @Param payment_id path string true "Идентификатор платежа"
// @Success 200 {object} response.Response "Статус платежа"
// @Failure 404 {object} response.ErrorResponse "Платёж не найден"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера или шлюза"
// @Router /payment-status/{payment_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.status"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	paymentID := chi.URLParam(r, "payment_id")
	if paymentID == "" {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("payment_id is required"))
		return
	}

	p, err := h.service.CheckStatus(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("payment not found"))
			return
		}
		log.Error("failed to check payment status", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not check payment status"))
		return
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"payment_id": p.ID,
		"status":     p.Status,
		"amount":     p.Amount,
	}))
}
