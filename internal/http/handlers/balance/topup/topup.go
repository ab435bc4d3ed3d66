// Package topup реализует HTTP-обработчик пополнения баланса через
// платёжный шлюз. Возвращает ссылку подтверждения, по которой пользователь
// завершает оплату; баланс пополняется при сверке платежа.
package topup

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/NikitaNevsky/vacvpn/internal/http/response"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/models"
	"github.com/NikitaNevsky/vacvpn/internal/services/reconciliation"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

// Handler управляет HTTP-запросами пополнения баланса.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис платёжной сверки
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики пополнения баланса.
type Service interface {
	InitTopUp(ctx context.Context, req models.TopUpRequest) (*models.PurchaseResult, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Пополнить баланс
// @Description Создает платёж в шлюзе и возвращает ссылку подтверждения. Баланс пополняется после подтверждения оплаты.
// @Tags Balance
// @Accept  json
// @Produce  json
// @Param request body models.TopUpRequest true "Параметры пополнения"
// @Success 200 {object} response.Response "Платёж создан"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON или сумма вне границ"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера или шлюза"
// @Router /add-balance [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.balance.topup"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	res, err := h.service.InitTopUp(r.Context(), req)
	switch {
	case errors.Is(err, reconciliation.ErrInvalidAmount):
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("amount out of bounds"))
		return
	case errors.Is(err, reconciliation.ErrUnknownPaymentMethod):
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("unknown payment method"))
		return
	case errors.Is(err, repository.ErrUserNotFound):
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	case err != nil:
		log.Error("failed to init top-up", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not create payment"))
		return
	}

	log.Info("top-up payment created",
		slog.String("payment_id", res.PaymentID),
		slog.Float64("amount", res.Amount))
	render.JSON(w, r, response.OKWithData(res))
}
