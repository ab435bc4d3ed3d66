// Package activate реализует HTTP-обработчик покупки тарифа. Оплата с
// баланса завершается синхронно, оплата через шлюз возвращает ссылку
// подтверждения.
package activate

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
	"github.com/NikitaNevsky/vacvpn/internal/services/ledger"
	"github.com/NikitaNevsky/vacvpn/internal/services/reconciliation"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

// Handler управляет HTTP-запросами покупки тарифа.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис платёжной сверки
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики покупки тарифа.
type Service interface {
	ActivateTariff(ctx context.Context, req models.ActivateTariffRequest) (*models.PurchaseResult, error)
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
// @Summary Купить тариф
// @Description Активирует тариф с баланса либо создает платёж в шлюзе. Дни подписки начисляются после подтверждения оплаты.
// @Tags Tariffs
// @Accept  json
// @Produce  json
// @Param request body models.ActivateTariffRequest true "Параметры покупки"
// @Success 200 {object} response.Response "Результат покупки"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON или неизвестный тариф"
// @Failure 402 {object} response.ErrorResponse "Недостаточно средств"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера или шлюза"
// @Router /activate-tariff [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.tariff.activate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.ActivateTariffRequest
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

	res, err := h.service.ActivateTariff(r.Context(), req)
	switch {
	case errors.Is(err, reconciliation.ErrInvalidTariff):
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("unknown tariff"))
		return
	case errors.Is(err, reconciliation.ErrUnknownPaymentMethod):
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("unknown payment method"))
		return
	case errors.Is(err, ledger.ErrInsufficientBalance):
		log.Info("insufficient balance", slog.String("user_id", req.UserID))
		w.WriteHeader(http.StatusPaymentRequired)
		render.JSON(w, r, response.Error("insufficient balance"))
		return
	case errors.Is(err, repository.ErrUserNotFound):
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	case err != nil:
		log.Error("failed to activate tariff", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not activate tariff"))
		return
	}

	log.Info("tariff activation requested",
		slog.String("user_id", req.UserID),
		slog.String("tariff", req.Tariff),
		slog.String("status", res.Status))
	render.JSON(w, r, response.OKWithData(res))
}
