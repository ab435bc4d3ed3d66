// Package inituser реализует HTTP-обработчик регистрации пользователя из
// мини-приложения.
//
// Handler принимает JSON-запрос с данными пользователя Telegram и
// start-параметром, валидирует их, вызывает бизнес-логику регистрации и
// возвращает результат с реферальной ссылкой. Повторный вызов для
// существующего пользователя безопасен.
package inituser

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/NikitaNevsky/vacvpn/internal/http/response"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/models"
	"github.com/NikitaNevsky/vacvpn/internal/services/user"
)

// Handler управляет HTTP-запросами регистрации пользователей.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис бизнес-логики регистрации
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики регистрации пользователя.
type Service interface {
	InitUser(ctx context.Context, req models.InitUserRequest) (*user.InitResult, error)
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
// @Summary Зарегистрировать пользователя
// @Description Создает пользователя при первом входе в мини-приложение и начисляет реферальный бонус по start-параметру. Повторный вызов возвращает существующего пользователя.
// @Tags Users
// @Accept  json
// @Produce  json
// @Param request body models.InitUserRequest true "Данные пользователя Telegram"
// @Success 200 {object} response.Response "Результат регистрации"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера при регистрации"
// @Router /init-user [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.user.inituser"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.InitUserRequest
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

	res, err := h.service.InitUser(r.Context(), req)
	if err != nil {
		log.Error("failed to init user", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not init user"))
		return
	}

	log.Info("user initialized",
		slog.String("user_id", res.UserID),
		slog.Bool("created", res.Created))
	render.JSON(w, r, response.OKWithData(res))
}
