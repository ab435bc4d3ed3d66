// Package paymentwebhook реализует приём уведомлений платёжного шлюза.
// Подпись уведомления проверяется по HMAC-SHA256 от тела запроса; обработка
// выполняется в фоне, чтобы ответить шлюзу немедленно.
package paymentwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/paymentprovider"
)

// Service описывает интерфейс платёжной сверки для webhook-событий.
type Service interface {
	ProcessGatewayEvent(ctx context.Context, obj paymentprovider.PaymentStatusResponse) error
}

// Handler управляет приёмом webhook-уведомлений шлюза.
type Handler struct {
	log           *slog.Logger // Логгер для записи информации и ошибок
	service       Service
	webhookSecret string // Секрет для проверки подписи
}

// New создает новый Handler с переданными логгером, сервисом и секретом.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
	}
}

// Payload описывает тело уведомления шлюза.
type Payload struct {
	Event  string                                `json:"event"`
	Object paymentprovider.PaymentStatusResponse `json:"object"`
}

// Обрабатываемые события шлюза.
const (
	PaymentSucceeded = "payment.succeeded"
	PaymentCanceled  = "payment.canceled"
)

// verifySignature проверяет подпись webhook (заголовок X-Api-Signature).
func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expectedSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

// ServeHTTP godoc
// @Summary Принять уведомление платёжного шлюза
// @Description Проверяет подпись X-Api-Signature и запускает сверку платежа в фоне. Отвечает шлюзу немедленно.
// @Tags Payments
// @Accept  json
// @Success 200 "Уведомление принято"
// @Failure 400 "Некорректное тело"
// @Failure 401 "Неверная подпись"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(slog.String("op", op))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Api-Signature")
	if signature == "" || !h.verifySignature(body, signature) {
		log.Error("invalid or missing webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch strings.ToLower(payload.Event) {
	case PaymentSucceeded, PaymentCanceled:
		// Шлюзу отвечаем сразу, сверка идёт в фоне со своим дедлайном.
		go func(obj paymentprovider.PaymentStatusResponse) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.service.ProcessGatewayEvent(ctx, obj); err != nil {
				log.Error("failed to process gateway event",
					slog.String("gateway_id", obj.ID), sl.Err(err))
			}
		}(payload.Object)
	default:
		log.Info("ignored webhook event", slog.String("event", payload.Event))
	}

	log.Info("webhook accepted",
		slog.String("event", payload.Event),
		slog.String("gateway_id", payload.Object.ID))
	w.WriteHeader(http.StatusOK)
}
