// Package vacvpn предоставляет маршруты для основного приложения.
package vacvpn

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/NikitaNevsky/vacvpn/internal/config"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/admin/cancel"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/admin/nodehealth"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/admin/probe"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/balance/topup"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/health"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/node/servers"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/payment/paymentstatus"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/payment/paymentwebhook"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/referral/stats"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/tariff/activate"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/user/checkaccess"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/user/inituser"
	"github.com/NikitaNevsky/vacvpn/internal/http/handlers/user/userdata"
	"github.com/NikitaNevsky/vacvpn/internal/http/middlewarectx"
	"github.com/NikitaNevsky/vacvpn/internal/nodeclient"
	entitlementservice "github.com/NikitaNevsky/vacvpn/internal/services/entitlement"
	provisioningservice "github.com/NikitaNevsky/vacvpn/internal/services/provisioning"
	reconciliationservice "github.com/NikitaNevsky/vacvpn/internal/services/reconciliation"
	referralservice "github.com/NikitaNevsky/vacvpn/internal/services/referral"
	userservice "github.com/NikitaNevsky/vacvpn/internal/services/user"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(
	r chi.Router,
	logger *slog.Logger,
	cfg *config.Config,
	db *repository.Storage,
	users *userservice.Service,
	entitlement *entitlementservice.Service,
	reconciliation *reconciliationservice.Service,
	referrals *referralservice.Service,
	provisioning *provisioningservice.Service,
	nodes *nodeclient.Client,
) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	limiter := rate.NewLimiter(20, 40)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, limiter))
			r.Post("/init-user", inituser.New(logger, users).ServeHTTP)
			r.Get("/user-data/{user_id}", userdata.New(logger, users).ServeHTTP)
			r.Get("/check-user-access/{access_identity}", checkaccess.New(logger, users).ServeHTTP)
			r.Post("/add-balance", topup.New(logger, reconciliation).ServeHTTP)
			r.Post("/activate-tariff", activate.New(logger, reconciliation).ServeHTTP)
			r.Get("/payment-status/{payment_id}", paymentstatus.New(logger, reconciliation).ServeHTTP)
			r.Get("/servers", servers.New(logger, cfg.AccessNodes).ServeHTTP)
			r.Get("/referral-stats/{user_id}", stats.New(logger, referrals).ServeHTTP)
			r.Post("/admin/cancel-subscription/{user_id}", cancel.New(logger, entitlement).ServeHTTP)
			r.Get("/admin/probe-access/{access_identity}", probe.New(logger, provisioning).ServeHTTP)
			r.Get("/admin/nodes-health", nodehealth.New(logger, nodes, cfg.NodeIDs()).ServeHTTP)
		})

		// Webhook endpoint (без лимитера: подлинность гарантируется подписью)
		r.Post("/payments/webhook", paymentwebhook.New(logger, reconciliation, cfg.Gateway.WebhookSecret).ServeHTTP)
	})

	r.Get("/health", health.New(logger, db).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
