// Package vacvpn собирает приложение: хранилище, кеш, брокер, клиенты
// узлов и платёжного шлюза, бизнес-сервисы и HTTP-сервер. Все зависимости
// создаются здесь и передаются явно, глобального состояния нет.
package vacvpn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/NikitaNevsky/vacvpn/internal/cache"
	"github.com/NikitaNevsky/vacvpn/internal/config"
	"github.com/NikitaNevsky/vacvpn/internal/lib/sl"
	"github.com/NikitaNevsky/vacvpn/internal/migrations"
	"github.com/NikitaNevsky/vacvpn/internal/nodeclient"
	"github.com/NikitaNevsky/vacvpn/internal/paymentprovider"
	"github.com/NikitaNevsky/vacvpn/internal/rabbitmq"
	entitlementservice "github.com/NikitaNevsky/vacvpn/internal/services/entitlement"
	ledgerservice "github.com/NikitaNevsky/vacvpn/internal/services/ledger"
	provisioningservice "github.com/NikitaNevsky/vacvpn/internal/services/provisioning"
	reconciliationservice "github.com/NikitaNevsky/vacvpn/internal/services/reconciliation"
	referralservice "github.com/NikitaNevsky/vacvpn/internal/services/referral"
	sweeperservice "github.com/NikitaNevsky/vacvpn/internal/services/sweeper"
	userservice "github.com/NikitaNevsky/vacvpn/internal/services/user"
	"github.com/NikitaNevsky/vacvpn/internal/storage/repository"
)

// App инкапсулирует HTTP-сервер и фоновые воркеры приложения.
type App struct {
	server       *http.Server
	logger       *slog.Logger
	db           *repository.Storage
	rabbitConn   *amqp.Connection
	provisioning *provisioningservice.Service
	sweeper      *sweeperservice.Service
}

// New создает приложение и все его зависимости.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	var rabbitConn *amqp.Connection
	var rabbitChannel *amqp.Channel
	if cfg.RabbitURL != "" {
		rabbitConn, err = rabbitmq.Connect(cfg.RabbitURL, 5, 3*time.Second)
		if err != nil {
			return nil, err
		}
		rabbitChannel, err = rabbitmq.SetupChannel(rabbitConn, rabbitmq.NotificationQueues())
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("rabbit_url is not set, expiration events will not be published")
	}

	nodes := nodeclient.New(cfg.AccessNodes, cfg.Provisioning.NodeTimeout)
	gateway := paymentprovider.NewClient(cfg.Gateway.ShopID, cfg.Gateway.SecretKey,
		cfg.Gateway.APIURL, cfg.Gateway.Timeout)

	provisioning := provisioningservice.New(db, nodes, cfg.NodeIDs(), cfg.Provisioning, logger)
	ledger := ledgerservice.New(db, cacheRedis, logger)
	entitlement := entitlementservice.New(db, provisioning, cacheRedis, cfg.NodeIDs(), logger)
	referrals := referralservice.New(db, cacheRedis, cfg.Referral, logger)
	reconciliation := reconciliationservice.New(db, ledger, entitlement, referrals,
		gateway, cfg.Gateway, cfg.Tariffs, logger)
	users := userservice.New(db, entitlement, referrals, cacheRedis, cfg.Referral, logger)
	sweeper := sweeperservice.New(db, entitlement, rabbitChannel, cfg.Sweep.Interval, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, db, users, entitlement, reconciliation, referrals,
		provisioning, nodes)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:       srv,
		logger:       logger,
		db:           db,
		rabbitConn:   rabbitConn,
		provisioning: provisioning,
		sweeper:      sweeper,
	}, nil
}

// Run запускает фоновые воркеры и HTTP-сервер; блокируется до отмены
// контекста или фатальной ошибки сервера.
func (a *App) Run(ctx context.Context) error {
	go a.provisioning.Run(ctx)
	go a.sweeper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		if cerr := a.db.DB.Close(); cerr != nil {
			a.logger.Error("failed to close database", sl.Err(cerr))
		}
		if a.rabbitConn != nil {
			if cerr := a.rabbitConn.Close(); cerr != nil {
				a.logger.Error("failed to close rabbitmq connection", sl.Err(cerr))
			}
		}
		return err
	}
}
