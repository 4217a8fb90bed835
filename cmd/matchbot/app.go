package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/auth"
	"github.com/spec-kit/matchbot/internal/config"
	"github.com/spec-kit/matchbot/internal/conversation"
	"github.com/spec-kit/matchbot/internal/events"
	"github.com/spec-kit/matchbot/internal/lock"
	"github.com/spec-kit/matchbot/internal/matching"
	"github.com/spec-kit/matchbot/internal/media"
	"github.com/spec-kit/matchbot/internal/observability"
	"github.com/spec-kit/matchbot/internal/paynow"
	"github.com/spec-kit/matchbot/internal/persistence"
	"github.com/spec-kit/matchbot/internal/repository"
	"github.com/spec-kit/matchbot/internal/rules"
	"github.com/spec-kit/matchbot/internal/service"
	"github.com/spec-kit/matchbot/internal/whatsapp"
	"github.com/spec-kit/matchbot/internal/worker"
)

var errNoDSN = errors.New("POSTGRES_DSN is required")

// application holds the wired object graph shared by the subcommands.
type application struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	postgres *persistence.Postgres
	redis    *persistence.Redis

	tokens        *auth.TokenManager
	paynow        *paynow.Client
	settlement    *service.SettlementService
	notifications *service.NotificationService
	conversation  *service.ConversationService
	admin         *service.AdminService
	reconciler    *worker.Reconciler
}

func connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*persistence.Postgres, error) {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	if pg.PoolHandle() == nil {
		return nil, errNoDSN
	}
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return pg, nil
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	pg, err := connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	r, err := rules.Load(cfg.Matching.RulesFile)
	if err == nil {
		err = r.EnableFlows(cfg.Matching.EnableFlows...)
	}
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("load rules: %w", err)
	}
	archive, err := media.New(ctx, cfg.Storage, logger)
	if err != nil {
		pg.Close()
		return nil, err
	}

	a := &application{
		cfg:      cfg,
		logger:   logger,
		metrics:  observability.NewMetrics(),
		postgres: pg,
		redis:    persistence.NewRedis(ctx, cfg.Redis, logger),
		tokens:   auth.NewTokenManager(cfg.Auth.CallbackJWTSecret, cfg.Auth.CallbackTokenTTL()),
		paynow:   paynow.NewClient(cfg.Paynow),
	}

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)
	turnRepo := repository.NewTurnRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	applicationRepo := repository.NewApplicationRepository(pool)
	dispatcher := events.NewInMemoryDispatcher()

	var sender whatsapp.Sender = whatsapp.LogSender{Logger: logger.Named("whatsapp")}
	if green := whatsapp.NewGreenAPI(cfg.WhatsApp, logger); green.Configured() {
		sender = green
	} else {
		logger.Warn("green api credentials missing; outbound messages are only logged")
	}

	var (
		locker  lock.Locker  = lock.NewLocalLocker()
		deduper lock.Deduper = lock.NewLocalDeduper()
	)
	if a.redis.Available() {
		locker = lock.NewRedisLocker(a.redis.Client, "matchbot:turn:")
		deduper = lock.NewRedisDeduper(a.redis.Client, "matchbot:msg:")
	}

	matches := service.NewMatchService(service.MatchDependencies{
		ProfileRepo: profileRepo,
		Engine:      matching.NewEngine(r),
		Rules:       r,
		Limit:       cfg.Matching.Limit,
	})
	payments := service.NewPaymentService(service.PaymentDependencies{
		PaymentRepo:   paymentRepo,
		Provider:      a.paynow,
		Tokens:        a.tokens,
		Dispatcher:    dispatcher,
		Logger:        logger,
		Prices:        cfg.Pricing.Cents,
		PublicBaseURL: cfg.App.PublicBaseURL,
		Timeout:       cfg.Paynow.Timeout(),
	})
	a.settlement = service.NewSettlementService(service.SettlementDependencies{
		PaymentRepo:    paymentRepo,
		Poller:         payments,
		Dispatcher:     dispatcher,
		Logger:         logger,
		PaymentTimeout: cfg.Reconciler.PaymentTimeout(),
	})
	a.notifications = service.NewNotificationService(service.NotificationDependencies{
		Dispatcher:  dispatcher,
		Logger:      logger,
		UserRepo:    userRepo,
		ProfileRepo: profileRepo,
		Matches:     matches,
		Sender:      sender,
		Archive:     archive,
		Metrics:     a.metrics,
	})
	a.conversation = service.NewConversationService(service.ConversationDependencies{
		Machine: conversation.New(conversation.Options{
			Rules:         r,
			Prices:        cfg.Pricing.Cents,
			PaymentWindow: cfg.Reconciler.PaymentTimeout(),
		}),
		UserRepo:    userRepo,
		ProfileRepo: profileRepo,
		TurnRepo:    turnRepo,
		Matches:     matches,
		Payments:    payments,
		Settlement:  a.settlement,
		Sender:      sender,
		Archive:     archive,
		Locker:      locker,
		Deduper:     deduper,
		Dispatcher:  dispatcher,
		Metrics:     a.metrics,
		Logger:      logger,
		LockTTL:     cfg.Redis.TurnLockTTL(),
		DedupeTTL:   cfg.Redis.DedupeTTL(),
	})
	a.reconciler = worker.NewReconciler(worker.ReconcilerDependencies{
		PaymentRepo: paymentRepo,
		Settler:     a.settlement,
		Logger:      logger,
		Metrics:     a.metrics,
		Interval:    cfg.Reconciler.Interval(),
		Concurrency: cfg.Reconciler.Concurrency,
	})
	a.admin = service.NewAdminService(service.AdminDependencies{
		UserRepo:        userRepo,
		PaymentRepo:     paymentRepo,
		ApplicationRepo: applicationRepo,
		Reconciler:      a.reconciler,
		Metrics:         a.metrics,
	})
	return a, nil
}

func (a *application) Close() {
	a.redis.Close()
	a.postgres.Close()
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if d := cfg.App.RequestTimeout(); d > 0 {
		return d + 5*time.Second
	}
	return 10 * time.Second
}
