package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/occasion-ledger/internal/applog"
	"github.com/iliyamo/occasion-ledger/internal/config"
	"github.com/iliyamo/occasion-ledger/internal/database"
	"github.com/iliyamo/occasion-ledger/internal/handler"
	"github.com/iliyamo/occasion-ledger/internal/ledger"
	"github.com/iliyamo/occasion-ledger/internal/middleware"
	"github.com/iliyamo/occasion-ledger/internal/queue"
	"github.com/iliyamo/occasion-ledger/internal/repository"
	"github.com/iliyamo/occasion-ledger/internal/router"
	"github.com/iliyamo/occasion-ledger/internal/service"
	"github.com/iliyamo/occasion-ledger/internal/utils"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine; the environment wins

	cfg := config.Load()
	logger := applog.New(cfg.LogLevel)

	var configured string
	if cfg.LedgerOwner != "" {
		addr, ok := utils.NormalizeAddress(cfg.LedgerOwner)
		if !ok {
			logger.Fatalf("LEDGER_OWNER %q is not a valid address", cfg.LedgerOwner)
		}
		configured = addr
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.WithError(err).Fatal("open database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		logger.WithError(err).Fatal("migrate database")
	}

	ledgerRepo := repository.NewLedgerRepo(db, logger)
	accounts := repository.NewAccountRepo(db, logger)
	brokerCfg := config.LoadBrokerConfig()
	publisher := service.NewPublisher(brokerCfg, logger)

	meta, err := ledgerRepo.ResolveOwner(ctx, configured, cfg.LedgerName, cfg.LedgerSymbol)
	if err != nil {
		logger.WithError(err).Fatal("resolve ledger owner")
	}
	owner := meta.Owner
	if cfg.OwnerEmail != "" {
		acct, created, err := accounts.EnsureAccount(ctx, cfg.OwnerEmail, cfg.OwnerPassword, owner, cfg.BcryptCost)
		if err != nil {
			logger.WithError(err).Fatal("bootstrap owner account")
		}
		if created {
			logger.WithField("email", acct.Email).WithField("owner", owner).Info("owner account created")
		}
	}

	l := ledger.New(ledger.Identity(owner),
		ledger.WithName(meta.Name),
		ledger.WithSymbol(meta.Symbol),
		ledger.WithJournal(ledgerRepo),
		ledger.WithPayee(publisher),
	)
	snap, err := ledgerRepo.LoadSnapshot(ctx)
	if err != nil {
		logger.WithError(err).Fatal("load ledger history")
	}
	if err := l.Restore(snap); err != nil {
		logger.WithError(err).Fatal("restore ledger")
	}
	if n, err := ledgerRepo.ResumePending(ctx, publisher); err != nil {
		logger.WithError(err).WithField("resent", n).Warn("pending payouts not all delivered")
	} else if n > 0 {
		logger.WithField("resent", n).Info("pending payouts delivered")
	}
	logger.WithField("occasions", l.TotalOccasions()).
		WithField("tickets", l.TotalSupply()).
		WithField("owner", owner).
		Info("ledger restored")

	rdb := config.NewRedisClient(logger)
	if rdb != nil {
		defer rdb.Close()
	}

	go func() {
		if err := queue.StartLedgerConsumer(ctx, brokerCfg, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("ledger consumer stopped")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(middleware.RequestLogger(logger, http.StatusInternalServerError))

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg,
		accounts,
		repository.NewTokenRepo(db),
		logger,
	), cfg.JWTSecret)
	router.RegisterLedger(e, handler.NewLedgerHandler(l, publisher, logger), router.Deps{
		JWTSecret: cfg.JWTSecret,
		Cache:     config.LoadCacheConfig(),
		RateLimit: config.LoadRateLimitConfig(),
		Redis:     rdb,
		Logger:    logger,
	})

	addr := ":" + cfg.Port
	go func() {
		logger.Infof("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
}
