package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"serviceelectro.org/internal/account"
	"serviceelectro.org/internal/auth"
	"serviceelectro.org/internal/config"
	"serviceelectro.org/internal/httpapi"
	"serviceelectro.org/internal/messaging"
	"serviceelectro.org/internal/migrate"
	"serviceelectro.org/internal/moderation"
	"serviceelectro.org/internal/notify"
	"serviceelectro.org/internal/obs"
	"serviceelectro.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type stores struct {
	accounts      account.Store
	publications  moderation.Store
	notifications notify.Store
	messages      messaging.Store
	probe         httpapi.ReadyProbe
	close         func() error
}

func main() {
	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("load config")
	}
	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("build logger")
	}
	logger = logger.With().Str("service", "serviceelectro-api").Logger()
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
	logger.Info().Msg("stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn().Err(err).Msg("close stores")
		}
	}()

	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	tokens, err := auth.NewTokenService(cfg.AuthSecret, auth.WithIssuer(cfg.AuthIssuer), auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(st.notifications, notify.WithLogger(logger))
	engine := moderation.NewEngine(st.publications,
		moderation.WithOwners(account.Directory{Store: st.accounts}),
		moderation.WithNotifier(dispatcher),
		moderation.WithLogger(logger),
	)
	messages := messaging.NewService(st.messages,
		messaging.WithAccounts(account.Directory{Store: st.accounts}),
		messaging.WithLogger(logger),
	)
	accounts := account.NewService(st.accounts, hasher,
		account.WithOwnedContent(engine),
		account.WithOwnedContent(messages),
		account.WithLogger(logger),
	)
	if _, err := accounts.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminUsername); err != nil {
		return err
	}

	api := httpapi.New(st.probe, version, httpapi.Services{
		Auth:          auth.NewService(st.accounts, hasher, tokens, auth.WithLogger(logger)),
		Accounts:      accounts,
		Moderation:    engine,
		Notifications: dispatcher,
		Messages:      messages,
	},
		httpapi.WithUploadDir(cfg.UploadDir),
		httpapi.WithLoginRateLimit(cfg.LoginRateBurst, cfg.LoginRatePerSec),
		httpapi.WithAllowedOrigins(cfg.AllowedOrigins()...),
		httpapi.WithLogger(logger),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCHealth(st.probe, logger)
	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = httpapi.NewGRPCServer(health)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		health.Run(gctx, 5*time.Second)
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcSrv != nil {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return err
			}
			logger.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
			return grpcSrv.Serve(lis)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, logger zerolog.Logger) (stores, error) {
	if cfg.InMemory() {
		logger.Warn().Msg("no database configured, using in-memory stores")
		return stores{
			accounts:      account.NewInMemory(),
			publications:  moderation.NewInMemory(),
			notifications: notify.NewInMemory(),
			messages:      messaging.NewInMemory(),
			close:         func() error { return nil },
		}, nil
	}

	db, err := pg.Open(cfg.DatabaseDSN)
	if err != nil {
		return stores{}, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	if cfg.MigrateOnStart {
		if err := migrate.NewManager(db.DB(), migrate.WithLogger(logger)).Up(ctx); err != nil {
			_ = db.Close()
			return stores{}, err
		}
	}
	return stores{
		accounts:      db,
		publications:  db,
		notifications: db,
		messages:      db,
		probe:         httpapi.ReadyProbe{DB: db.DB()},
		close:         db.Close,
	}, nil
}
