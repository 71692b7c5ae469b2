package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"hospital/auth"
	"hospital/config"
	"hospital/handlers"
	"hospital/utils"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			newDatabase,
			newRedis,
			newCredentialStore,
			newSessionStore,
			newLimiters,
			newMailer,
			newAuthService,
			newHandler,
			newServer,
		),
		fx.Invoke(func(*http.Server) {}),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	).Run()
}

func newLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := utils.NewLogger(cfg.Env, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	log.Info("environment", zap.String("env", cfg.Env))
	lc.Append(fx.StopHook(func() {
		log.Sync()
	}))
	return log, nil
}

func newDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := utils.OpenDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := utils.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	lc.Append(fx.StopHook(func() {
		log.Info("closing database pool")
		pool.Close()
	}))
	return pool, nil
}

func newRedis(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := utils.OpenRedisPool(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() error {
		log.Info("closing redis client")
		return client.Close()
	}))
	return client, nil
}

func newCredentialStore(pool *pgxpool.Pool) utils.CredentialStore {
	return utils.NewStore(pool)
}

func newSessionStore(client *redis.Client, cfg *config.Config) *utils.SessionStore {
	return utils.NewSessionStore(client, cfg.Auth.SessionTTL)
}

func newLimiters(client *redis.Client, cfg *config.Config) auth.Limiters {
	return auth.Limiters{
		Login:  utils.NewRateLimiter(client, "login", cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow),
		Resend: utils.NewRateLimiter(client, "resend", cfg.Auth.ResendRateLimit, cfg.Auth.ResendRateWindow),
	}
}

func newMailer(cfg *config.Config, log *zap.Logger) utils.Mailer {
	if cfg.Mail.SendGridAPIKey == "" {
		log.Warn("SENDGRID_API_KEY not set, verification emails are only logged")
		return utils.NewLogMailer(log)
	}
	return utils.NewSendGridMailer(cfg.Mail.SendGridAPIKey, cfg.Mail.SendGridHost, cfg.Mail.FromName, cfg.Mail.FromAddress, log)
}

func newAuthService(lc fx.Lifecycle, cfg *config.Config, store utils.CredentialStore, limiters auth.Limiters, mailer utils.Mailer, log *zap.Logger) (*auth.Service, error) {
	svc, err := auth.NewService(store, auth.BcryptHasher{Cost: cfg.Auth.BcryptCost}, limiters, mailer, auth.Options{
		BaseURL:        cfg.BaseURL,
		VerifyTokenTTL: cfg.Auth.VerifyTokenTTL,
		MailTimeout:    cfg.Mail.Timeout,
		UpgradeTimeout: cfg.Auth.UpgradeTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			svc.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return errors.New("password upgrades still running at shutdown")
		}
	}))
	return svc, nil
}

func newHandler(cfg *config.Config, svc *auth.Service, sessions *utils.SessionStore, pool *pgxpool.Pool, client *redis.Client, log *zap.Logger) (*handlers.Handler, error) {
	checks := map[string]handlers.HealthCheck{
		"postgres": pool.Ping,
		"redis": func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
	return handlers.New(svc, sessions, checks, handlers.Options{
		SecureCookies:     cfg.Auth.SecureCookies,
		TrustProxy:        cfg.Auth.TrustProxy,
		UsernameCookieTTL: cfg.Auth.UsernameCookieTTL,
		HSTS:              cfg.IsProduction(),
	}, log)
}

func newServer(lc fx.Lifecycle, cfg *config.Config, h *handlers.Handler, log *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Routes(),
		ErrorLog:          zap.NewStdLog(log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("starting server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
