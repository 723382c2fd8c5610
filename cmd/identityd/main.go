package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/audit"
	"github.com/goliatone/go-identity/config"
	"github.com/goliatone/go-identity/metrics"
	"github.com/goliatone/go-identity/middleware/ratelimit"
	"github.com/goliatone/go-identity/notify"
	"github.com/goliatone/go-identity/provider/auth0"
	"github.com/goliatone/go-identity/provider/memory"
	"github.com/goliatone/go-identity/repository"
)

type App struct {
	config    *gconfig.Container[*config.Config]
	repo      *repository.Manager
	authority identity.ExternalAuthority
	notifier  identity.Notifier
	activity  identity.ActivitySink
	metrics   *metrics.Recorder
	service   *identity.Service
	srv       *fiber.App
	logger    *glog.BaseLogger
	closers   []func() error
}

func (a *App) Config() *config.Config {
	return a.config.Raw()
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func configPath() string {
	if p := os.Getenv("IDENTITY_CONFIG"); p != "" {
		return p
	}
	return "config/app.json"
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Info),
		glog.WithName("identityd"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	// validation runs after the environment overrides are applied
	cfg, err := gconfig.New(config.Defaults(),
		gconfig.WithValidation[*config.Config](false),
		gconfig.WithConfigPath[*config.Config](configPath()),
	)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Load(ctx); err != nil {
		panic(err)
	}
	if err := cfg.Raw().ApplyEnv().Validate(); err != nil {
		panic(err)
	}
	lgr.GetLogger("config").Debug("configuration loaded", "path", configPath())

	fmt.Println("============")
	fmt.Println(print.MaybeSecureJSON(cfg.Raw()))
	fmt.Println("============")

	app := &App{
		config: cfg,
		logger: lgr,
	}

	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithMetrics,
		WithActivity,
		WithAuthority,
		WithNotifier,
		WithService,
		WithHTTPServer,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			app.GetLogger("app").Error("startup failed", "error", err)
			app.close()
			os.Exit(1)
		}
	}

	if err := Run(ctx, app); err != nil {
		app.GetLogger("app").Error("server stopped", "error", err)
	}
	app.close()
}

func WithPersistence(ctx context.Context, app *App) error {
	dbCfg := app.Config().Database
	db, err := repository.Open(ctx, repository.DBConfig{
		Driver:       dbCfg.Driver,
		DSN:          dbCfg.DSN,
		MaxOpenConns: dbCfg.MaxOpenConns,
		MaxIdleConns: dbCfg.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	app.onClose(db.Close)

	if dbCfg.Driver == repository.DriverPostgres {
		err = repository.Migrate(db.DB, app.GetLogger("migrate"))
	} else {
		err = repository.CreateSchema(ctx, db)
	}
	if err != nil {
		return err
	}

	app.repo = repository.NewManager(db)
	return app.repo.Validate()
}

func WithMetrics(_ context.Context, app *App) error {
	if !app.Config().Server.Metrics {
		return nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(reg)
	return nil
}

func WithActivity(_ context.Context, app *App) error {
	auditCfg := app.Config().Audit
	sinks := audit.Fanout{}
	if auditCfg.Store {
		sinks = append(sinks, audit.NewStoreSink(app.repo.AuditEvents()))
	}
	if auditCfg.File != "" {
		file := audit.NewFileSink(audit.FileConfig{
			Filename:   auditCfg.File,
			MaxSize:    auditCfg.MaxSize,
			MaxAge:     auditCfg.MaxAge,
			MaxBackups: auditCfg.MaxBackups,
			Compress:   true,
		})
		app.onClose(file.Close)
		sinks = append(sinks, file)
	}
	app.activity = sinks
	return nil
}

func WithAuthority(ctx context.Context, app *App) error {
	authCfg := app.Config().Authority
	switch authCfg.Provider {
	case "auth0":
		cfg := auth0.DefaultConfig(authCfg.Domain, nil)
		cfg.ClientID = authCfg.ClientID
		cfg.ClientSecret = authCfg.ClientSecret
		cfg.LoginClientID = authCfg.LoginClientID
		cfg.LoginClientSecret = authCfg.LoginClientSecret
		cfg.ValidateLoginTokens = authCfg.ValidateLoginTokens
		if authCfg.Connection != "" {
			cfg.Connection = authCfg.Connection
		}
		if authCfg.Audience != "" {
			cfg.Audience = []string{authCfg.Audience}
		}

		authority, err := auth0.NewAuthority(ctx, cfg, auth0.WithLogger(app.GetLogger("auth0")))
		if err != nil {
			return err
		}
		app.authority = authority
	default:
		app.GetLogger("app").Warn("using the in-memory identity authority, remote identities are lost on restart")
		app.authority = memory.NewAuthority()
	}
	return nil
}

func WithNotifier(_ context.Context, app *App) error {
	mailCfg := app.Config().Mail
	logNotifier := notify.NewLogNotifier(app.GetLogger("notify"))
	if !mailCfg.Enabled {
		app.notifier = logNotifier
		return nil
	}

	smtp, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:        mailCfg.Host,
		Port:        mailCfg.Port,
		Username:    mailCfg.Username,
		Password:    mailCfg.Password,
		From:        mailCfg.From,
		ReplyTo:     mailCfg.ReplyTo,
		AdminEmail:  mailCfg.AdminEmail,
		TemplateDir: mailCfg.TemplateDir,
	}, notify.WithLogger(app.GetLogger("notify")))
	if err != nil {
		return err
	}
	app.onClose(func() error {
		smtp.Close()
		return nil
	})
	app.notifier = notify.Multi{logNotifier, smtp}
	return nil
}

func WithService(ctx context.Context, app *App) error {
	cfg := app.Config()

	opts := []identity.Option{
		identity.WithLoggerProvider(app.logger),
		identity.WithActivitySink(app.activity),
	}
	if app.metrics != nil {
		opts = append(opts, identity.WithMetrics(app.metrics))
	}

	svc, err := identity.NewService(app.repo.Stores(), app.authority, app.notifier, identity.ServiceConfig{
		Tokens: identity.TokenConfig{
			SigningKey: []byte(cfg.Tokens.SigningKey),
			Issuer:     cfg.Tokens.Issuer,
			Audience:   cfg.Tokens.Audience,
			AccessTTL:  cfg.Tokens.AccessTTL(),
			RefreshTTL: cfg.Tokens.RefreshTTL(),
		},
		ProfessionalVerification: identity.VerificationMode(cfg.Authority.ProfessionalVerification),
		MaxLoginAttempts:         cfg.Throttle.MaxLoginAttempts,
		CoolDownPeriod:           cfg.Throttle.CoolDownPeriod,
		AdminEmail:               cfg.Mail.AdminEmail,
		OperationTimeout:         cfg.Authority.Timeout(),
	}, opts)
	if err != nil {
		return err
	}
	app.service = svc

	if cfg.Admin.Email != "" {
		if _, err := svc.Registration.BootstrapAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
			return err
		}
	}
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	logger := app.GetLogger("http")

	srv := fiber.New(fiber.Config{
		AppName:               "identityd",
		ErrorHandler:          identity.NewErrorHandler(logger),
		DisableStartupMessage: true,
	})

	if app.metrics != nil {
		srv.Use(app.metrics.Middleware())
		srv.Get("/metrics", app.metrics.Handler())
	}

	opts := []identity.ControllerOption{
		identity.WithControllerLogger(logger),
	}
	if rl := app.Config().RateLimit; rl.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			PerSecond: rl.PerSecond,
			Burst:     rl.Burst,
		})
		opts = append(opts, identity.WithRateLimiter(limiter.Handler()))
		app.onClose(startBackground(limiter.Run))
	}

	identity.NewHTTPController(app.service, opts...).Mount(srv)
	app.srv = srv
	return nil
}

// Run serves HTTP and the refresh token janitor until ctx is done.
func Run(ctx context.Context, app *App) error {
	cfg := app.Config()
	logger := app.GetLogger("app")

	app.onClose(startBackground(func(ctx context.Context) {
		runJanitor(ctx, app)
	}))

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Server.Port)
		errc <- app.srv.Listen(":" + cfg.Server.Port)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return app.srv.ShutdownWithTimeout(cfg.Server.ShutdownTimeout())
}

func runJanitor(ctx context.Context, app *App) {
	cfg := app.Config().Maintenance
	interval := cfg.JanitorInterval()
	if interval <= 0 {
		return
	}
	logger := app.GetLogger("janitor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-cfg.RefreshRetention())
			n, err := app.repo.RefreshTokens().DeleteExpired(ctx, cutoff)
			if err != nil {
				logger.Error("refresh token cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired refresh tokens removed", "count", n)
			}
		}
	}
}

// startBackground runs fn until the returned closer is called.
func startBackground(fn func(context.Context)) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return func() error {
		cancel()
		<-done
		return nil
	}
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.GetLogger("app").Warn("close failed", "error", err)
		}
	}
}
