package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.io/infrasutra/mailroom/internal/api"
	"github.io/infrasutra/mailroom/internal/auth"
	"github.io/infrasutra/mailroom/internal/config"
	"github.io/infrasutra/mailroom/internal/provider"
	"github.io/infrasutra/mailroom/internal/provider/ses"
	"github.io/infrasutra/mailroom/internal/provider/smtp"
	"github.io/infrasutra/mailroom/internal/sse"
	"github.io/infrasutra/mailroom/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg.Logging)

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	authManager, err := auth.NewManager(cfg.AuthSecret, 30*24*time.Hour)
	if err != nil {
		logger.Error("init auth", "error", err)
		os.Exit(1)
	}
	if cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET not set; sessions reset on restart")
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET not set; webhook signatures are not verified")
	}

	var opts []api.Option
	sender, err := outboundSender(ctx, cfg)
	if err != nil {
		logger.Error("init sender", "provider", cfg.Provider, "error", err)
		os.Exit(1)
	}
	if sender != nil {
		opts = append(opts, api.WithSender(sender))
	}
	logger.Info("outbound provider", "provider", cfg.Provider)

	hub := sse.NewHub()
	apiServer, err := api.NewServer(cfg, db, authManager, hub, logger, opts...)
	if err != nil {
		logger.Error("init http server", "error", err)
		os.Exit(1)
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}

// outboundSender returns the sender selected by cfg.Provider. Resend is
// built per request from the stored API key, so it yields nil here.
func outboundSender(ctx context.Context, cfg config.Config) (provider.Sender, error) {
	switch cfg.Provider {
	case config.ProviderSES:
		sender, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return sender, nil
	case config.ProviderSMTP:
		return smtp.New(smtp.Config{
			Addr:     cfg.SMTP.Addr,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		}), nil
	default:
		return nil, nil
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
