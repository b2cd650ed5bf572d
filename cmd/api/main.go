package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/pipeline"
)

func main() {
	log := logger.New()
	log.Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := cfg.RequireProviders(true, false); err != nil {
		log.WithError(err).Fatal("missing provider credentials")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY not set, classification will use defaults")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.WithError(err).Fatal("failed to create directories")
	}

	st, err := pipeline.OpenStore(cfg, false, log.Component("store"))
	if err != nil {
		log.WithError(err).Fatal("failed to open record store")
	}
	defer st.Close()

	svc, err := pipeline.FromConfig(cfg, st, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build service")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("folder", cfg.AudioFolder).Info("monitoring inbound folder")
	if err := svc.Run(ctx); err != nil {
		log.WithError(err).Error("service terminated")
		st.Close()
		os.Exit(1)
	}
}
