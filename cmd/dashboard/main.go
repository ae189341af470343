package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"portfolioDash/internal/advisor"
	"portfolioDash/internal/alert"
	"portfolioDash/internal/config"
	"portfolioDash/internal/dashboard"
	"portfolioDash/internal/market"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := config.Load()

	fetcher := market.NewFetcher(market.Options{
		CoinGeckoBase:  cfg.CoinGeckoBaseURL,
		RequestTimeout: cfg.FetchTimeout,
	}, logger)

	var notifier *alert.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		n, err := alert.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram notifier init failed")
		}
		notifier = n
		logger.Info().Msg("telegram rebalance alerts enabled")
	}

	var adv *advisor.Advisor
	if cfg.OpenAIKey != "" {
		adv = advisor.New(cfg.OpenAIKey)
		logger.Info().Msg("advisor commentary enabled")
	}

	srv := dashboard.NewServer(cfg, fetcher, notifier, adv, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}
}
