package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/trogers1052/drawdown-screener/internal/api"
	"github.com/trogers1052/drawdown-screener/internal/brokerage"
	"github.com/trogers1052/drawdown-screener/internal/kafka"
	"github.com/trogers1052/drawdown-screener/internal/models"
	"github.com/trogers1052/drawdown-screener/internal/pipeline"
	"github.com/trogers1052/drawdown-screener/internal/scheduler"
	"github.com/trogers1052/drawdown-screener/internal/secrets"
	"github.com/trogers1052/drawdown-screener/internal/telegram"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and chat bot and run on the daily schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := a.runner()

	var (
		tg   *telegram.Client
		bot  *telegram.Bot
		sent = func(context.Context, string) {}
	)

	cron := cfg.Schedule.Cron
	if !cfg.Schedule.Enabled {
		cron = ""
	}
	sched, err := scheduler.New(cron, cfg.Schedule.Timezone, func(ctx context.Context) error {
		runCtx, cancel := context.WithTimeout(ctx, cfg.Pipeline.RunTimeout)
		defer cancel()
		report, err := runner.Run(runCtx, pipeline.Request{})
		if errors.Is(err, pipeline.ErrRunInProgress) {
			log.Warn().Msg("run lock held by another instance")
			return nil
		}
		if report != nil {
			sent(ctx, telegram.FormatRunReport(report))
		}
		return err
	})
	if err != nil {
		return err
	}

	if cfg.Telegram.Enabled {
		creds, err := secrets.Resolve(ctx, a.secrets, secrets.Requirements{Telegram: true, Alpaca: cfg.Brokerage.Enabled})
		if err != nil {
			return err
		}

		var portfolio brokerage.Client
		if cfg.Brokerage.Enabled && creds.HasAlpaca() {
			portfolio = brokerage.NewAlpacaClient(creds.AlpacaBaseURL, creds.AlpacaKeyID, creds.AlpacaSecretKey,
				brokerage.WithTimeout(cfg.Brokerage.Timeout))
		}

		tg = telegram.NewClient(cfg.Telegram.APIURL, creds.TelegramBotToken, cfg.Telegram.PollTimeout+10*time.Second)
		commands := telegram.NewCommands(a.db, portfolio, sched, cfg.Pipeline.TopN)
		bot = telegram.NewBot(tg, commands, cfg.Telegram.ChatID)

		if cfg.Telegram.ChatID != "" {
			sent = func(ctx context.Context, text string) {
				if err := tg.SendWithRetry(ctx, cfg.Telegram.ChatID, text, 3); err != nil {
					log.Error().Err(err).Msg("failed to send run summary")
				}
			}
		}
	}

	// With a broker, chat notifications come from the event stream instead.
	var consumer *kafka.Consumer
	if tg != nil && cfg.Telegram.ChatID != "" && len(cfg.Kafka.Brokers) > 0 {
		notify := sent
		sent = func(context.Context, string) {}
		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID,
			func(ctx context.Context, event models.ScreenerEvent) error {
				switch event.EventType {
				case models.EventRunCompleted:
					notify(ctx, telegram.FormatRunReport(event.Report))
				case models.EventCandidatesUpdated:
					notify(ctx, telegram.FormatCandidates(event.Candidates))
				}
				return nil
			})
	}

	var webhook http.Handler
	if bot != nil && cfg.Telegram.Mode == "webhook" {
		webhook = bot.WebhookHandler()
	}
	router := api.SetupRoutes(api.NewHandler(a.db, sched), a.metrics.Handler(), webhook)

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched.Start(ctx)
	defer sched.Stop()

	if bot != nil && cfg.Telegram.Mode == "polling" {
		go bot.Poll(ctx, tg, cfg.Telegram.PollTimeout)
	}

	if consumer != nil {
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
