package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"crewcall/app"
	"crewcall/client"
	"crewcall/internal/config"
	"crewcall/web"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("service exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	schedulerClient := client.NewSchedulerClient(container.Builder, container.Runner, container.Jobs)

	c := cron.New()
	if _, err := c.AddFunc(cfg.RunSchedule, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := schedulerClient.RunOnce(runCtx, nil); err != nil {
			logger.Error("scheduled run failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	c.Start()

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: web.NewServer(schedulerClient, cfg.RunToken, logger).Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}

	// Let the in-flight cron pass finish.
	<-c.Stop().Done()
	return nil
}
