package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/infodancer/mailmock"
	"github.com/infodancer/mailmock/internal/config"
	"github.com/infodancer/mailmock/internal/logging"
	"github.com/infodancer/mailmock/internal/metrics"
)

// runServe builds the protocol stack and serves until SIGINT or SIGTERM.
func runServe(cfg config.Config) error {
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("metrics server error", "error", err.Error())
			}
		}()
	}

	stack, err := mailmock.NewStack(mailmock.StackConfig{
		Config:    cfg,
		Collector: collector,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if err := stack.Start(); err != nil {
		return err
	}

	logger.Info("mailmock started",
		"hostname", cfg.Hostname,
		"smtp_port", stack.SMTPPort(),
		"pop3_port", stack.POP3Port(),
		"imap_port", stack.IMAPPort(),
		"accounts", len(cfg.Accounts))

	<-ctx.Done()

	stack.Stop()
	logger.Info("mailmock stopped")
	return nil
}
