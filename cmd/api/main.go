package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/loanledger/pkg/config"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func openStorage(cfg *config.Config) (store.Storage, error) {
	if cfg.DBDriver == config.DriverPostgres {
		return store.NewPostgresStore(cfg.DBConn)
	}
	return store.NewSQLiteStore(cfg.DBConn)
}

// scheduleDueReport runs the due installment report on spec.
func scheduleDueReport(l *ledger.Ledger, spec string, log logrus.FieldLogger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := l.ReportDueInstallments(ctx, models.DateOf(time.Now())); err != nil {
			log.WithError(err).Error("due installment report failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := cfg.NewLogger()

	storage, err := openStorage(cfg)
	if err != nil {
		logger.WithError(err).WithField("driver", cfg.DBDriver).Fatal("Failed to initialize store")
	}
	defer storage.Close()

	m := metrics.New()
	l := ledger.NewLedger(storage, ledger.Options{
		Schedule: cfg.Schedule,
		Policy:   cfg.Policy,
		Logger:   logger,
		Metrics:  m,
	})

	reports, err := scheduleDueReport(l, cfg.DueReportSpec, logger)
	if err != nil {
		logger.WithError(err).WithField("spec", cfg.DueReportSpec).Fatal("Invalid due report schedule")
	}
	reports.Start()

	server := NewServer(l, m, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		logger.Info("Shutting down")
		<-reports.Stop().Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("Graceful shutdown failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"port":   cfg.Port,
		"driver": cfg.DBDriver,
	}).Info("Server starting")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("Server stopped")
	}
}
