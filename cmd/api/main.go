package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/ledger-service/internal/config"
	"github.com/Dan9191/ledger-service/internal/handler"
	"github.com/Dan9191/ledger-service/internal/integrations/broker"
	"github.com/Dan9191/ledger-service/internal/integrations/scanner"
	"github.com/Dan9191/ledger-service/internal/middleware"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/Dan9191/ledger-service/internal/scheduler"
	"github.com/Dan9191/ledger-service/internal/service"
	"github.com/Dan9191/ledger-service/internal/utils/email"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}
	if err := repository.RunMigrations(cfg.DBConn); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	svc, err := service.NewService(repo, logger, cfg)
	if err != nil {
		logger.Fatalf("Failed to create service: %v", err)
	}

	switch {
	case cfg.AMQP.URL != "":
		amqpClient, err := broker.NewClient(cfg.AMQP, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to broker: %v", err)
		}
		defer amqpClient.Close()
		svc.UseNotifier(amqpClient)
		logger.Info("Notifications are published to the broker")
	case cfg.SMTP.Host != "":
		svc.UseNotifier(email.NewSender(cfg, logger))
		logger.Info("Notifications are sent by email")
	default:
		logger.Warn("No notification sink configured, reports and alerts are disabled")
	}

	if cfg.ScannerURL != "" {
		svc.UseScanner(scanner.NewClient(cfg, logger))
	}

	// Periodic jobs
	sched := scheduler.New(svc.Location(), logger)
	jobs := []struct {
		name, spec string
		job        scheduler.JobFunc
	}{
		{"recurring", cfg.Schedule.Recurring, svc.ProcessDueRecurring},
		{"budget-alerts", cfg.Schedule.Alerts, svc.CheckBudgetAlerts},
		{"monthly-reports", cfg.Schedule.Reports, svc.SendMonthlyReports},
	}
	for _, j := range jobs {
		if err := sched.Register(j.name, j.spec, j.job); err != nil {
			logger.Fatalf("Failed to schedule jobs: %v", err)
		}
	}
	sched.Start()

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(logger))
	handler.NewHandler(svc, logger).RegisterRoutes(r, middleware.AuthMiddleware(svc))

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Infof("Shutdown signal received: %s", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	if err := sched.Stop(ctx); err != nil {
		logger.Errorf("Scheduler did not stop in time: %v", err)
	}
	logger.Info("Server stopped")
}
