package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"grit-backend/internal/app"
	"grit-backend/internal/config"
	"grit-backend/internal/db"
	"grit-backend/internal/handlers"
	"grit-backend/internal/router"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrus.SetLevel(level)
	}

	if err := config.LoadConfig(""); err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if err := db.InitDB(); err != nil {
		logrus.WithError(err).Fatal("failed to initialize database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.InitializeContainer(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize services")
	}
	defer container.Shutdown()

	if container.RelayService != nil {
		if err := container.RelayService.Start(ctx); err != nil {
			logrus.WithError(err).Fatal("failed to start bridge relay")
		}
	}

	engine := router.SetupRouter(router.Handlers{
		Market:   handlers.NewMarketHandler(container.MarketService),
		Treasury: handlers.NewTreasuryHandler(container.GovernorService, container.AttributeService),
		Access:   handlers.NewAccessHandler(container.AttributeService),
		Relay:    handlers.NewRelayHandler(container.RelayService),
		DB:       container.DB,
	})

	srv := &http.Server{
		Addr:    config.GetServerAddr(),
		Handler: engine,
	}

	go func() {
		logrus.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("http shutdown failed")
	}
}
