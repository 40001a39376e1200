package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andreiandoo/epas-sub028/infra/config"
	"github.com/andreiandoo/epas-sub028/infra/logger"
	"github.com/andreiandoo/epas-sub028/infra/opensearch"
	"github.com/andreiandoo/epas-sub028/router"

	_ "github.com/andreiandoo/epas-sub028/provider/euplatesc"
	_ "github.com/andreiandoo/epas-sub028/provider/klarna"
	_ "github.com/andreiandoo/epas-sub028/provider/netopia"
	_ "github.com/andreiandoo/epas-sub028/provider/noda"
	_ "github.com/andreiandoo/epas-sub028/provider/paypal"
	_ "github.com/andreiandoo/epas-sub028/provider/payu"
	_ "github.com/andreiandoo/epas-sub028/provider/revolut"
	_ "github.com/andreiandoo/epas-sub028/provider/sms"
	_ "github.com/andreiandoo/epas-sub028/provider/stripe"
)

func main() {
	config.LoadEnv()
	cfg := config.GetAppConfig()

	var events *opensearch.Logger
	if cfg.EnableLogging {
		client, err := opensearch.NewClient(cfg)
		if err != nil {
			logger.Warn("opensearch unavailable, continuing with console logging only: " + err.Error())
		} else {
			events = opensearch.NewLogger(client)
		}
	}
	logger.InitGlobalLogger(events)

	store, err := config.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to open configuration store", err)
	}
	defer store.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(store, events),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening on port " + cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", err)
	}
}
