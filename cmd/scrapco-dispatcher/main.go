// Command scrapco-dispatcher runs the ScrapCo Dispatcher Core: the HTTP
// API, the vendor callback handlers, and the expiry sweeper, all wired
// over one Store Gateway connection and one metrics scope.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/callback"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/config"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/dispatch"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/httpapi"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/offertransport"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/store"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/sweeper"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/telemetry"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/vendordir"
)

const shutdownGrace = 15 * time.Second

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway, err := store.New(ctx, cfg.StoreURL)
	if err != nil {
		log.WithError(err).Fatal("connect to store")
	}
	if closer, ok := gateway.(interface{ Close() }); ok {
		defer closer.Close()
	}

	scope, metricsHandler, metricsCloser, err := telemetry.NewPrometheusScope()
	if err != nil {
		log.WithError(err).Fatal("set up metrics scope")
	}
	defer metricsCloser.Close()
	metrics := telemetry.New(scope)

	transport := offertransport.New(cfg.OutboundBearerToken, cfg.IsProduction())
	vendors := vendordir.New(gateway)
	engine := dispatch.New(gateway, vendors, transport, metrics)

	sweep := sweeper.New(gateway, engine, metrics)
	go sweep.Run(ctx)

	api := httpapi.New(gateway, engine, vendors, metrics, cfg.CustomerServiceToken, cfg.IsProduction())
	cb := callback.New(gateway, engine, cfg.VendorWebhookSecret, metrics)
	router := httpapi.Router(api, cb, metricsHandler)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("scrapco-dispatcher listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}
