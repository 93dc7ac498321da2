// Command mockbackend runs a development receipt-validation server so host
// applications can exercise the SDK end to end without the hosted backend.
// Entitlements are kept in memory and derived from the products purchased;
// repeated submissions of the same transaction ID are idempotent.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"purchasekit/internal/platform/httpserver"
	"purchasekit/internal/platform/logger"
)

func main() {
	log := logger.New()

	addr := os.Getenv("PURCHASEKIT_MOCK_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	h := newHandler(log)

	router := chi.NewRouter()
	router.Post("/v1/validate-receipt", h.handleValidateReceipt)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(addr, router)

	log.Info("starting mock receipt backend", "addr", addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
