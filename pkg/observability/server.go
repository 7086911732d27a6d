package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ShutdownTimeout bounds how long ServeMetrics waits for in-flight scrapes
const ShutdownTimeout = 5 * time.Second

// ServeMetrics serves /metrics for registry on addr until ctx is done, then
// shuts the server down gracefully
func ServeMetrics(ctx context.Context, addr string, registry *prometheus.Registry, log *logrus.Logger) error {
	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer RecoverPanic(log, "metrics server")
		log.Infof("Serving metrics on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	log.Info("Shutting down metrics server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}
