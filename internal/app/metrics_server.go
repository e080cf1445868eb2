package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// startMetricsServer serves the prometheus registry when metrics are
// enabled. The returned func shuts the server down.
func (a *App) startMetricsServer(ctx context.Context) (func(), error) {
	if a.prom == nil {
		return func() {}, nil
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	listener, err := net.Listen("tcp", a.cfg.Metrics.Address)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("metrics server listening", zap.String("address", listener.Addr().String()), zap.String("path", a.cfg.Metrics.Path))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
