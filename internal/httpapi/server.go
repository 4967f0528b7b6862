package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer applies production timeouts. Websocket connections manage
// their own deadlines once upgraded.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ShutdownServer stops accepting requests and waits up to timeout for
// in-flight ones.
func ShutdownServer(server *http.Server, timeout time.Duration, log *slog.Logger) error {
	log.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", "err", err)
		return err
	}

	log.Info("HTTP server shutdown completed")
	return nil
}
