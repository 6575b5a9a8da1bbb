package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"stratis-backend/internal/logger"
)

// shutdownOnSignal waits for a signal, stops background work, then drains
// the HTTP server. The returned channel closes once every step has
// finished; main must wait on it after ListenAndServe returns, since
// ListenAndServe returns as soon as Shutdown begins.
func shutdownOnSignal(sig <-chan os.Signal, server *http.Server, timeout time.Duration, log *logger.Logger, stopBackground ...func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-sig

		log.Info("Shutting down...")
		// Workers finish their in-flight runs first so no row is left running.
		for _, stop := range stopBackground {
			stop()
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn("HTTP server shutdown incomplete", "error", err)
		}
	}()
	return done
}
