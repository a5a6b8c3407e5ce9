// Command meshhub runs the shared-medium hub the simulated units connect
// to. It relays every 8-byte frame a unit sends to every other connected
// unit, behaving like the electrically shared serial bus of the physical
// fabric.
//
// Usage:
//
//	meshhub -addr :9464
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kons-9/shapechangeable-computer/internal/medium"
)

func main() {
	addr := flag.String("addr", ":9464", "listen address")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	hub := medium.NewHub(logger)

	mux := http.NewServeMux()
	mux.Handle("/medium", hub)

	srv := &http.Server{
		Addr:    *addr,
		Handler: mux,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		hub.Close()
		if err := srv.Close(); err != nil {
			logger.Error("server close", "error", err)
		}
	}()

	logger.Info("medium hub listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
