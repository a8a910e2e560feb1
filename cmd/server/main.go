package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mordig101/apqp-history/internal/backend"
	"github.com/Mordig101/apqp-history/internal/config"
	"github.com/Mordig101/apqp-history/internal/export"
	"github.com/Mordig101/apqp-history/internal/history"
	"github.com/Mordig101/apqp-history/internal/middleware"
	"github.com/Mordig101/apqp-history/internal/repository"

	"github.com/rs/cors"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Backend client for the APQP/PPAP REST API
	client := backend.NewClient(cfg.BackendBaseURL, backend.WithTimeout(cfg.RequestTimeout))

	// History service: fetch+flatten pipeline, pagination state, filters
	historyService := history.NewService(client, history.WithPageSize(cfg.DefaultPageSize))

	// Export jobs: in-memory job store plus background workers
	jobRepo := repository.NewExportJobRepository()
	exportOpts := []export.Option{export.WithJobTimeout(cfg.ExportTimeout)}
	if cfg.ExportDirectory != "" {
		exportOpts = append(exportOpts, export.WithExportDirectory(cfg.ExportDirectory))
	}
	exportService := export.NewService(historyService, jobRepo, exportOpts...)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	wrap := func(h http.Handler) http.Handler {
		return corsHandler.Handler(middleware.LoggingMiddleware(middleware.RequestIDMiddleware(h)))
	}

	historyHandler := history.NewHTTPHandler(historyService)
	exportHandler := export.NewHTTPHandler(exportService)

	mux := http.NewServeMux()
	mux.Handle("/history", wrap(historyHandler))
	mux.Handle("/history/", wrap(historyHandler))
	mux.Handle("/exports", wrap(exportHandler))
	mux.Handle("/exports/", wrap(exportHandler))

	server := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting history service on %s", cfg.ServerAddress)
		log.Printf("History feed available at http://localhost%s/history", cfg.ServerAddress)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
