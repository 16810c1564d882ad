package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"yield-rebalance-agent/internal/config"
	"yield-rebalance-agent/internal/database"
	"yield-rebalance-agent/internal/logger"
	"yield-rebalance-agent/internal/store"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	router := NewRouter(NewAPIHandler(log, store.New(db)))

	addr := fmt.Sprintf(":%d", cfg.Server.UIPort)
	log.Info("Starting web server", zap.String("address", addr))

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		log.Fatal("Web server failed", zap.Error(err))
	}
}

// NewRouter wires the dashboard API endpoints.
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/events", h.EventsHandler).Methods(http.MethodGet)
	api.HandleFunc("/scores", h.ScoresHandler).Methods(http.MethodGet)
	api.HandleFunc("/statistics", h.StatisticsHandler).Methods(http.MethodGet)
	return router
}
