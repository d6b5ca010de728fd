package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes. metrics and webhook may be nil.
func SetupRoutes(handler *Handler, metrics http.Handler, webhook http.Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}
	if webhook != nil {
		r.Handle("/telegram/webhook", webhook).Methods("POST")
	}

	// Screener routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/candidates", handler.GetCandidates).Methods("GET")
	api.HandleFunc("/snapshots", handler.GetSnapshots).Methods("GET")
	api.HandleFunc("/snapshots/{symbol}", handler.GetSnapshot).Methods("GET")
	api.HandleFunc("/bars/{symbol}", handler.GetBars).Methods("GET")
	api.HandleFunc("/portfolio", handler.GetPortfolio).Methods("GET")
	api.HandleFunc("/runs/latest", handler.GetLatestRun).Methods("GET")
	api.HandleFunc("/runs", handler.ListRuns).Methods("GET")
	api.HandleFunc("/runs", handler.TriggerRun).Methods("POST")

	return r
}
