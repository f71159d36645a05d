package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/1016qqz/FlagScale/api/rest/handlers"
	"github.com/1016qqz/FlagScale/core/monitoring"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, d handlers.Dispatcher, events handlers.EventSource, metrics *monitoring.MetricsExporter, log logrus.FieldLogger) {
	jobHandler := handlers.NewJobHandler(d, events, log)

	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/dispatch", jobHandler.Dispatch).Methods("POST")
	api.HandleFunc("/jobs/{task}/status", jobHandler.GetStatus).Methods("GET")
	api.HandleFunc("/jobs/{task}/events", jobHandler.GetJobEvents).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	r.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(metrics.GetPrometheusMetrics()))
	}).Methods("GET")
}
