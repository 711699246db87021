package skhttp

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skatterlabs/skatter/internal/broker"
)

func RegisterDebugHandlers(r *mux.Router, state func() broker.State, version, commit, buildDate string) {
	r.Handle("/debug/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/health", HealthHandler(state)).Methods(http.MethodGet)
	r.Handle("/debug/health", HealthHandler(state)).Methods(http.MethodGet)
	r.Handle("/debug/about", AboutHandler(version, commit, buildDate)).Methods(http.MethodGet)
}

func RegisterQueryHandler(r *mux.Router, h QueryHandler) {
	r.HandleFunc("/query", h.Query).Methods(http.MethodPost)
}

func RegisterAPIHandlers(r *mux.Router, h APIHandler) {
	r.HandleFunc("/api/v0/tables", h.TablesList).Methods(http.MethodGet)
	r.HandleFunc("/api/v0/routing", h.RoutingSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/debug/routingTable", h.RoutingSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/v0/endpoints", h.Endpoints).Methods(http.MethodGet)

	r.HandleFunc("/api/v0/executions/{table_name}", h.Executions).Methods(http.MethodGet)
	r.HandleFunc("/api/v0/execution/{query_id}", h.Execution).Methods(http.MethodGet)
}
