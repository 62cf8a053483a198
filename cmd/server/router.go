package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/umar/users-api/internal/events"
	"github.com/umar/users-api/internal/handlers"
	"github.com/umar/users-api/internal/middleware"
)

type routerDeps struct {
	users      http.Handler
	hub        *events.Hub
	health     map[string]handlers.PingFunc
	registry   *prometheus.Registry
	corsOrigin string
	limiter    *middleware.IPRateLimiter
}

func newRouter(d routerDeps) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	if d.registry != nil {
		router.Use(middleware.NewMetrics(d.registry).Middleware)
	}
	router.Use(middleware.CORS(d.corsOrigin))

	router.HandleFunc("/health", handlers.Health(d.health)).Methods("GET", "OPTIONS")
	if d.registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	if d.hub != nil {
		router.HandleFunc("/api/users/events", events.ServeWS(d.hub)).Methods("GET")
	}

	// Every method reaches the users handler; it answers 405 itself.
	users := d.users
	if d.limiter != nil {
		users = d.limiter.Middleware(users)
	}
	router.Handle("/api/users", users)

	return router
}
