// Package api implements Cortex's HTTP surface (spec §6), grounded on
// original_source/main.py's endpoint table and on rcourtman-Pulse's
// internal/api router shape: a bare http.ServeMux with Go 1.22+
// method+path patterns, a bearer-token auth middleware, and an additive
// /metrics endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/cortexhq/cortex/internal/discovery"
	"github.com/cortexhq/cortex/internal/investigation"
	"github.com/cortexhq/cortex/internal/knowledge"
	"github.com/cortexhq/cortex/internal/notify"
	"github.com/cortexhq/cortex/internal/refdocs"
)

const version = "1.0"

// Router wires every HTTP endpoint over Cortex's components.
type Router struct {
	mux       *http.ServeMux
	store     *knowledge.Store
	engine    *investigation.Engine
	discovery *discovery.Pipeline
	notifier  *notify.Notifier
	docs      *refdocs.Loader
	apiToken  string
}

// New builds a Router with every route registered.
func New(store *knowledge.Store, engine *investigation.Engine, disc *discovery.Pipeline, notifier *notify.Notifier, docs *refdocs.Loader, apiToken string) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		store:     store,
		engine:    engine,
		discovery: disc,
		notifier:  notifier,
		docs:      docs,
		apiToken:  apiToken,
	}
	r.routes()
	return r
}

// ServeHTTP makes Router an http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	r.mux.HandleFunc("GET /status", r.authed(r.handleStatus))
	r.mux.HandleFunc("GET /services", r.authed(r.handleListServices))
	r.mux.HandleFunc("GET /services/{name}", r.authed(r.handleGetService))
	r.mux.HandleFunc("GET /services/{name}/diagnose", r.authed(r.handleDiagnose))
	r.mux.HandleFunc("GET /incidents", r.authed(r.handleListIncidents))
	r.mux.HandleFunc("GET /incidents/{id}", r.authed(r.handleGetIncident))
	r.mux.HandleFunc("GET /docs", r.authed(r.handleListDocs))
	r.mux.HandleFunc("POST /discover", r.authed(r.handleTriggerDiscovery))
	r.mux.HandleFunc("POST /webhooks/railway", r.handleRailwayWebhook)
}

// authed wraps a handler with bearer-token auth. An empty apiToken runs the
// endpoint in open/dev mode, matching original_source/main.py's verify_token.
func (r *Router) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.apiToken == "" {
			next(w, req)
			return
		}
		if req.Header.Get("Authorization") != "Bearer "+r.apiToken {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, req)
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Router) handleRailwayWebhook(w http.ResponseWriter, req *http.Request) {
	var body map[string]any
	if err := decodeJSON(req, &body); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "invalid json"})
		return
	}

	eventType, _ := body["type"].(string)
	status, _ := body["status"].(string)
	serviceName := extractServiceName(body)

	r.store.Log("webhook", serviceName, "Railway webhook: "+eventType+" "+status, body)

	switch status {
	case "FAILED", "CRASHED", "ERROR":
		if serviceName != "" {
			if _, ok := r.store.GetService(serviceName); ok {
				ctx := context.Background()
				incident := r.engine.Investigate(ctx, serviceName, "Deploy "+eventType+" with status "+status)
				r.notifier.SendIncident(ctx, incident)
				writeJSON(w, http.StatusOK, map[string]any{"status": "diagnosed", "incident_id": incident.ID})
				return
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "logged"})
}

func extractServiceName(body map[string]any) string {
	if svc, ok := body["service"].(map[string]any); ok {
		if name, ok := svc["name"].(string); ok && name != "" {
			return name
		}
	}
	if meta, ok := body["meta"].(map[string]any); ok {
		if name, ok := meta["serviceName"].(string); ok {
			return name
		}
	}
	return ""
}

func (r *Router) handleTriggerDiscovery(w http.ResponseWriter, req *http.Request) {
	if err := r.discovery.RunAll(req.Context()); err != nil {
		log.Error().Err(err).Msg("api: discovery run failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "complete",
		"services": len(r.store.ListServices()),
		"flags":    len(r.store.ListFlags("")),
	})
}
