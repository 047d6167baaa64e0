package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cortexhq/cortex/internal/refdocs"
)

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	services := r.store.ListServices()
	flags := r.store.ListFlags("")
	incidents := r.store.ListRecentIncidents("", 5)

	summaries := make([]map[string]any, 0, len(services))
	for _, s := range services {
		summaries = append(summaries, map[string]any{
			"name":   s.Name,
			"type":   s.Type,
			"stack":  s.Stack,
			"status": s.LastStatus,
		})
	}

	openFlags := flags
	if len(openFlags) > 10 {
		openFlags = openFlags[:10]
	}
	flagSummaries := make([]map[string]any, 0, len(openFlags))
	for _, f := range openFlags {
		flagSummaries = append(flagSummaries, map[string]any{
			"service": f.Service,
			"type":    f.Type,
			"message": f.Message,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"services":          len(services),
		"flags":             len(flags),
		"recent_incidents":  len(incidents),
		"services_summary":  summaries,
		"open_flags":        flagSummaries,
	})
}

func (r *Router) handleListServices(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": r.store.ListServices()})
}

func (r *Router) handleGetService(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if _, ok := r.store.GetService(name); !ok {
		writeError(w, http.StatusNotFound, "service '"+name+"' not found")
		return
	}
	ctx, _ := r.store.GetDeepContext(name)
	writeJSON(w, http.StatusOK, ctx)
}

func (r *Router) handleDiagnose(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	if _, ok := r.store.GetService(name); !ok {
		writeError(w, http.StatusNotFound, "service '"+name+"' not found")
		return
	}

	trigger := req.URL.Query().Get("trigger")
	if trigger == "" {
		trigger = "Manual diagnosis requested"
	}

	incident := r.engine.Investigate(req.Context(), name, trigger)
	r.notifier.SendIncident(req.Context(), incident)

	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id":  incident.ID,
		"diagnosis":    incident.Diagnosis,
		"actions_taken": incident.Actions,
		"turns":        incident.Turns,
	})
}

func (r *Router) handleListIncidents(w http.ResponseWriter, req *http.Request) {
	service := req.URL.Query().Get("service")
	limit := 20
	if l := req.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": r.store.ListRecentIncidents(service, limit)})
}

func (r *Router) handleGetIncident(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	inc, ok := r.store.GetIncident(id)
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (r *Router) handleListDocs(w http.ResponseWriter, req *http.Request) {
	var docs []refdocs.DocInfo
	if r.docs != nil {
		docs = r.docs.ListAvailable()
	}
	writeJSON(w, http.StatusOK, map[string]any{"docs": docs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(req *http.Request, out any) error {
	defer req.Body.Close()
	return json.NewDecoder(req.Body).Decode(out)
}
