// Package ops exposes the operational HTTP surface: health, Prometheus
// metrics, bus introspection, and audit trail queries.
package ops

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"mathilda/internal/audit"
	"mathilda/internal/integration"
	"mathilda/internal/permission"
	platformredis "mathilda/internal/platform/redis"
)

// Handler serves the operational endpoints.
type Handler struct {
	log   *logrus.Logger
	bus   *integration.Bus
	audit *audit.Service
	perms PermissionChecker
	redis *platformredis.Client
}

// New creates the ops Handler. redis may be nil when not configured.
func New(log *logrus.Logger, bus *integration.Bus, auditSvc *audit.Service, perms PermissionChecker, redis *platformredis.Client) *Handler {
	return &Handler{log: log, bus: bus, audit: auditSvc, perms: perms, redis: redis}
}

// Router builds the chi router with the standard middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(identify)

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/integration", func(r chi.Router) {
		r.Get("/stats", h.handleBusStats)
		r.Get("/history", h.handleBusHistory)
		r.Get("/performance", h.handleBusPerformance)
	})

	r.Route("/audit", func(r chi.Router) {
		r.Use(h.requirePermission(permission.ViewAuditLogs))
		r.Get("/entries", h.handleAuditSearch)
		r.Get("/entries/{id}", h.handleAuditEntry)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if h.redis != nil {
		if err := h.redis.Health(r.Context()); err != nil {
			status["status"] = "degraded"
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["redis"] = "ok"
		}
	}

	writeJSON(w, code, status)
}

func (h *Handler) handleBusStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.bus.GetStats())
}

func (h *Handler) handleBusHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	var types []integration.EventType
	for _, raw := range r.URL.Query()["type"] {
		types = append(types, integration.EventType(raw))
	}
	writeJSON(w, http.StatusOK, h.bus.GetEventHistory(limit, types...))
}

func (h *Handler) handleBusPerformance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.bus.GetPerformanceMetrics())
}

func (h *Handler) handleAuditSearch(w http.ResponseWriter, r *http.Request) {
	opts := audit.SearchOptions{
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
		UserIDs:   r.URL.Query()["userId"],
		TargetIDs: r.URL.Query()["targetId"],
		SortOrder: audit.SortOrder(r.URL.Query().Get("order")),
	}
	for _, raw := range r.URL.Query()["actionType"] {
		opts.ActionTypes = append(opts.ActionTypes, audit.ActionType(raw))
	}
	for _, raw := range r.URL.Query()["severity"] {
		opts.Severities = append(opts.Severities, audit.Severity(raw))
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			opts.StartDate = t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			opts.EndDate = t
		}
	}

	result, err := h.audit.Search(r.Context(), opts)
	if err != nil {
		h.log.Errorf("ops: audit search: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit search failed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAuditEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.audit.GetEntry(r.Context(), id)
	if err != nil {
		h.log.Errorf("ops: audit entry %s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit lookup failed"})
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "entry not found"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
