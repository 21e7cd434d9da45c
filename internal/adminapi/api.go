// Package adminapi implements the thin admin HTTP surface: node CRUD,
// scheduler selection, pool statistics, on-demand health checks, Prometheus
// metrics, and a live stats WebSocket. It is deliberately built on the
// standard library net/http ServeMux rather than a web framework, the way
// the reference control plane this project follows keeps its own admin
// surface thin.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nodeforge/proxypool/internal/health"
	"github.com/nodeforge/proxypool/internal/scheduler"
	"github.com/nodeforge/proxypool/internal/store"
	"github.com/nodeforge/proxypool/internal/telemetry"
)

// API wires the node store, scheduler registry, and health checker behind
// an http.Handler.
type API struct {
	store    store.Store
	registry *scheduler.Registry
	checker  *health.Checker
	hub      *statsHub
	log      *zap.SugaredLogger

	limiter *rate.Limiter
	mux     *http.ServeMux
}

// New builds the admin API. rateLimitRPS/rateLimitBurst size the token
// bucket guarding mutating routes (POST/PUT/DELETE).
func New(s store.Store, registry *scheduler.Registry, checker *health.Checker, log *zap.SugaredLogger, rateLimitRPS float64, rateLimitBurst int) *API {
	api := &API{
		store:    s,
		registry: registry,
		checker:  checker,
		hub:      newStatsHub(s, log),
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(rateLimitRPS), rateLimitBurst),
	}
	if checker != nil {
		checker.OnTick(api.hub.reportTick)
	}
	api.mux = api.routes()
	return api
}

// Handler returns the composed http.Handler to serve.
func (a *API) Handler() http.Handler { return a.mux }

// RunStatsHub runs the stats hub's periodic broadcast loop until ctx is
// cancelled. The supervisor launches this alongside the HTTP server.
func (a *API) RunStatsHub(ctx context.Context) {
	a.hub.run(ctx)
}

func (a *API) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/nodes", a.withMiddleware(a.handleNodesCollection))
	mux.HandleFunc("/api/nodes/", a.withMiddleware(a.handleNodeItem))
	mux.HandleFunc("/api/scheduler", a.withMiddleware(a.handleScheduler))
	mux.HandleFunc("/api/stats", a.withMiddleware(a.handleStats))
	mux.HandleFunc("/api/check/all", a.withMiddleware(a.handleCheckAll))
	mux.HandleFunc("/api/health", a.withMiddleware(a.handleHealth))
	mux.HandleFunc("/api/ws/stats", a.hub.serveWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// withMiddleware wraps a route handler with request metrics and (for
// mutating methods) rate limiting.
func (a *API) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if isMutating(r.Method) && !a.limiter.Allow() {
			telemetry.AdminRateLimited.Inc()
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		telemetry.AdminRequestsTotal.WithLabelValues(routeLabel(r.URL.Path), strconv.Itoa(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodDelete
}

func routeLabel(path string) string {
	if strings.HasPrefix(path, "/api/nodes/") {
		return "/api/nodes/{id}"
	}
	return path
}

func (a *API) handleNodesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listNodes(w, r)
	case http.MethodPost:
		a.createNode(w, r)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) listNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filters store.Filters
	if v := q.Get("is_active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid is_active")
			return
		}
		filters.IsActive = &b
	}
	if v := q.Get("is_healthy"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid is_healthy")
			return
		}
		filters.IsHealthy = &b
	}
	if v := q.Get("protocol"); v != "" {
		p := store.Protocol(v)
		filters.Protocol = &p
	}
	if v := q.Get("country"); v != "" {
		filters.Country = &v
	}
	if v := q.Get("search"); v != "" {
		filters.Search = &v
	}

	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	nodes, err := a.store.List(r.Context(), filters, skip, limit)
	if err != nil {
		a.log.Errorw("list nodes failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "store error")
		return
	}

	dtos := make([]nodeDTO, 0, len(nodes))
	for _, n := range nodes {
		dtos = append(dtos, toDTO(n))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (a *API) createNode(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := a.store.Create(r.Context(), req.toNode())
	if err != nil {
		a.log.Errorw("create node failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "store error")
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(n))
}

func (a *API) handleNodeItem(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/nodes/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getNode(w, r, id)
	case http.MethodPut:
		a.updateNode(w, r, id)
	case http.MethodDelete:
		a.deleteNode(w, r, id)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) getNode(w http.ResponseWriter, r *http.Request, id int64) {
	n, err := a.store.GetByID(r.Context(), id)
	if err != nil {
		a.log.Errorw("get node failed", "node_id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "store error")
		return
	}
	if n == nil {
		writeJSONError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, toDTO(n))
}

func (a *API) updateNode(w http.ResponseWriter, r *http.Request, id int64) {
	var req patchNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := a.store.Update(r.Context(), id, req.toPatch())
	if err != nil {
		a.log.Errorw("update node failed", "node_id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "store error")
		return
	}
	if n == nil {
		writeJSONError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, toDTO(n))
}

func (a *API) deleteNode(w http.ResponseWriter, r *http.Request, id int64) {
	if err := a.store.Delete(r.Context(), id); err != nil {
		a.log.Errorw("delete node failed", "node_id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "store error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleScheduler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, schedulerDTO{Name: a.registry.Get().Name()})
	case http.MethodPut:
		kind := scheduler.Kind(r.URL.Query().Get("scheduler_type"))
		s, err := a.registry.Set(kind)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unknown scheduler_type")
			return
		}
		writeJSON(w, http.StatusOK, schedulerDTO{Name: s.Name()})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.Statistics(r.Context())
	if err != nil {
		a.log.Errorw("statistics failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "store error")
		return
	}
	telemetry.NodesTotal.Set(float64(stats.Total))
	telemetry.NodesHealthy.Set(float64(stats.HealthyAndActive))
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

func (a *API) handleCheckAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := a.checker.CheckAll(r.Context()); err != nil {
		a.log.Errorw("check_all failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "health check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
