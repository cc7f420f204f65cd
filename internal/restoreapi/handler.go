// Package restoreapi exposes the restore engine over HTTP.
package restoreapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"soqlrestore/internal/describe"
	"soqlrestore/internal/logging"
	"soqlrestore/internal/middleware"
	"soqlrestore/internal/observability"
	"soqlrestore/internal/restore"
	"soqlrestore/internal/setutil"
)

// Route paths.
const (
	RestorePath = "/v1/restore"
	RefreshPath = "/admin/describe/refresh"
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

const (
	defaultMaxBodyBytes       = 1 << 20
	defaultHealthCheckTimeout = 5 * time.Second
	refreshTimeout            = 15 * time.Second
)

// Restorer restores one query.
type Restorer interface {
	Restore(ctx context.Context, text string) (*restore.Result, error)
}

// Invalidator drops stored describes. *describe.StoreTransport implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, names ...string) error
	InvalidateAll(ctx context.Context) error
}

// Config wires the router.
type Config struct {
	Restorer Restorer
	// Transport backs the health check.
	Transport describe.Transport
	// Invalidator enables the refresh endpoint when set.
	Invalidator Invalidator
	// AdminAuth guards the refresh endpoint.
	AdminAuth func(http.Handler) http.Handler
	// Metrics is served on MetricsPath when set.
	Metrics http.Handler

	AdminMetrics       *observability.AdminMetrics
	MaxBodyBytes       int64
	HealthCheckTimeout time.Duration
}

type handlers struct {
	cfg Config
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg Config) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = defaultHealthCheckTimeout
	}
	h := &handlers{cfg: cfg}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Post(RestorePath, h.restore)
	r.Get(HealthPath, h.health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, MetricsPath, cfg.Metrics)
	}
	if cfg.Invalidator != nil {
		admin := r.With()
		if cfg.AdminAuth != nil {
			admin = r.With(cfg.AdminAuth)
		}
		admin.Post(RefreshPath, h.refresh)
	}
	return r
}

type restoreRequest struct {
	Query string `json:"query"`
}

type restoreResponse struct {
	*restore.Result
	Composed string `json:"composed"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (h *handlers) restore(w http.ResponseWriter, r *http.Request) {
	reqLogger := logging.FromContext(r.Context())

	var req restoreRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body must be a JSON object with a query", Kind: "user"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required", Kind: "user"})
		return
	}

	result, err := h.cfg.Restorer.Restore(r.Context(), req.Query)
	if err != nil {
		var userErr *restore.UserFacingError
		if errors.As(err, &userErr) {
			reqLogger.Debug("query not restorable", slog.String("reason", userErr.Message))
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: userErr.Message, Kind: "user"})
			return
		}
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: restore.ErrRestoreFailed.Error(), Kind: "internal"})
		return
	}

	writeJSON(w, http.StatusOK, restoreResponse{Result: result, Composed: restore.ComposeResult(result)})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	reqLogger := logging.FromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.HealthCheckTimeout)
	defer cancel()

	if _, err := h.cfg.Transport.DescribeGlobal(ctx); err != nil {
		reqLogger.Error("health check failed",
			slog.String("error", err.Error()),
			slog.String("check", "describe"),
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "describe": "failed"})
		return
	}

	reqLogger.Debug("health check passed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "describe": "ok"})
}

type refreshResponse struct {
	Status  string   `json:"status"`
	Scope   string   `json:"scope"`
	Objects []string `json:"objects,omitempty"`
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	reqLogger := logging.FromContext(r.Context())

	authCtx, authenticated := middleware.AuthFromContext(r.Context())
	logAttrs := []any{
		slog.String("operation", "describe_refresh"),
		slog.String("remote_addr", r.RemoteAddr),
		slog.Bool("authenticated", authenticated),
	}
	if authenticated {
		logAttrs = append(logAttrs,
			slog.String("authenticated_user", authCtx.Subject),
			slog.String("issuer", authCtx.Issuer),
		)
	}
	reqLogger.Info("admin endpoint accessed", logAttrs...)

	objects := refreshObjects(r)
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	resp := refreshResponse{Status: "ok", Scope: "all"}
	start := time.Now()
	var err error
	if len(objects) > 0 {
		resp.Scope, resp.Objects = "object", objects
		err = h.cfg.Invalidator.Invalidate(ctx, objects...)
	} else {
		err = h.cfg.Invalidator.InvalidateAll(ctx)
	}
	if h.cfg.AdminMetrics != nil {
		h.cfg.AdminMetrics.RecordDescribeRefresh(r.Context(), observability.DescribeRefresh{
			Trigger:    observability.RefreshTriggerAdmin,
			Scope:      resp.Scope,
			AuthMethod: authCtx.Method(),
			Duration:   time.Since(start),
			Success:    err == nil,
		})
	}
	if err != nil {
		reqLogger.Error("describe refresh failed", slog.String("error", err.Error()))
		middleware.WriteJSONError(w, http.StatusInternalServerError, "describe refresh failed")
		return
	}

	reqLogger.Info("describe store refreshed", slog.String("scope", resp.Scope), slog.Any("objects", objects))
	writeJSON(w, http.StatusOK, resp)
}

// refreshObjects reads ?object=A&object=B or ?object=A,B.
func refreshObjects(r *http.Request) []string {
	var objects []string
	for _, value := range r.URL.Query()["object"] {
		objects = append(objects, strings.Split(value, ",")...)
	}
	return setutil.DedupeFold(objects)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
