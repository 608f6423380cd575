package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yndnr/ingestmesh/internal/infra/buildinfo"
	"github.com/yndnr/ingestmesh/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Gateway serves WebSocket connections under Path.
	Gateway http.Handler

	// Path is the mount point of the gateway. Defaults to "/".
	Path string

	// Metrics backs /metrics and counts rate-limited upgrades.
	Metrics *metric.Registry

	Logger *slog.Logger

	// RateLimit is the allowed upgrades per second per IP. Zero disables
	// limiting.
	RateLimit int
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		Path:      "/",
		RateLimit: 50,
	}
}

// NewRouter builds the handler tree.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.Handle("GET /health", Chain(http.HandlerFunc(health), RequestID(), Recover(logger)))

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics.Handler(), Recover(logger)))
	}

	if cfg.Gateway != nil {
		mws := []Middleware{RequestID(), Recover(logger)}
		if cfg.RateLimit > 0 {
			mws = append(mws, RateLimit(cfg.RateLimit, cfg.Metrics))
		}
		mux.Handle(MountPath(cfg.Path), Chain(cfg.Gateway, mws...))
	}
	return mux
}

// MountPath normalizes a gateway path to a subtree pattern.
func MountPath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

type healthResponse struct {
	Status string `json:"status"`
	buildinfo.Info
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{Status: "ok", Info: buildinfo.Get()})
}
