// Package proxy serves the market-data providers over HTTP, with every
// upstream call going through the response cache and the provider's
// throttle.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/throttled/throttled"
	"github.com/throttled/throttled/store/memstore"
	"go.uber.org/zap"

	"github.com/quotepacer/pacer"
	"github.com/quotepacer/pacer/cache"
	"github.com/quotepacer/pacer/provider"
)

// Version is reported by the health endpoint.
var Version = "1.0.0"

// Options wires the server's collaborators. Loader and Throttles are
// required.
type Options struct {
	Loader    *provider.Loader
	Throttles *pacer.Registry
	Cache     *cache.Cache
	Budget    *pacer.Budget
	Metrics   metrics.Registry
	Logger    *zap.Logger

	// InboundPerMinute limits requests per client address; zero disables
	// the limit.
	InboundPerMinute int
	InboundBurst     int
	InboundMaxKeys   int
}

// Server is the proxy HTTP handler.
type Server struct {
	router    *chi.Mux
	loader    *provider.Loader
	throttles *pacer.Registry
	cache     *cache.Cache
	budget    *pacer.Budget
	metrics   metrics.Registry
	logger    *zap.Logger
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Loader == nil || opts.Throttles == nil {
		return nil, errors.New("proxy: loader and throttles are required")
	}
	s := &Server{
		router:    chi.NewRouter(),
		loader:    opts.Loader,
		throttles: opts.Throttles,
		cache:     opts.Cache,
		budget:    opts.Budget,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewRegistry()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	s.router.Use(middleware.RealIP)
	s.router.Use(requestID)
	s.router.Use(accessLog(s.logger))
	s.router.Use(middleware.Recoverer)
	if opts.InboundPerMinute > 0 {
		limit, err := s.inboundLimit(opts.InboundPerMinute, opts.InboundBurst, opts.InboundMaxKeys)
		if err != nil {
			return nil, err
		}
		s.router.Use(limit)
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", r.URL.Path)
	})
	s.registerRoutes()
	return s, nil
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/api/health", s.health)
	s.router.Get("/api/usage", s.usage)
	s.router.Get("/api/metrics", s.metricsJSON)
	s.router.Get("/api/throttles", s.throttleStats)
	s.router.Get("/api/next/{group}", s.nextProvider)
	s.router.Delete("/api/cache", s.clearCache)
	s.router.Get("/api/{provider}/*", s.forward)
}

func (s *Server) inboundLimit(perMinute, burst, maxKeys int) (func(http.Handler) http.Handler, error) {
	store, err := memstore.New(maxKeys)
	if err != nil {
		return nil, err
	}
	quota := throttled.RateQuota{MaxRate: throttled.PerMin(perMinute), MaxBurst: burst}
	rl, err := throttled.NewGCRARateLimiter(store, quota)
	if err != nil {
		return nil, err
	}
	limiter := throttled.HTTPRateLimiter{
		RateLimiter: rl,
		VaryBy:      clientKey{},
		DeniedHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "too many requests", "inbound rate limit exceeded")
		}),
		Error: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Error("inbound rate limiter failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error", "")
		},
	}
	return limiter.RateLimit, nil
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Version   string `json:"version"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Message:   "Proxy server is running",
		Version:   Version,
	})
}

func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	if s.budget == nil {
		writeJSON(w, http.StatusOK, pacer.Usage{Calls: map[string]int{}, Remaining: map[string]int{}})
		return
	}
	u, err := s.budget.Usage()
	if err != nil {
		s.logger.Error("reading usage", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read usage", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) metricsJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	metrics.WriteJSONOnce(s.metrics, w)
}

func (s *Server) throttleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.throttles.Stats())
}

func (s *Server) nextProvider(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	p, err := s.loader.Next(group)
	if errors.Is(err, pacer.ErrUnknownGroup) {
		writeError(w, http.StatusNotFound, "unknown provider group", group)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to pick provider", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"group": group, "provider": p})
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "cache disabled", "")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if name := r.URL.Query().Get("category"); name != "" {
		c, ok := provider.ParseCategory(name)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown category", name)
			return
		}
		prefix = c.Prefix()
	}
	s.cache.ClearPrefix(prefix)
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true, "prefix": prefix})
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	endpoint := chi.URLParam(r, "*")

	query := url.Values{}
	for k, vs := range r.URL.Query() {
		query[k] = vs
	}
	req := provider.Request{Provider: name, Endpoint: endpoint, Query: query}
	if cat := query.Get("category"); cat != "" {
		c, ok := provider.ParseCategory(cat)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown category", cat)
			return
		}
		req.Category = c
		query.Del("category")
	}

	res, err := s.loader.Load(r.Context(), req)
	if err != nil {
		s.writeLoadError(w, r, name, err)
		return
	}

	if res.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(res.Body)
}

func (s *Server) writeLoadError(w http.ResponseWriter, r *http.Request, name string, err error) {
	msg := fmt.Sprintf("Failed to fetch data from %s API", name)
	var se *provider.StatusError
	switch {
	case errors.Is(err, provider.ErrUnknownProvider), errors.Is(err, pacer.ErrUnknownThrottle):
		writeError(w, http.StatusNotFound, "unknown provider", name)
	case errors.Is(err, pacer.ErrQueueFull):
		w.Header().Set("Retry-After", s.retryAfter(name))
		writeError(w, http.StatusTooManyRequests, msg, err.Error())
	case errors.Is(err, provider.ErrBudgetExhausted):
		writeError(w, http.StatusTooManyRequests, msg, err.Error())
	case errors.Is(err, pacer.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, msg, err.Error())
	case errors.As(err, &se):
		writeError(w, se.Code, msg, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, msg, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
		s.logger.Debug("request cancelled", zap.String("request_id", RequestID(r.Context())))
	default:
		s.logger.Warn("upstream call failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("provider", name),
			zap.Error(err))
		writeError(w, http.StatusBadGateway, msg, err.Error())
	}
}

// retryAfter is one interval of the provider's throttle in whole
// seconds, at least 1.
func (s *Server) retryAfter(name string) string {
	secs := 1
	if t, ok := s.throttles.Get(name); ok {
		if n := int(math.Ceil(t.Interval().Seconds())); n > secs {
			secs = n
		}
	}
	return strconv.Itoa(secs)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, code int, msg, details string) {
	writeJSON(w, code, errorResponse{Error: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
