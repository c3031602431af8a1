package handlers

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/koios/countdown-renderer/internal/frame"
	"github.com/koios/countdown-renderer/internal/metrics"
	"github.com/koios/countdown-renderer/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	serviceName = "countdown-renderer"

	notReadyMessage = "timer image not ready"

	healthTimeout = time.Second
)

// SessionStore is the part of the session store the HTTP layer uses
type SessionStore interface {
	SessionUpdater
	Len() int
}

// FrameSource returns the latest live frame
type FrameSource interface {
	Current() (*frame.Frame, bool)
}

// ImageGenerator renders one-shot timer images
type ImageGenerator interface {
	Generate(ctx context.Context, patch models.Patch) (models.GenerateResult, error)
}

// Options configures a TimerHandler
type Options struct {
	OutputDir         string                         // served under /timers/
	GeneratePerMinute int                            // per-IP limit for /generate-timer, 0 disables it
	Version           string                         // reported by /health
	EngineReady       func() bool                    // live engine readiness, reported by /health
	GeneratorReady    func() bool                    // one-shot engine readiness, reported by /health
	RedisHealthy      func(ctx context.Context) bool // nil when Redis is not configured
}

// TimerHandler serves the live timer, the one-shot generator and service endpoints
type TimerHandler struct {
	store     SessionStore
	frames    FrameSource
	generator ImageGenerator
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewTimerHandler creates a new timer handler
func NewTimerHandler(store SessionStore, frames FrameSource, generator ImageGenerator, opts Options, logger *zap.Logger) *TimerHandler {
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	if opts.EngineReady == nil {
		opts.EngineReady = func() bool { return false }
	}
	if opts.GeneratorReady == nil {
		opts.GeneratorReady = func() bool { return false }
	}

	return &TimerHandler{
		store:     store,
		frames:    frames,
		generator: generator,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Routes builds the router with all endpoints and middleware
func (h *TimerHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CORS)

	r.Get("/live-timer.png", h.handleLiveTimer)
	r.With(RateLimit(h.opts.GeneratePerMinute, time.Minute)).Get("/generate-timer", h.handleGenerateTimer)
	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	if h.opts.OutputDir != "" {
		files := http.StripPrefix("/timers/", http.FileServer(filesOnly{http.Dir(h.opts.OutputDir)}))
		r.Get("/timers/*", files.ServeHTTP)
	}

	return r
}

// handleLiveTimer handles GET /live-timer.png - upserts the session named by
// the query, then serves the latest frame without waiting for a render
func (h *TimerHandler) handleLiveTimer(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if HasConfigParams(query) {
		h.applyQueryConfig(r, query)
	}

	f, ok := h.frames.Current()
	if !ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(notReadyMessage))
		return
	}

	metrics.FrameAge.Set(f.Age(h.now()).Seconds())

	w.Header().Set("Content-Type", "image/png")
	NoCache(w)
	if _, err := w.Write(f.PNG); err != nil {
		h.logger.Debug("Failed to write live timer", zap.Error(err))
	}
}

func (h *TimerHandler) applyQueryConfig(r *http.Request, query url.Values) {
	sessionID, idErr := ParseSessionID(query.Get(ParamSessionID))
	if idErr != nil {
		h.logger.Debug("Invalid session id, using default",
			zap.String("value", idErr.Value))
	}

	patch, errs := ParsePatch(query)
	for _, e := range errs {
		h.logger.Debug("Dropping invalid config field",
			zap.String("session_id", sessionID),
			zap.String("field", e.Field),
			zap.String("value", e.Value),
			zap.String("reason", e.Message),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	}

	// An empty patch still creates the session and refreshes its expiry
	h.store.Upsert(sessionID, patch)
}

// handleGenerateTimer handles GET /generate-timer - renders a standalone image
// and returns its URL, or the image itself with type=image
func (h *TimerHandler) handleGenerateTimer(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	patch, errs := ParsePatch(query)
	for _, e := range errs {
		h.logger.Debug("Dropping invalid generate parameter",
			zap.String("field", e.Field),
			zap.String("value", e.Value),
			zap.String("reason", e.Message))
	}

	result, err := h.generator.Generate(r.Context(), patch)
	if err != nil {
		h.logger.Error("Failed to generate countdown image",
			zap.Error(err),
			zap.String("request_id", middleware.GetReqID(r.Context())))

		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Failed to generate countdown image: " + err.Error(),
		}, h.logger)
		return
	}

	if query.Get("type") == "image" {
		w.Header().Set("Content-Type", "image/png")
		NoCache(w)
		if _, err := w.Write(result.PNG); err != nil {
			h.logger.Debug("Failed to write generated timer", zap.Error(err))
		}
		return
	}

	writeJSON(w, http.StatusOK, result, h.logger)
}

// handleHealth handles GET /health - returns service health status
func (h *TimerHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, frameReady := h.frames.Current()

	body := map[string]interface{}{
		"status":          "healthy",
		"service":         serviceName,
		"version":         h.opts.Version,
		"engine_ready":    h.opts.EngineReady(),
		"generator_ready": h.opts.GeneratorReady(),
		"frame_ready":     frameReady,
		"sessions":        h.store.Len(),
	}

	// Redis is optional, so losing it degrades rather than fails the service
	if h.opts.RedisHealthy != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if h.opts.RedisHealthy(ctx) {
			body["redis"] = "up"
		} else {
			body["redis"] = "down"
			body["status"] = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, body, h.logger)
}

// filesOnly hides directories so the file server never lists them
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
