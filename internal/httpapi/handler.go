package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ecoscore/greenscore/internal/aggregate"
	"github.com/ecoscore/greenscore/internal/cache/keys"
	"github.com/ecoscore/greenscore/internal/logger"
	"github.com/ecoscore/greenscore/internal/model"
	"github.com/ecoscore/greenscore/internal/observability"
)

// Computer recomputes the composite for a location key on cache miss.
type Computer interface {
	Compute(ctx context.Context, locationKey string) (model.CompositeResult, error)
}

// Store is the slice of the distributed cache the handler needs. Reads
// and writes are both best-effort: a failing store degrades to
// recompute, never to a failed request.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type Handler struct {
	logger   *slog.Logger
	store    Store
	computer Computer
	prefix   string
	ttl      time.Duration
	maxAge   time.Duration
}

func NewHandler(logger *slog.Logger, store Store, computer Computer, prefix string, ttl time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = keys.DefaultPrefix
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Handler{
		logger:   logger,
		store:    store,
		computer: computer,
		prefix:   prefix,
		ttl:      ttl,
		maxAge:   10 * time.Minute,
	}
}

// GreenScore serves GET /green-score?zip=NNNNN with conditional-GET
// semantics over the cached composite.
func (h *Handler) GreenScore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	defer func() {
		observability.ObserveHTTP(r.Method, "/green-score", sw.code, time.Since(start).Seconds())
	}()

	zip := strings.TrimSpace(r.URL.Query().Get("zip"))
	if zip == "" {
		http.Error(sw, "missing required parameter: zip", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	key := keys.Key(h.prefix, zip)

	cached, found, err := h.store.Get(ctx, key)
	if err != nil {
		// Unreachable store reads degrade to a miss.
		h.logger.Warn("cache read failed, recomputing", "key", key, "err", err)
		found = false
	}
	if found {
		observability.IncCacheHit()
		h.serve(sw, r, cached, "HIT")
		return
	}
	observability.IncCacheMiss()

	res, err := h.computer.Compute(ctx, zip)
	if err != nil {
		if errors.Is(err, aggregate.ErrLocationNotFound) {
			http.Error(sw, "unknown zip code", http.StatusNotFound)
			return
		}
		h.logger.Error("compute failed", "zip", zip, "err", err)
		http.Error(sw, "failed to compute green score", http.StatusBadGateway)
		return
	}

	body, err := json.Marshal(res)
	if err != nil {
		h.logger.Error("encode composite", "zip", zip, "err", err)
		http.Error(sw, "internal server error", http.StatusInternalServerError)
		return
	}

	// Write-through is best-effort; a failed write must not fail the
	// request that just paid for the fan-out.
	if err := h.store.Set(ctx, key, body, h.ttl); err != nil {
		h.logger.Warn("cache write failed", "key", key, "err", err)
	}

	h.serve(sw, r, body, "MISS")
}

// serve writes the body with freshness headers, honoring If-None-Match.
// The cache status rides on the log context so every line for the
// request carries it.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, body []byte, cacheStatus string) {
	ctx := logger.WithCacheStatus(r.Context(), cacheStatus)
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.maxAge.Seconds())))
	w.Header().Set("X-Cache", cacheStatus)

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		h.logger.DebugContext(ctx, "green score not modified", "etag", etag)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	h.logger.DebugContext(ctx, "green score served", "bytes", len(body))
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
