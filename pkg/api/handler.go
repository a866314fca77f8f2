package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bitechdev/StoreCache/pkg/cache"
	"github.com/bitechdev/StoreCache/pkg/datasource"
	"github.com/bitechdev/StoreCache/pkg/invalidation"
	"github.com/bitechdev/StoreCache/pkg/logger"
	"github.com/bitechdev/StoreCache/pkg/strategy"
)

// Handler serves the cache admin endpoints.
type Handler struct {
	cache *cache.Cache
	layer *datasource.Layer
	bus   invalidation.Bus
}

// NewHandler creates the admin handler. bus may be nil when invalidation
// messages are not distributed.
func NewHandler(c *cache.Cache, layer *datasource.Layer, bus invalidation.Bus) *Handler {
	return &Handler{cache: c, layer: layer, bus: bus}
}

// StatsResponse is the body of GET /cache/stats.
type StatsResponse struct {
	Cache   *cache.CacheStats      `json:"cache"`
	Sources []string               `json:"sources"`
	Bus     *invalidation.BusStats `json:"bus,omitempty"`
}

// KeyResponse is the body of GET /cache/keys/{key}.
type KeyResponse struct {
	Key   string          `json:"key"`
	TTLMs int64           `json:"ttl_ms"`
	Value json.RawMessage `json:"value,omitempty"`
	Raw   []byte          `json:"raw,omitempty"`
}

// InvalidateResponse is the body of the invalidation endpoints.
type InvalidateResponse struct {
	Source   string   `json:"source,omitempty"`
	Patterns []string `json:"patterns"`
	Ignored  string   `json:"ignored,omitempty"`
}

// GetStats returns cache counters, registered sources and bus counters.
// GET /cache/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := StatsResponse{Cache: stats, Sources: h.layer.Strategies().Names()}
	if h.bus != nil {
		resp.Bus = h.bus.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetKey returns one cached value and its remaining lifetime.
// GET /cache/keys/{key}
func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	ctx := r.Context()

	resp := KeyResponse{Key: key}
	found, err := h.cache.Get(ctx, key, &resp.Value)
	if errors.Is(err, cache.ErrSerialization) {
		// Written with SetBytes; hand back the stored bytes.
		resp.Value = nil
		resp.Raw, found, err = h.cache.GetBytes(ctx, key)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("key %q not found", key))
		return
	}

	ttl, err := h.cache.TTL(ctx, key)
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp.TTLMs = ttl.Milliseconds()
	if ttl == cache.NoTTL {
		resp.TTLMs = -1
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteKey removes one key. Deleting an absent key succeeds.
// DELETE /cache/keys/{key}
func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Delete(r.Context(), mux.Vars(r)["key"]); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteByPattern removes every key matching a glob and publishes the pattern.
// DELETE /cache/keys?pattern=api:shopify:orders:*
func (h *Handler) DeleteByPattern(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeError(w, http.StatusBadRequest, "invalid_pattern", "pattern query parameter is required")
		return
	}

	if err := h.layer.InvalidatePatterns(r.Context(), "admin", []string{pattern}); err != nil {
		writeFailure(w, err)
		return
	}
	logger.Info("Admin invalidated pattern %s", pattern)
	writeJSON(w, http.StatusOK, InvalidateResponse{Patterns: []string{pattern}})
}

// Invalidate applies a webhook delivery for a source: the source's strategy
// decides which resources went stale.
// POST /cache/invalidate/{source}
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	s, err := h.layer.Strategies().Get(source)
	if err != nil {
		writeFailure(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	params, topic, err := webhookParams(s, r, body)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if _, err := s.InvalidationPatterns(params); err != nil {
		// Platforms retry failed deliveries; acknowledge topics no cached resource follows.
		if topic != "" && errors.Is(err, strategy.ErrInvalidParams) {
			logger.Debug("Ignoring %s webhook topic %s", s.Name(), topic)
			writeJSON(w, http.StatusOK, InvalidateResponse{Source: s.Name(), Patterns: []string{}, Ignored: topic})
			return
		}
		writeFailure(w, err)
		return
	}

	start := time.Now()
	patterns, err := h.layer.Invalidate(r.Context(), source, params)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if patterns == nil {
		patterns = []string{}
	}
	logger.Info("Invalidated %d patterns for %s in %v", len(patterns), s.Name(), time.Since(start))
	writeJSON(w, http.StatusOK, InvalidateResponse{Source: s.Name(), Patterns: patterns})
}
