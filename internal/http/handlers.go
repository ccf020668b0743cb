package http

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tilepyramid/internal/config"
	"tilepyramid/internal/elevation"
	"tilepyramid/internal/imagery"
	"tilepyramid/internal/pyramid"
	"tilepyramid/internal/tile"
)

// Layer is one servable data layer.
type Layer struct {
	ID       string
	Kind     string
	Name     string
	Width    int
	Height   int
	Resolver *pyramid.Resolver
	// ETag, when set, derives a tile's entity tag from its address so
	// conditional requests are answered without building the tile.
	ETag func(tile.Address) string
}

type Handlers struct {
	config *config.Config
	logger *zap.Logger
	layers map[string]Layer
}

func New(config *config.Config, logger *zap.Logger, layers []Layer) *Handlers {
	byID := make(map[string]Layer, len(layers))
	for _, l := range layers {
		byID[l.ID] = l
	}
	return &Handlers{
		config: config,
		logger: logger,
		layers: byID,
	}
}

// Register mounts the API on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/layers", h.HandleLayers)
	mux.HandleFunc("GET /api/layers/{id}/stats", h.HandleStats)
	mux.HandleFunc("GET /api/layers/{id}/tiles/{level}/{row}/{column}", h.HandleTile)
	mux.HandleFunc("HEAD /api/layers/{id}/tiles/{level}/{row}/{column}", h.HandleTile)
	mux.HandleFunc("DELETE /api/layers/{id}/tiles/{level}/{row}/{column}", h.HandleInvalidate)
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			switch {
			case origin == "":
				allowedOrigin = "*"
			case strings.HasPrefix(origin, "http://"+host), strings.HasPrefix(origin, "https://"+host):
				allowedOrigin = origin
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type layerInfo struct {
	ID             string  `json:"id"`
	Kind           string  `json:"kind"`
	Name           string  `json:"name"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	NumLevels      int     `json:"numLevels"`
	LevelZeroDelta float64 `json:"levelZeroDelta"`
	Rows           int     `json:"levelZeroRows"`
	Columns        int     `json:"levelZeroColumns"`
}

func (h *Handlers) HandleLayers(w http.ResponseWriter, r *http.Request) {
	infos := make([]layerInfo, 0, len(h.layers))
	for _, l := range h.layers {
		levels := l.Resolver.LevelSet()
		infos = append(infos, layerInfo{
			ID:             l.ID,
			Kind:           l.Kind,
			Name:           l.Name,
			Width:          l.Width,
			Height:         l.Height,
			NumLevels:      levels.NumLevels(),
			LevelZeroDelta: levels.LevelZeroDelta(),
			Rows:           levels.Rows(0),
			Columns:        levels.Columns(0),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	writeJSON(w, infos)
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	layer, ok := h.layers[r.PathValue("id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	stats := layer.Resolver.Stats()
	writeJSON(w, map[string]any{
		"hits":         stats.Hits,
		"misses":       stats.Misses,
		"evictions":    stats.Evictions,
		"capacity":     stats.Capacity,
		"usedCapacity": stats.UsedCapacity,
		"entries":      stats.Entries,
		"inFlight":     stats.InFlight,
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	layer, addr, ok := h.lookupTile(w, r)
	if !ok {
		return
	}

	if layer.ETag != nil {
		etag := `"` + layer.ETag(addr) + `"`
		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	t, err := layer.Resolver.Resolve(r.Context(), addr)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to resolve tile",
				zap.String("layer", layer.ID),
				zap.String("key", addr.Key()),
				zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}

	var (
		body        []byte
		contentType string
	)
	switch t := t.(type) {
	case *imagery.Tile:
		w.Header().Set("ETag", `"`+t.ETag+`"`)
		body, contentType = t.Data, "image/jpeg"
	case *elevation.Tile:
		body, contentType = encodeBIL(t), "application/bil16"
		w.Header().Set("X-Tile-Width", strconv.Itoa(t.Width()))
	default:
		http.Error(w, fmt.Sprintf("unsupported tile type %T", t), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Content-Type", contentType)

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(body)
}

func (h *Handlers) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	layer, addr, ok := h.lookupTile(w, r)
	if !ok {
		return
	}
	if !layer.Resolver.Invalidate(addr) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) lookupTile(w http.ResponseWriter, r *http.Request) (Layer, tile.Address, bool) {
	layer, ok := h.layers[r.PathValue("id")]
	if !ok {
		http.NotFound(w, r)
		return Layer{}, tile.Address{}, false
	}

	var nums [3]int
	for i, name := range []string{"level", "row", "column"} {
		n, err := strconv.Atoi(r.PathValue(name))
		if err != nil {
			http.Error(w, "Invalid "+name, http.StatusBadRequest)
			return Layer{}, tile.Address{}, false
		}
		nums[i] = n
	}

	addr, err := layer.Resolver.LevelSet().Address(nums[0], nums[1], nums[2])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return Layer{}, tile.Address{}, false
	}
	return layer, addr, true
}

// etagMatches applies If-None-Match weak comparison: W/ prefixes are
// ignored and any tag of a comma separated list, or "*", matches.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tile.ErrArgument):
		return http.StatusBadRequest
	case errors.Is(err, elevation.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, pyramid.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func encodeBIL(t *elevation.Tile) []byte {
	samples := t.Samples()
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
