package http

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tilepyramid/internal/config"
	"tilepyramid/internal/elevation"
	"tilepyramid/internal/geo"
	"tilepyramid/internal/pyramid"
	"tilepyramid/internal/tile"
)

func newTestServer(t *testing.T) (http.Handler, *elevation.Store, *pyramid.Resolver) {
	t.Helper()
	levels, err := tile.NewLevelSet(geo.FullSphere, 45, 3)
	require.NoError(t, err)
	store, err := elevation.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	factory := elevation.NewFactory(levels, store, 2, -32768, nil)
	resolver, err := pyramid.New("srtm", levels, factory, pyramid.Options{Capacity: 1 << 10})
	require.NoError(t, err)
	t.Cleanup(func() { resolver.Close() })

	h := New(&config.Config{}, zap.NewNop(), []Layer{{ID: "srtm", Kind: "elevation", Name: "SRTM", Resolver: resolver}})
	mux := http.NewServeMux()
	h.Register(mux)
	return h.CORSMiddleware(h.RequestLoggingMiddleware(mux)), store, resolver
}

func TestHandleLayers(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/layers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var infos []layerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "srtm", infos[0].ID)
	assert.Equal(t, 3, infos[0].NumLevels)
	assert.Equal(t, 4, infos[0].Rows)
	assert.Equal(t, 8, infos[0].Columns)
}

func TestHandleTileElevation(t *testing.T) {
	srv, store, resolver := newTestServer(t)
	addr, err := resolver.LevelSet().Address(1, 2, 3)
	require.NoError(t, err)
	require.NoError(t, store.Write(addr, []int16{1, -2, 300, 4}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/layers/srtm/tiles/1/2/3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/bil16", rec.Header().Get("Content-Type"))
	assert.Equal(t, "2", rec.Header().Get("X-Tile-Width"))

	body := rec.Body.Bytes()
	require.Len(t, body, 8)
	assert.Equal(t, int16(-2), int16(binary.LittleEndian.Uint16(body[2:])))

	_, cached := resolver.Cached(addr)
	assert.True(t, cached)
}

func TestHandleTileHead(t *testing.T) {
	srv, store, resolver := newTestServer(t)
	addr, err := resolver.LevelSet().Address(0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, store.Write(addr, []int16{1, 2, 3, 4}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/api/layers/srtm/tiles/0/0/0", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "8", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestHandleTileErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown layer", "/api/layers/nope/tiles/0/0/0", http.StatusNotFound},
		{"non numeric", "/api/layers/srtm/tiles/0/x/0", http.StatusBadRequest},
		{"level out of range", "/api/layers/srtm/tiles/3/0/0", http.StatusBadRequest},
		{"row out of range", "/api/layers/srtm/tiles/0/4/0", http.StatusBadRequest},
		{"no data", "/api/layers/srtm/tiles/2/1/1", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandleInvalidate(t *testing.T) {
	srv, store, resolver := newTestServer(t)
	addr, err := resolver.LevelSet().Address(0, 1, 1)
	require.NoError(t, err)
	require.NoError(t, store.Write(addr, []int16{1, 2, 3, 4}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/layers/srtm/tiles/0/1/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/layers/srtm/tiles/0/1/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/layers/srtm/tiles/0/1/1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, cached := resolver.Cached(addr)
	assert.False(t, cached)
}

func TestHandleStats(t *testing.T) {
	srv, store, resolver := newTestServer(t)
	addr, err := resolver.LevelSet().Address(0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, store.Write(addr, []int16{1, 2, 3, 4}))

	for range 2 {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/layers/srtm/tiles/0/0/0", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/layers/srtm/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
	assert.Equal(t, int64(8), stats["usedCapacity"])
	assert.Equal(t, int64(1), stats["entries"])
}

func TestConditionalTileSkipsBuild(t *testing.T) {
	levels, err := tile.NewLevelSet(geo.FullSphere, 45, 3)
	require.NoError(t, err)
	store, err := elevation.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	resolver, err := pyramid.New("srtm", levels, elevation.NewFactory(levels, store, 2, -32768, nil), pyramid.Options{Capacity: 1 << 10})
	require.NoError(t, err)
	t.Cleanup(func() { resolver.Close() })

	etag := func(a tile.Address) string { return "v1-" + a.Key() }
	h := New(&config.Config{}, zap.NewNop(), []Layer{{ID: "srtm", Kind: "elevation", Resolver: resolver, ETag: etag}})
	mux := http.NewServeMux()
	h.Register(mux)

	for _, header := range []string{`"v1-1/2/3"`, `W/"v1-1/2/3"`, `"other", W/"v1-1/2/3"`, `*`} {
		req := httptest.NewRequest(http.MethodGet, "/api/layers/srtm/tiles/1/2/3", nil)
		req.Header.Set("If-None-Match", header)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotModified, rec.Code, header)
		assert.Equal(t, `"v1-1/2/3"`, rec.Header().Get("ETag"))
	}
	assert.Equal(t, uint64(0), resolver.Stats().Misses)

	// A stale tag falls through to the resolver, which has no data.
	req := httptest.NewRequest(http.MethodGet, "/api/layers/srtm/tiles/1/2/3", nil)
	req.Header.Set("If-None-Match", `"v0-1/2/3"`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, uint64(1), resolver.Stats().Misses)
}

func TestETagMatches(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`"abc"`, true},
		{`W/"abc"`, true},
		{`"x", "abc"`, true},
		{`"x",W/"abc"`, true},
		{`*`, true},
		{`"abcd"`, false},
		{`abc`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, etagMatches(tt.header, `"abc"`), tt.header)
	}
}

func TestCORSMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/layers", nil)
	req.Host = "example.com"
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/layers", nil)
	req.Header.Set("Origin", "https://elsewhere.org")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(tile.ErrArgument))
	assert.Equal(t, http.StatusNotFound, statusFor(elevation.ErrNoData))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(pyramid.ErrClosed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
