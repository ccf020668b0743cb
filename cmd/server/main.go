package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tilepyramid/internal/catalog"
	"tilepyramid/internal/config"
	"tilepyramid/internal/elevation"
	"tilepyramid/internal/geo"
	httphandlers "tilepyramid/internal/http"
	"tilepyramid/internal/imagery"
	"tilepyramid/internal/logger"
	"tilepyramid/internal/metrics"
	"tilepyramid/internal/pyramid"
	"tilepyramid/internal/tile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                                // Disable disk cache
		MaxCacheSize:     0,                                // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)

	log.Info("Starting tile server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.String("elevation_dir", cfg.ElevationDir),
		zap.Int("cache_capacity_mb", cfg.CacheCapacityMB),
	)

	levels, err := tile.NewLevelSet(geo.FullSphere, cfg.LevelZeroDelta, cfg.NumLevels)
	if err != nil {
		log.Fatal("Invalid level set", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	scanner := catalog.New(cfg.DataDir, imagery.Probe, imagery.Supported, log)
	if err := scanner.Scan(); err != nil {
		log.Warn("Initial scan failed", zap.Error(err))
	}

	opts := pyramid.Options{Capacity: cfg.CacheCapacity(), Logger: log, Metrics: m}
	imageryOpts := imagery.Options{
		TileSize:    cfg.TileSize,
		JPEGQuality: cfg.JPEGQuality,
		Background:  imagery.DefaultOptions().Background,
	}

	var layers []httphandlers.Layer
	for _, l := range scanner.Layers() {
		source := imagery.Source{LayerID: l.ID, Path: scanner.PathOf(l), Width: l.Width, Height: l.Height}
		factory := imagery.NewFactory(levels, source, imageryOpts, log)
		r, err := pyramid.New(l.ID, levels, factory, opts)
		if err != nil {
			log.Fatal("Failed to create resolver", zap.String("layer", l.ID), zap.Error(err))
		}
		layers = append(layers, httphandlers.Layer{
			ID:       l.ID,
			Kind:     "imagery",
			Name:     l.OriginalFilename,
			Width:    l.Width,
			Height:   l.Height,
			Resolver: r,
			ETag:     factory.ETag,
		})
	}

	var store *elevation.Store
	if cfg.ElevationDir != "" {
		store, err = elevation.NewStore(cfg.ElevationDir)
		if err != nil {
			log.Fatal("Failed to open elevation store", zap.Error(err))
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Error("Failed to close elevation store", zap.Error(err))
			}
		}()

		factory := elevation.NewFactory(levels, store, cfg.ElevationWidth, cfg.MissingData, log)
		r, err := pyramid.New("elevation", levels, factory, opts)
		if err != nil {
			log.Fatal("Failed to create resolver", zap.String("layer", "elevation"), zap.Error(err))
		}
		layers = append(layers, httphandlers.Layer{ID: "elevation", Kind: "elevation", Name: "Elevation", Resolver: r})
	}

	log.Info("Layers ready", zap.Int("count", len(layers)))

	handlers := httphandlers.New(cfg, log, layers)

	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	handler := handlers.CORSMiddleware(handlers.RequestLoggingMiddleware(mux))

	warmupCtx, stopWarmup := context.WithCancel(context.Background())
	defer stopWarmup()
	if cfg.WarmupLevels > 0 {
		go warmupTiles(warmupCtx, cfg.WarmupLevels, cfg.WarmupWorkers, layers, log)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stopWarmup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	var closeErr error
	for _, l := range layers {
		closeErr = multierr.Append(closeErr, l.Resolver.Close())
	}
	if closeErr != nil {
		log.Error("Failed to close resolvers", zap.Error(closeErr))
	}

	log.Info("Server stopped")
}

func warmupTiles(ctx context.Context, upTo, workers int, layers []httphandlers.Layer, log *zap.Logger) {
	if len(layers) == 0 {
		return
	}

	log.Info("Starting tile warmup", zap.Int("levels", upTo), zap.Int("layers", len(layers)))
	start := time.Now()

	for _, l := range layers {
		addrs := warmupAddresses(l.Resolver.LevelSet(), upTo)
		if err := l.Resolver.Prefetch(ctx, addrs, workers); err != nil {
			log.Debug("Warmup incomplete", zap.String("layer", l.ID), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}

	log.Info("Tile warmup completed", zap.Duration("took", time.Since(start)))
}

// warmupAddresses lists every tile of levels 0 through upTo, clamped to the
// last level, coarse levels first.
func warmupAddresses(levels *tile.LevelSet, upTo int) []tile.Address {
	upTo = min(upTo, levels.LastLevel())
	var addrs []tile.Address
	for level := 0; level <= upTo; level++ {
		for row := 0; row < levels.Rows(level); row++ {
			for col := 0; col < levels.Columns(level); col++ {
				addr, err := levels.Address(level, row, col)
				if err != nil {
					continue
				}
				addrs = append(addrs, addr)
			}
		}
	}
	return addrs
}
