// Package catalog discovers imagery layers in the data directory. Every
// raster gets a persistent UUID stored in a JSON sidecar next to it.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Layer struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	CurrentFilename  string `json:"current_filename"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Bytes            int64  `json:"bytes"`
}

// ProbeFunc returns the pixel dimensions of a raster.
type ProbeFunc func(path string) (width, height int, err error)

// Scanner keeps the layer list for a data directory.
type Scanner struct {
	dataDir   string
	probe     ProbeFunc
	supported func(path string) bool
	logger    *zap.Logger

	mu     sync.RWMutex
	layers []Layer
}

func New(dataDir string, probe ProbeFunc, supported func(string) bool, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		dataDir:   dataDir,
		probe:     probe,
		supported: supported,
		logger:    logger,
	}
}

// Scan rebuilds the layer list. Rasters without a sidecar are renamed to
// {uuid}{ext} and get one; sidecars without a raster are deleted.
func (s *Scanner) Scan() error {
	if err := s.cleanupOrphanedJSON(); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	var layers []Layer
	for _, entry := range entries {
		if entry.IsDir() || !s.supported(entry.Name()) {
			continue
		}
		path := s.getFilePath(entry.Name())
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("Error getting file info", zap.String("path", path), zap.Error(err))
			continue
		}

		ext := strings.ToLower(filepath.Ext(path))
		basename := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		jsonPath := s.getFilePath(basename + ".json")

		if _, err := os.Stat(jsonPath); err == nil {
			layer, err := s.loadMetadata(jsonPath)
			if err != nil {
				s.logger.Warn("Failed to load metadata, skipping", zap.String("json_path", jsonPath), zap.Error(err))
				continue
			}
			layers = append(layers, *layer)
			continue
		}

		layer, err := s.register(path, ext, info.Size())
		if err != nil {
			s.logger.Warn("Failed to register raster", zap.String("path", path), zap.Error(err))
			continue
		}
		layers = append(layers, *layer)
	}

	s.mu.Lock()
	s.layers = layers
	s.mu.Unlock()
	return nil
}

// register renames a new raster to its UUID and writes the sidecar.
func (s *Scanner) register(path, ext string, size int64) (*Layer, error) {
	width, height, err := s.probe(path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe image: %w", err)
	}

	id := uuid.New().String()
	finalPath := s.getFilePath(id + ext)
	if err := os.Rename(path, finalPath); err != nil {
		return nil, fmt.Errorf("failed to rename file: %w", err)
	}
	s.logger.Info("Migrated file to UUID", zap.String("old_path", path), zap.String("new_path", finalPath))

	layer := &Layer{
		ID:               id,
		OriginalFilename: filepath.Base(path),
		CurrentFilename:  filepath.Base(finalPath),
		Width:            width,
		Height:           height,
		Bytes:            size,
	}
	if err := s.saveMetadata(s.getFilePath(id+".json"), layer); err != nil {
		s.logger.Warn("Failed to save metadata", zap.String("id", id), zap.Error(err))
	}
	return layer, nil
}

func (s *Scanner) cleanupOrphanedJSON() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.ToLower(filepath.Ext(entry.Name())) != ".json" {
			continue
		}
		path := s.getFilePath(entry.Name())
		basename := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))

		meta, err := s.loadMetadata(path)
		switch {
		case err != nil:
			s.removeJSON(path, "invalid")
		case meta.ID != basename:
			s.logger.Warn("UUID mismatch in JSON",
				zap.String("json_path", path),
				zap.String("filename_uuid", basename),
				zap.String("json_uuid", meta.ID))
			s.removeJSON(path, "mismatched")
		default:
			if _, err := os.Stat(s.getFilePath(meta.CurrentFilename)); err != nil {
				s.removeJSON(path, "orphaned")
			}
		}
	}
	return nil
}

func (s *Scanner) removeJSON(path, reason string) {
	if err := os.Remove(path); err != nil {
		s.logger.Warn("Failed to delete JSON", zap.String("path", path), zap.String("reason", reason), zap.Error(err))
		return
	}
	s.logger.Info("Deleted JSON file", zap.String("path", path), zap.String("reason", reason))
}

func (s *Scanner) Layers() []Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Layer(nil), s.layers...)
}

// PathOf returns the raster path of a layer.
func (s *Scanner) PathOf(layer Layer) string {
	return s.getFilePath(layer.CurrentFilename)
}

func (s *Scanner) getFilePath(filename string) string {
	return filepath.Join(s.dataDir, filename)
}

func (s *Scanner) loadMetadata(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Layer
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

func (s *Scanner) saveMetadata(path string, meta *Layer) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}
