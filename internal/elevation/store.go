package elevation

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"

	"tilepyramid/internal/tile"
)

// Store reads and writes compressed elevation tiles on disk.
// Structure: {root}/{level}/{row}/{row}_{column}.bil.zst
type Store struct {
	root    string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewStore(root string) (*Store, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Store{root: root, encoder: encoder, decoder: decoder}, nil
}

// Close flushes the encoder and releases the decoder's background
// goroutines. The store is unusable afterwards; closing twice is safe.
func (s *Store) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

func (s *Store) buildFilePath(addr tile.Address) string {
	row := strconv.Itoa(addr.Row())
	dir := filepath.Join(s.root, strconv.Itoa(addr.Level()), row)
	return filepath.Join(dir, fmt.Sprintf("%s_%d.bil.zst", row, addr.Column()))
}

// Read returns the little-endian int16 samples of addr. A missing file
// yields an error satisfying errors.Is(err, os.ErrNotExist).
func (s *Store) Read(addr tile.Address) ([]int16, error) {
	compressed, err := os.ReadFile(s.buildFilePath(addr))
	if err != nil {
		return nil, err
	}
	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress tile %s: %w", addr, err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("tile %s has odd byte length %d", addr, len(raw))
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return samples, nil
}

// Write stores samples for addr, replacing any existing file atomically.
func (s *Store) Write(addr tile.Address, samples []int16) error {
	filePath := s.buildFilePath(addr)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}

	raw := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(v))
	}
	compressed := s.encoder.EncodeAll(raw, nil)

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, compressed, 0644); err != nil {
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename tile: %w", err)
	}
	return nil
}
