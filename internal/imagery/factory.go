// Package imagery cuts JPEG tiles out of a georeferenced plate carrée
// raster with libvips.
package imagery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"tilepyramid/internal/geo"
	"tilepyramid/internal/tile"
)

// Tile is an encoded JPEG image of one pyramid cell.
type Tile struct {
	addr tile.Address
	Data []byte
	ETag string
}

func (t *Tile) Address() tile.Address { return t.addr }
func (t *Tile) Size() int64           { return int64(len(t.Data)) }

// Source describes the raster a layer is cut from. The raster spans the
// level set's domain sector.
type Source struct {
	LayerID string
	Path    string
	Width   int
	Height  int
}

type Options struct {
	TileSize    int
	JPEGQuality int
	// Background fills tile area outside the raster.
	Background []float64
}

func DefaultOptions() Options {
	return Options{
		TileSize:    256,
		JPEGQuality: 82,
		Background:  []float64{221, 221, 221}, // #ddd
	}
}

// Factory implements tile.Factory for one raster.
type Factory struct {
	levels *tile.LevelSet
	source Source
	opts   Options
	logger *zap.Logger
}

var _ tile.Factory = (*Factory)(nil)

func NewFactory(levels *tile.LevelSet, source Source, opts Options, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{levels: levels, source: source, opts: opts, logger: logger}
}

func (f *Factory) CreateTile(ctx context.Context, sector *geo.Sector, level, row, column int) (tile.Tile, error) {
	addr, err := tile.CheckRequest(f.levels, sector, level, row, column)
	if err != nil {
		return nil, err
	}

	win, err := sectorWindow(f.levels.Sector(), addr.Sector(), f.source.Width, f.source.Height)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tile.ErrArgument, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	image, err := loadImage(f.source.Path, vips.AccessRandom)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer image.Close()

	// Step 1: Extract the sector window without decoding the rest of the raster.
	if err := image.ExtractArea(win.x, win.y, win.width, win.height); err != nil {
		return nil, fmt.Errorf("failed to extract area: %w", err)
	}

	// Step 2: Scale so the longer window side fills the tile.
	tileSize := float64(f.opts.TileSize)
	resizeScale := tileSize / float64(max(win.width, win.height))

	resizeOpts := vips.DefaultResizeOptions()
	resizeOpts.Kernel = vips.KernelLanczos3
	if err := image.Resize(resizeScale, resizeOpts); err != nil {
		return nil, fmt.Errorf("failed to resize: %w", err)
	}

	// Step 3: Pad edge tiles, anchored top-left to keep alignment.
	if image.Width() < f.opts.TileSize || image.Height() < f.opts.TileSize {
		embedOpts := vips.DefaultEmbedOptions()
		embedOpts.Extend = vips.ExtendBackground
		embedOpts.Background = f.opts.Background
		if err := image.Embed(0, 0, f.opts.TileSize, f.opts.TileSize, embedOpts); err != nil {
			return nil, fmt.Errorf("failed to pad: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jpegOpts := vips.DefaultJpegsaveBufferOptions()
	jpegOpts.Q = f.opts.JPEGQuality
	jpegOpts.Interlace = false

	data, err := image.JpegsaveBuffer(jpegOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}

	f.logger.Debug("Rendered imagery tile",
		zap.String("key", addr.Key()),
		zap.Int("bytes", len(data)),
	)
	return &Tile{addr: addr, Data: data, ETag: f.ETag(addr)}, nil
}

// ETag identifies the tile at addr without building it.
func (f *Factory) ETag(addr tile.Address) string {
	keyStr := fmt.Sprintf("%s_%d_%d/%s.jpeg", f.source.LayerID, f.opts.TileSize, f.opts.JPEGQuality, addr.Key())
	hash := sha256.Sum256([]byte(keyStr))
	return hex.EncodeToString(hash[:])[:16]
}

// Probe returns the pixel dimensions of the raster at path.
func Probe(path string) (int, int, error) {
	image, err := loadImage(path, vips.AccessSequential)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer image.Close()
	return image.Width(), image.Height(), nil
}

// Supported reports whether the file extension is a raster format loadImage
// understands.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff", ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}

func loadImage(path string, access vips.Access) (*vips.Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(path))
	}
}
