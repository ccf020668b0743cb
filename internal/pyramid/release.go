package pyramid

import (
	"io"

	"go.uber.org/zap"

	"tilepyramid/internal/cache"
	"tilepyramid/internal/tile"
)

// releaseListener closes tiles that hold resources once they leave the
// resolver, cached or not, and logs failed cleanups.
type releaseListener struct {
	layer  string
	logger *zap.Logger
}

var _ cache.Listener[string, tile.Tile] = releaseListener{}

func (l releaseListener) EntryRemoved(key string, t tile.Tile) error {
	if closer, ok := t.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (l releaseListener) RemovalError(err error, key string, _ tile.Tile) {
	l.logger.Warn("Failed to release tile",
		zap.String("layer", l.layer),
		zap.String("key", key),
		zap.Error(err),
	)
}
