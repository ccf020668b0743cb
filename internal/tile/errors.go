package tile

import "errors"

// ErrArgument reports an invalid sector, level, row or column.
var ErrArgument = errors.New("tile: invalid argument")
