// Package spatial defines the coordinate/grid-cell lookup used by the planner.
package spatial

import (
	"context"
	"errors"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
)

// ErrOutsideGrid is returned when no cell can represent a coordinate.
var ErrOutsideGrid = errors.New("coordinate outside grid")

// Index maps coordinates to grid cells and back.
//
// CoordinateForCell reports ok=false, with a nil error, for a cell the index
// does not know. Errors are reserved for lookup failures.
type Index interface {
	NearestCell(ctx context.Context, c model.Coordinate) (string, error)
	CoordinateForCell(ctx context.Context, cell string) (model.Coordinate, bool, error)
}
