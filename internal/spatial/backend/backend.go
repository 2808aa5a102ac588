// Package backend selects the spatial index named in the configuration.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammed-shakir/h3-netplan/internal/spatial"
	"github.com/mohammed-shakir/h3-netplan/internal/spatial/gridindex"
	"github.com/mohammed-shakir/h3-netplan/internal/spatial/h3index"
)

const (
	H3   = "h3"
	Grid = "grid"
)

var ErrEmptyGrid = errors.New("grid table is empty")

// Open builds the index for name. The grid backend loads every row of src;
// the h3 backend ignores it.
func Open(ctx context.Context, name string, res int, src gridindex.Source) (spatial.Index, error) {
	switch name {
	case H3, "":
		x, err := h3index.New(res)
		if err != nil {
			return nil, err
		}
		return x, nil
	case Grid:
		if src == nil {
			return nil, errors.New("grid backend needs a grid source")
		}
		x, err := gridindex.Load(ctx, src)
		if err != nil {
			return nil, err
		}
		if x.Len() == 0 {
			return nil, ErrEmptyGrid
		}
		return x, nil
	default:
		return nil, fmt.Errorf("unknown spatial backend %q", name)
	}
}
