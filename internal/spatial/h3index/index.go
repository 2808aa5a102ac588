// Package h3index resolves coordinates against the H3 hexagonal grid.
package h3index

import (
	"context"
	"fmt"
	"strings"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/spatial"
)

type Index struct {
	res int
}

var _ spatial.Index = (*Index)(nil)

func New(res int) (*Index, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	return &Index{res: res}, nil
}

func (x *Index) Resolution() int { return x.res }

// NearestCell returns the cell at the index resolution containing c.
func (x *Index) NearestCell(_ context.Context, c model.Coordinate) (string, error) {
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", spatial.ErrOutsideGrid, err)
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(c.Lat, c.Lng), x.res)
	if err != nil {
		return "", fmt.Errorf("h3 latlng to cell: %w", err)
	}
	return cell.String(), nil
}

// CoordinateForCell returns the centre of cell. Any valid H3 cell resolves,
// whatever its resolution.
func (x *Index) CoordinateForCell(_ context.Context, cell string) (model.Coordinate, bool, error) {
	c, ok := parseCell(cell)
	if !ok {
		return model.Coordinate{}, false, nil
	}
	ll, err := h3.CellToLatLng(c)
	if err != nil {
		return model.Coordinate{}, false, fmt.Errorf("h3 cell to latlng: %w", err)
	}
	return model.Coordinate{Lng: ll.Lng, Lat: ll.Lat}, true, nil
}

func parseCell(s string) (h3.Cell, bool) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, false
	}
	if !c.IsValid() {
		return 0, false
	}
	return c, true
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
