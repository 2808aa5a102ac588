// Package gridindex resolves coordinates against an arbitrary table of named
// grid cells, each with a centre point. Nearest-cell queries use a k-d tree
// over planar (lng, lat).
package gridindex

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/spatial"
)

type Cell struct {
	ID     string
	Centre model.Coordinate
}

// Source streams grid rows; geostore.Store implements it.
type Source interface {
	EachGridCell(ctx context.Context, fn func(id string, lng, lat float64) error) error
}

type Index struct {
	tree    *kdtree.Tree
	centres map[string]model.Coordinate
}

var _ spatial.Index = (*Index)(nil)

// New builds an index over cells. Duplicate ids are rejected.
func New(cells []Cell) (*Index, error) {
	pts := make(points, 0, len(cells))
	centres := make(map[string]model.Coordinate, len(cells))
	for _, c := range cells {
		if c.ID == "" {
			return nil, errors.New("grid cell with empty id")
		}
		if err := c.Centre.Validate(); err != nil {
			return nil, fmt.Errorf("grid cell %q: %w", c.ID, err)
		}
		if _, dup := centres[c.ID]; dup {
			return nil, fmt.Errorf("grid cell %q listed twice", c.ID)
		}
		centres[c.ID] = c.Centre
		pts = append(pts, point{id: c.ID, xy: [2]float64{c.Centre.Lng, c.Centre.Lat}})
	}
	x := &Index{centres: centres}
	if len(pts) > 0 {
		x.tree = kdtree.New(pts, false)
	}
	return x, nil
}

func Load(ctx context.Context, src Source) (*Index, error) {
	var cells []Cell
	err := src.EachGridCell(ctx, func(id string, lng, lat float64) error {
		cells = append(cells, Cell{ID: id, Centre: model.Coordinate{Lng: lng, Lat: lat}})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load grid: %w", err)
	}
	return New(cells)
}

func (x *Index) Len() int { return len(x.centres) }

func (x *Index) NearestCell(_ context.Context, c model.Coordinate) (string, error) {
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", spatial.ErrOutsideGrid, err)
	}
	if x.tree == nil {
		return "", fmt.Errorf("%w: grid is empty", spatial.ErrOutsideGrid)
	}
	got, _ := x.tree.Nearest(point{xy: [2]float64{c.Lng, c.Lat}})
	p, ok := got.(point)
	if !ok {
		return "", fmt.Errorf("%w: no nearest cell", spatial.ErrOutsideGrid)
	}
	return p.id, nil
}

func (x *Index) CoordinateForCell(_ context.Context, cell string) (model.Coordinate, bool, error) {
	c, ok := x.centres[cell]
	return c, ok, nil
}

type point struct {
	id string
	xy [2]float64
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	return p.xy[d] - q.xy[d]
}

func (p point) Dims() int { return 2 }

// squared euclidean distance
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	dx := p.xy[0] - q.xy[0]
	dy := p.xy[1] - q.xy[1]
	return dx*dx + dy*dy
}

type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }
func (p points) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{points: p, Dim: d}, kdtree.MedianOfMedians(plane{points: p, Dim: d}))
}

type plane struct {
	kdtree.Dim
	points
}

func (p plane) Less(i, j int) bool { return p.points[i].xy[p.Dim] < p.points[j].xy[p.Dim] }
func (p plane) Swap(i, j int)      { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{Dim: p.Dim, points: p.points[start:end]}
}
