// Package transform converts node positions between coordinates and grid cells.
package transform

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/core/observability"
	"github.com/mohammed-shakir/h3-netplan/internal/spatial"
)

var (
	// ErrAlreadyCell rejects input nodes that skip the coordinate stage.
	ErrAlreadyCell = errors.New("node position is already a grid cell")

	// ErrNotCell rejects output nodes or edge endpoints that are not cells.
	ErrNotCell = errors.New("position is not a grid cell")

	ErrNoPosition = errors.New("node has no position")
	ErrResolution = errors.New("spatial lookup failed")
)

// ResolutionError names the position that could not be looked up.
type ResolutionError struct {
	Where string // "node 3", "edge 1 endpoint 0"
	Ref   string
	Err   error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s (%s): %v", e.Where, e.Ref, e.Err)
	}
	return fmt.Sprintf("resolve %s (%s): no coordinate for cell", e.Where, e.Ref)
}

func (e *ResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrResolution}
	}
	return []error{ErrResolution, e.Err}
}

const defaultConcurrency = 16

type Transformer struct {
	idx   spatial.Index
	limit int
}

// New returns a Transformer that issues at most concurrency lookups at once.
func New(idx spatial.Index, concurrency int) *Transformer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Transformer{idx: idx, limit: concurrency}
}

// ToCells replaces every node coordinate with its nearest cell. Order is
// preserved and nodes is not modified.
func (t *Transformer) ToCells(ctx context.Context, nodes []model.Node) ([]model.Node, error) {
	coords := make([]model.Coordinate, len(nodes))
	for i, n := range nodes {
		c, ok := n.Node.Coordinate()
		switch {
		case ok:
			coords[i] = c
		case n.Node.IsZero():
			return nil, fmt.Errorf("node %d: %w", i, ErrNoPosition)
		default:
			return nil, fmt.Errorf("node %d: %w", i, ErrAlreadyCell)
		}
	}

	cells := make([]string, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.limit)
	for i := range coords {
		g.Go(func() error {
			cell, err := t.idx.NearestCell(gctx, coords[i])
			if err != nil {
				return &ResolutionError{Where: fmt.Sprintf("node %d", i), Ref: model.AtCoordinate(coords[i]).String(), Err: err}
			}
			cells[i] = cell
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		observability.AddSpatialLookups("to_cell", "error", 1)
		return nil, err
	}
	observability.AddSpatialLookups("to_cell", "ok", len(cells))

	out := make([]model.Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
		out[i].Node = model.AtCell(cells[i])
	}
	return out, nil
}

// ToCoordinates resolves the cell of every output node, in node order, and
// substitutes the coordinate into each node and every edge endpoint naming the
// same cell. Duplicate cells are looked up once per occurrence. Any failure
// aborts the whole conversion.
func (t *Transformer) ToCoordinates(ctx context.Context, res model.PlanResult) (model.PlanResult, error) {
	cells := make([]string, len(res.Nodes))
	for i, n := range res.Nodes {
		c, ok := n.Node.Cell()
		if !ok {
			return model.PlanResult{}, fmt.Errorf("node %d (%s): %w", i, n.Node, ErrNotCell)
		}
		cells[i] = c
	}

	coords := make([]model.Coordinate, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.limit)
	for i := range cells {
		g.Go(func() error {
			c, ok, err := t.idx.CoordinateForCell(gctx, cells[i])
			if err != nil || !ok {
				return &ResolutionError{Where: fmt.Sprintf("node %d", i), Ref: cells[i], Err: err}
			}
			coords[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		observability.AddSpatialLookups("to_coordinate", "error", 1)
		return model.PlanResult{}, err
	}
	observability.AddSpatialLookups("to_coordinate", "ok", len(cells))

	byCell := make(map[string]model.Coordinate, len(cells))
	for i, c := range cells {
		if _, seen := byCell[c]; !seen {
			byCell[c] = coords[i]
		}
	}

	out := res.Clone()
	for i := range out.Nodes {
		out.Nodes[i].Node = model.AtCoordinate(coords[i])
	}
	for j := range out.Edges {
		for k, ep := range out.Edges[j].Nodes {
			cell, ok := ep.Cell()
			if !ok {
				return model.PlanResult{}, fmt.Errorf("edge %d endpoint %d (%s): %w", j, k, ep, ErrNotCell)
			}
			c, ok := byCell[cell]
			if !ok {
				return model.PlanResult{}, &ResolutionError{
					Where: fmt.Sprintf("edge %d endpoint %d", j, k),
					Ref:   cell,
					Err:   errors.New("no node carries this cell"),
				}
			}
			out.Edges[j].Nodes[k] = model.AtCoordinate(c)
		}
	}
	return out, nil
}
