package transform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
	"github.com/mohammed-shakir/h3-netplan/internal/spatial/gridindex"
)

func testGrid(t *testing.T) *gridindex.Index {
	t.Helper()
	x, err := gridindex.New([]gridindex.Cell{
		{ID: "cellA", Centre: model.Coordinate{Lng: 10, Lat: 20}},
		{ID: "cellB", Centre: model.Coordinate{Lng: 11, Lat: 21}},
		{ID: "cellC", Centre: model.Coordinate{Lng: 12, Lat: 22}},
	})
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	return x
}

func at(lng, lat float64) model.Position {
	return model.AtCoordinate(model.Coordinate{Lng: lng, Lat: lat})
}

func TestToCells_PreservesOrderAndInput(t *testing.T) {
	tr := New(testGrid(t), 2)
	in := []model.Node{
		{Node: at(11.1, 21.1), Role: model.RoleNewUser},
		{Node: at(10, 20), Role: model.RoleProvider, Property: map[string]any{"capacity": 4.0}},
		{Node: at(12.2, 21.9), Role: model.RoleNewUser},
	}
	out, err := tr.ToCells(context.Background(), in)
	if err != nil {
		t.Fatalf("ToCells: %v", err)
	}
	want := []string{"cellB", "cellA", "cellC"}
	for i, n := range out {
		if c, _ := n.Node.Cell(); c != want[i] {
			t.Fatalf("node %d cell=%q want %q", i, c, want[i])
		}
		if n.Role != in[i].Role {
			t.Fatalf("node %d role changed", i)
		}
	}
	if _, ok := in[0].Node.Coordinate(); !ok {
		t.Fatalf("input nodes were mutated")
	}
	out[1].Property["capacity"] = 0.0
	if in[1].Property["capacity"] != 4.0 {
		t.Fatalf("output shares property maps with input")
	}
}

func TestToCells_RejectsCellsAndEmpty(t *testing.T) {
	tr := New(testGrid(t), 0)
	_, err := tr.ToCells(context.Background(), []model.Node{{Node: model.AtCell("cellA")}})
	if !errors.Is(err, ErrAlreadyCell) {
		t.Fatalf("err=%v want ErrAlreadyCell", err)
	}
	_, err = tr.ToCells(context.Background(), []model.Node{{}})
	if !errors.Is(err, ErrNoPosition) {
		t.Fatalf("err=%v want ErrNoPosition", err)
	}
}

func TestToCells_LookupFailureIsResolutionError(t *testing.T) {
	empty, _ := gridindex.New(nil)
	tr := New(empty, 4)
	_, err := tr.ToCells(context.Background(), []model.Node{{Node: at(1, 1)}})
	var re *ResolutionError
	if !errors.As(err, &re) || !errors.Is(err, ErrResolution) {
		t.Fatalf("err=%v want *ResolutionError", err)
	}
	if re.Where != "node 0" {
		t.Fatalf("Where=%q", re.Where)
	}
}

func TestRoundTrip_RestoresCoordinates(t *testing.T) {
	tr := New(testGrid(t), 4)
	ctx := context.Background()
	in := []model.Node{
		{Node: at(10, 20), Role: model.RoleProvider},
		{Node: at(11, 21), Role: model.RoleNewUser},
		{Node: at(12, 22), Role: model.RoleNewUser},
	}
	cells, err := tr.ToCells(ctx, in)
	if err != nil {
		t.Fatalf("ToCells: %v", err)
	}

	// engine echoes nodes and links every user to the provider
	res := model.PlanResult{Nodes: cells}
	for _, n := range cells[1:] {
		res.Edges = append(res.Edges, model.Edge{Nodes: [2]model.Position{cells[0].Node, n.Node}})
	}

	back, err := tr.ToCoordinates(ctx, res)
	if err != nil {
		t.Fatalf("ToCoordinates: %v", err)
	}
	for i := range in {
		if !back.Nodes[i].Node.Equal(in[i].Node) {
			t.Fatalf("node %d: got %s want %s", i, back.Nodes[i].Node, in[i].Node)
		}
	}
	wantEdges := []model.Edge{
		{Nodes: [2]model.Position{at(10, 20), at(11, 21)}},
		{Nodes: [2]model.Position{at(10, 20), at(12, 22)}},
	}
	if diff := cmp.Diff(wantEdges, back.Edges); diff != "" {
		t.Fatalf("edges mismatch (-want +got):\n%s", diff)
	}
	if _, ok := res.Nodes[0].Node.Cell(); !ok {
		t.Fatalf("input result was mutated")
	}
}

func TestToCoordinates_DuplicateCellsUpdatedConsistently(t *testing.T) {
	tr := New(testGrid(t), 1)
	res := model.PlanResult{
		Nodes: []model.Node{{Node: model.AtCell("cellA")}, {Node: model.AtCell("cellA")}, {Node: model.AtCell("cellB")}},
		Edges: []model.Edge{
			{Nodes: [2]model.Position{model.AtCell("cellA"), model.AtCell("cellB")}},
			{Nodes: [2]model.Position{model.AtCell("cellB"), model.AtCell("cellA")}},
		},
	}
	out, err := tr.ToCoordinates(context.Background(), res)
	if err != nil {
		t.Fatalf("ToCoordinates: %v", err)
	}
	if !out.Nodes[0].Node.Equal(out.Nodes[1].Node) {
		t.Fatalf("duplicate cells resolved differently")
	}
	if !out.Edges[0].Nodes[0].Equal(out.Edges[1].Nodes[1]) || !out.Edges[0].Nodes[0].Equal(at(10, 20)) {
		t.Fatalf("edge endpoints not substituted by value: %+v", out.Edges)
	}
}

func TestToCoordinates_Failures(t *testing.T) {
	tr := New(testGrid(t), 4)
	ctx := context.Background()

	_, err := tr.ToCoordinates(ctx, model.PlanResult{Nodes: []model.Node{{Node: model.AtCell("nowhere")}}})
	var re *ResolutionError
	if !errors.As(err, &re) || re.Ref != "nowhere" {
		t.Fatalf("unknown cell: err=%v", err)
	}

	_, err = tr.ToCoordinates(ctx, model.PlanResult{
		Nodes: []model.Node{{Node: model.AtCell("cellA")}},
		Edges: []model.Edge{{Nodes: [2]model.Position{model.AtCell("cellA"), model.AtCell("cellC")}}},
	})
	if !errors.As(err, &re) || re.Where != "edge 0 endpoint 1" {
		t.Fatalf("dangling edge: err=%v", err)
	}

	_, err = tr.ToCoordinates(ctx, model.PlanResult{Nodes: []model.Node{{Node: at(1, 1)}}})
	if !errors.Is(err, ErrNotCell) {
		t.Fatalf("coordinate node: err=%v want ErrNotCell", err)
	}
}

type countingIndex struct {
	*gridindex.Index
	reverse atomic.Int32
}

func (c *countingIndex) CoordinateForCell(ctx context.Context, cell string) (model.Coordinate, bool, error) {
	c.reverse.Add(1)
	return c.Index.CoordinateForCell(ctx, cell)
}

func TestToCoordinates_OneLookupPerNode(t *testing.T) {
	idx := &countingIndex{Index: testGrid(t)}
	tr := New(idx, 4)
	res := model.PlanResult{Nodes: []model.Node{
		{Node: model.AtCell("cellA")}, {Node: model.AtCell("cellA")}, {Node: model.AtCell("cellC")},
	}}
	if _, err := tr.ToCoordinates(context.Background(), res); err != nil {
		t.Fatalf("ToCoordinates: %v", err)
	}
	if got := idx.reverse.Load(); got != 3 {
		t.Fatalf("lookups=%d want 3", got)
	}
}
