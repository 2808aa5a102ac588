// Package model defines the planning request and result types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Algorithm selectors accepted on both transports.
const (
	AlgoDummyNetwork    = "Dummy Network"
	AlgoMinCostFlow     = "Min Cost Flow"
	AlgoMinCostFlowPlus = "Min Cost Flow ++"
	AlgoCPLEX           = "CPLEX Network Optimizer"
	AlgoInputJSON       = "Input JSON Data Directly"
	AlgoClearCache      = "Clear the Cache of the Current Results"
)

// EngineAlgorithms lists the selectors that dispatch to an optimization engine.
var EngineAlgorithms = []string{AlgoDummyNetwork, AlgoMinCostFlow, AlgoMinCostFlowPlus, AlgoCPLEX}

func IsEngineAlgorithm(name string) bool {
	for _, a := range EngineAlgorithms {
		if a == name {
			return true
		}
	}
	return false
}

type Role string

const (
	RoleProvider     Role = "provider"
	RoleNewUser      Role = "newUser"
	RoleSource       Role = "source"
	RoleSink         Role = "sink"
	RoleIntermediate Role = "intermediate"
)

func (r Role) Valid() bool {
	switch r {
	case RoleProvider, RoleNewUser, RoleSource, RoleSink, RoleIntermediate:
		return true
	}
	return false
}

type Coordinate struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lng) || math.IsNaN(c.Lat) {
		return errors.New("coordinate is NaN")
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", c.Lng)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", c.Lat)
	}
	return nil
}

// Position is where a node sits: a geographic coordinate or a grid cell, never both.
type Position struct {
	coord *Coordinate
	cell  string
}

func AtCoordinate(c Coordinate) Position { return Position{coord: &c} }

func AtCell(cell string) Position { return Position{cell: cell} }

func (p Position) Coordinate() (Coordinate, bool) {
	if p.coord == nil {
		return Coordinate{}, false
	}
	return *p.coord, true
}

func (p Position) Cell() (string, bool) {
	if p.coord != nil || p.cell == "" {
		return "", false
	}
	return p.cell, true
}

func (p Position) IsZero() bool { return p.coord == nil && p.cell == "" }

// Equal compares by value, not by identity.
func (p Position) Equal(q Position) bool {
	if p.coord != nil || q.coord != nil {
		return p.coord != nil && q.coord != nil && *p.coord == *q.coord
	}
	return p.cell == q.cell
}

func (p Position) String() string {
	switch {
	case p.coord != nil:
		return fmt.Sprintf("(%g,%g)", p.coord.Lng, p.coord.Lat)
	case p.cell != "":
		return p.cell
	default:
		return "<empty>"
	}
}

type Node struct {
	Node     Position
	Role     Role
	Property map[string]any
	Extra    map[string]any
}

func (n Node) Clone() Node {
	return Node{
		Node:     n.Node,
		Role:     n.Role,
		Property: cloneMap(n.Property),
		Extra:    cloneMap(n.Extra),
	}
}

type Edge struct {
	Nodes [2]Position
	Extra map[string]any
}

func (e Edge) Clone() Edge {
	return Edge{Nodes: e.Nodes, Extra: cloneMap(e.Extra)}
}

// PlanRequest is one submission: nodes, the selected algorithm and free-form
// parameters merged into the engine input.
type PlanRequest struct {
	Nodes     []Node
	Algorithm string
	Params    map[string]any
}

func (r PlanRequest) Clone() PlanRequest {
	out := PlanRequest{
		Algorithm: r.Algorithm,
		Params:    cloneMap(r.Params),
	}
	if r.Nodes != nil {
		out.Nodes = make([]Node, len(r.Nodes))
		for i, n := range r.Nodes {
			out.Nodes[i] = n.Clone()
		}
	}
	return out
}

// Validate checks a freshly submitted request: every node must carry a valid
// coordinate and a known role.
func (r PlanRequest) Validate() error {
	if strings.TrimSpace(r.Algorithm) == "" {
		return errors.New("algorithm is required")
	}
	if len(r.Nodes) == 0 {
		return errors.New("at least one node is required")
	}
	for i, n := range r.Nodes {
		c, ok := n.Node.Coordinate()
		if !ok {
			return fmt.Errorf("node %d: position must be a {lng,lat} coordinate", i)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
		if n.Role != "" && !n.Role.Valid() {
			return fmt.Errorf("node %d: unknown role %q", i, n.Role)
		}
	}
	return nil
}

// EngineInput builds the engine argument: params, then nodes and the
// provider/newUser cell lists. Nodes must already be converted to cells.
func (r PlanRequest) EngineInput() (map[string]any, error) {
	in := make(map[string]any, len(r.Params)+2)
	for k, v := range r.Params {
		in[k] = v
	}
	providers := []string{}
	newUsers := []string{}
	for i, n := range r.Nodes {
		cell, ok := n.Node.Cell()
		if !ok {
			return nil, fmt.Errorf("node %d: expected cell, got %s", i, n.Node)
		}
		switch n.Role {
		case RoleProvider:
			providers = append(providers, cell)
		case RoleNewUser:
			newUsers = append(newUsers, cell)
		}
	}
	nodes := r.Nodes
	if nodes == nil {
		nodes = []Node{}
	}
	in["nodes"] = nodes
	in["coordinates"] = map[string]any{
		"providers": providers,
		"newUsers":  newUsers,
	}
	return in, nil
}

type PlanResult struct {
	Nodes     []Node
	Edges     []Edge
	Algorithm string
	Extra     map[string]any
}

func (r PlanResult) Clone() PlanResult {
	out := PlanResult{Algorithm: r.Algorithm, Extra: cloneMap(r.Extra)}
	if r.Nodes != nil {
		out.Nodes = make([]Node, len(r.Nodes))
		for i, n := range r.Nodes {
			out.Nodes[i] = n.Clone()
		}
	}
	if r.Edges != nil {
		out.Edges = make([]Edge, len(r.Edges))
		for i, e := range r.Edges {
			out.Edges[i] = e.Clone()
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	default:
		return v
	}
}
