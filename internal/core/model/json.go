package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// All types below serialize as flat JSON objects; unknown keys are kept in
// Extra so engines can pass through attributes the service does not model.
// Maps are marshalled with sorted keys, which makes the output canonical.

func (p Position) MarshalJSON() ([]byte, error) {
	switch {
	case p.coord != nil:
		return json.Marshal(*p.coord)
	case p.cell != "":
		return json.Marshal(p.cell)
	default:
		return []byte("null"), nil
	}
}

func (p *Position) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*p = Position{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '{':
		var raw struct {
			Lng *float64 `json:"lng"`
			Lat *float64 `json:"lat"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return fmt.Errorf("decode coordinate: %w", err)
		}
		if raw.Lng == nil || raw.Lat == nil {
			return errors.New("coordinate requires both lng and lat")
		}
		p.coord = &Coordinate{Lng: *raw.Lng, Lat: *raw.Lat}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode cell: %w", err)
		}
		if s == "" {
			return errors.New("empty cell id")
		}
		p.cell = s
		return nil
	default:
		// numeric cell ids are kept as their literal text
		if _, err := strconv.ParseFloat(string(b), 64); err != nil {
			return fmt.Errorf("position must be a coordinate object or cell id, got %s", b)
		}
		p.cell = string(b)
		return nil
	}
}

func (n Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Extra)+3)
	for k, v := range n.Extra {
		out[k] = v
	}
	out["node"] = n.Node
	if n.Role != "" {
		out["role"] = n.Role
	}
	if n.Property != nil {
		out["nodeProperty"] = n.Property
	}
	return json.Marshal(out)
}

func (n *Node) UnmarshalJSON(b []byte) error {
	fields, err := splitObject(b)
	if err != nil {
		return fmt.Errorf("decode node: %w", err)
	}
	*n = Node{}
	if raw, ok := fields["node"]; ok {
		if err := json.Unmarshal(raw, &n.Node); err != nil {
			return fmt.Errorf("node.node: %w", err)
		}
		delete(fields, "node")
	}
	if raw, ok := fields["role"]; ok {
		if err := json.Unmarshal(raw, &n.Role); err != nil {
			return fmt.Errorf("node.role: %w", err)
		}
		delete(fields, "role")
	}
	if raw, ok := fields["nodeProperty"]; ok {
		if !isNull(raw) {
			v, err := decodeValue(raw)
			if err != nil {
				return fmt.Errorf("node.nodeProperty: %w", err)
			}
			m, ok := v.(map[string]any)
			if !ok {
				return errors.New("node.nodeProperty: expected JSON object")
			}
			n.Property = m
		}
		delete(fields, "nodeProperty")
	}
	n.Extra, err = decodeRest(fields)
	return err
}

func (e Edge) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+1)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["nodes"] = e.Nodes
	return json.Marshal(out)
}

func (e *Edge) UnmarshalJSON(b []byte) error {
	fields, err := splitObject(b)
	if err != nil {
		return fmt.Errorf("decode edge: %w", err)
	}
	*e = Edge{}
	raw, ok := fields["nodes"]
	if !ok {
		return errors.New("edge.nodes is required")
	}
	var ends []Position
	if err := json.Unmarshal(raw, &ends); err != nil {
		return fmt.Errorf("edge.nodes: %w", err)
	}
	if len(ends) != 2 {
		return fmt.Errorf("edge.nodes must have 2 endpoints, got %d", len(ends))
	}
	e.Nodes = [2]Position{ends[0], ends[1]}
	delete(fields, "nodes")
	e.Extra, err = decodeRest(fields)
	return err
}

func (r PlanRequest) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Params)+2)
	for k, v := range r.Params {
		out[k] = v
	}
	nodes := r.Nodes
	if nodes == nil {
		nodes = []Node{}
	}
	out["nodes"] = nodes
	if r.Algorithm != "" {
		out["algorithm"] = r.Algorithm
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts "nodes" either as an array or as a string holding a
// JSON array, which is how form posts carry it.
func (r *PlanRequest) UnmarshalJSON(b []byte) error {
	fields, err := splitObject(b)
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	*r = PlanRequest{}
	if raw, ok := fields["nodes"]; ok {
		nodes, err := DecodeNodes(raw)
		if err != nil {
			return err
		}
		r.Nodes = nodes
		delete(fields, "nodes")
	}
	if raw, ok := fields["algorithm"]; ok {
		if err := json.Unmarshal(raw, &r.Algorithm); err != nil {
			return fmt.Errorf("algorithm: %w", err)
		}
		delete(fields, "algorithm")
	}
	r.Params, err = decodeRest(fields)
	return err
}

// DecodeNodes decodes a node array given directly or as a JSON string.
func DecodeNodes(raw []byte) ([]Node, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("nodes: %w", err)
		}
		raw = []byte(s)
	}
	var nodes []Node
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("nodes: %w", err)
	}
	return nodes, nil
}

func (r PlanResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+3)
	for k, v := range r.Extra {
		out[k] = v
	}
	nodes := r.Nodes
	if nodes == nil {
		nodes = []Node{}
	}
	edges := r.Edges
	if edges == nil {
		edges = []Edge{}
	}
	out["nodes"] = nodes
	out["edges"] = edges
	if r.Algorithm != "" {
		out["algorithm"] = r.Algorithm
	}
	return json.Marshal(out)
}

func (r *PlanResult) UnmarshalJSON(b []byte) error {
	fields, err := splitObject(b)
	if err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	*r = PlanResult{}
	raw, ok := fields["nodes"]
	if !ok {
		return errors.New("result.nodes is required")
	}
	if err := json.Unmarshal(raw, &r.Nodes); err != nil {
		return fmt.Errorf("result.nodes: %w", err)
	}
	delete(fields, "nodes")
	if raw, ok := fields["edges"]; ok {
		if !isNull(raw) {
			if err := json.Unmarshal(raw, &r.Edges); err != nil {
				return fmt.Errorf("result.edges: %w", err)
			}
		}
		delete(fields, "edges")
	}
	if raw, ok := fields["algorithm"]; ok {
		if err := json.Unmarshal(raw, &r.Algorithm); err != nil {
			return fmt.Errorf("result.algorithm: %w", err)
		}
		delete(fields, "algorithm")
	}
	r.Extra, err = decodeRest(fields)
	return err
}

func splitObject(b []byte) (map[string]json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil, errors.New("expected JSON object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func decodeRest(fields map[string]json.RawMessage) (map[string]any, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(fields))
	for k, raw := range fields {
		v, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// decodeValue decodes free-form JSON with numbers kept as json.Number, so
// integers beyond 2^53 reach the fingerprint and the engine unrounded.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return canonicalNumbers(v), nil
}

func canonicalNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		return canonicalNumber(t)
	case map[string]any:
		for k, e := range t {
			t[k] = canonicalNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = canonicalNumbers(e)
		}
	}
	return v
}

// canonicalNumber keeps integer literals as written and rewrites fractions
// and exponents the way encoding/json prints a float64, so 2, 2.0 and 2e0
// all encode as 2.
func canonicalNumber(n json.Number) json.Number {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if s == "-0" {
			return "0"
		}
		return n
	}
	f, err := n.Float64()
	if err != nil {
		return n
	}
	b, err := json.Marshal(f)
	if err != nil {
		return n
	}
	return json.Number(b)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
