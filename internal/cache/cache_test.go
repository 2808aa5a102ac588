package cache_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mohammed-shakir/h3-netplan/internal/cache"
	_ "github.com/mohammed-shakir/h3-netplan/internal/cache/lrustore"
	"github.com/mohammed-shakir/h3-netplan/internal/cache/memstore"
	"github.com/mohammed-shakir/h3-netplan/internal/core/config"
	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
)

func req(alg string, cells ...string) model.PlanRequest {
	r := model.PlanRequest{Algorithm: alg, Params: map[string]any{"budget": 10.0, "mode": "fast"}}
	for _, c := range cells {
		r.Nodes = append(r.Nodes, model.Node{Node: model.AtCell(c), Role: model.RoleNewUser})
	}
	return r
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := req(model.AlgoDummyNetwork, "c1", "c2")
	b := model.PlanRequest{
		Algorithm: model.AlgoDummyNetwork,
		// same params inserted in the other order
		Params: map[string]any{"mode": "fast", "budget": 10.0},
		Nodes:  a.Clone().Nodes,
	}
	fa, err := cache.Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	fb, _ := cache.Fingerprint(b)
	if fa != fb {
		t.Fatalf("equal requests hashed differently: %s vs %s", fa, fb)
	}
	if len(fa) != 40 {
		t.Fatalf("digest %q is not 40 hex chars", fa)
	}
}

func TestFingerprint_Sensitive(t *testing.T) {
	base, _ := cache.Fingerprint(req(model.AlgoDummyNetwork, "c1", "c2"))
	for name, r := range map[string]model.PlanRequest{
		"algorithm":  req(model.AlgoMinCostFlow, "c1", "c2"),
		"node order": req(model.AlgoDummyNetwork, "c2", "c1"),
		"node cell":  req(model.AlgoDummyNetwork, "c1", "c3"),
	} {
		got, _ := cache.Fingerprint(r)
		if got == base {
			t.Fatalf("%s change did not alter the fingerprint", name)
		}
	}

	// integers past 2^53 collapse to the same float64
	lo := decode(t, `{"nodes":[{"node":"c1","role":"provider"}],"algorithm":"Dummy Network","seed":9007199254740992}`)
	hi := decode(t, `{"nodes":[{"node":"c1","role":"provider"}],"algorithm":"Dummy Network","seed":9007199254740993}`)
	fl, _ := cache.Fingerprint(lo)
	fh, _ := cache.Fingerprint(hi)
	if fl == fh {
		t.Fatalf("distinct seed params share fingerprint %s", fl)
	}
	b, _ := cache.Canonical(hi)
	if !strings.Contains(string(b), `"seed":9007199254740993`) {
		t.Fatalf("canonical form rounded the seed: %s", b)
	}
}

func TestFingerprint_NumberSpellings(t *testing.T) {
	a := decode(t, `{"algorithm":"Dummy Network","nodes":[{"node":"c1","nodeProperty":{"w":2}}],"budget":2}`)
	b := decode(t, `{"algorithm":"Dummy Network","nodes":[{"node":"c1","nodeProperty":{"w":2.0}}],"budget":2e0}`)
	fa, _ := cache.Fingerprint(a)
	fb, _ := cache.Fingerprint(b)
	if fa != fb {
		t.Fatalf("2, 2.0 and 2e0 hashed differently")
	}
	// a decoded request and the same request built in Go agree
	built := model.PlanRequest{
		Algorithm: "Dummy Network",
		Nodes:     []model.Node{{Node: model.AtCell("c1"), Property: map[string]any{"w": 2.0}}},
		Params:    map[string]any{"budget": 2.0},
	}
	if fc, _ := cache.Fingerprint(built); fc != fa {
		t.Fatalf("decoded and constructed requests hashed differently")
	}
}

func decode(t *testing.T, s string) model.PlanRequest {
	t.Helper()
	var r model.PlanRequest
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return r
}

func TestCanonical_SortedKeys(t *testing.T) {
	r := model.PlanRequest{Algorithm: "Dummy Network", Params: map[string]any{"z": 1.0, "a": true}}
	b, err := cache.Canonical(r)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	want := `{"a":true,"algorithm":"Dummy Network","nodes":[],"z":1}`
	if string(b) != want {
		t.Fatalf("canonical=%s want %s", b, want)
	}
}

func TestRegistry_FallsBackToMemory(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{CacheShards: 4, CacheLRUSize: 8}

	c, err := cache.New(context.Background(), "nope", cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.(*memstore.Store); !ok {
		t.Fatalf("fallback backend is %T", c)
	}

	names := cache.Backends()
	if len(names) < 2 || names[0] != "lru" || names[1] != "memory" {
		t.Fatalf("backends=%v", names)
	}
}
