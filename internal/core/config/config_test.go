package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "LRU")
	t.Setenv("H3_RES", "42")
	t.Setenv("ENGINE_TIMEOUT", "45s")
	t.Setenv("DUMMY_NETWORK_PATH", "/opt/algos/dummy.py")
	t.Setenv("CPLEX_PATH", "/opt/algos/cplex")

	cfg := FromEnv()
	if cfg.CacheBackend != "lru" {
		t.Fatalf("CacheBackend=%q want lru", cfg.CacheBackend)
	}
	if cfg.H3Res != 9 {
		t.Fatalf("out of range H3_RES should fall back to 9, got %d", cfg.H3Res)
	}
	if cfg.EngineTimeout != 45*time.Second {
		t.Fatalf("EngineTimeout=%v", cfg.EngineTimeout)
	}
	if cfg.CacheTTL != 0 {
		t.Fatalf("cache entries must not expire by default, got %v", cfg.CacheTTL)
	}
	if len(cfg.Engines) != 2 {
		t.Fatalf("engines=%+v want 2", cfg.Engines)
	}
	if cfg.Engines[0].Command != "python" || cfg.Engines[0].Path != "/opt/algos/dummy.py" {
		t.Fatalf("dummy network should run through python: %+v", cfg.Engines[0])
	}
	if cfg.Engines[1].Command != "" {
		t.Fatalf("cplex is a native binary: %+v", cfg.Engines[1])
	}
}

func TestParseEngines(t *testing.T) {
	y := `
engines:
  - name: Min Cost Flow
    path: /bin/mcf
  - name: CPLEX Network Optimizer
    kind: http
    url: http://solver:8000/solve
    timeout: 10m
`
	specs, err := ParseEngines([]byte(y))
	if err != nil {
		t.Fatalf("ParseEngines: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("len=%d", len(specs))
	}
	if specs[0].Kind != EngineKindProcess {
		t.Fatalf("default kind=%q", specs[0].Kind)
	}
	if specs[1].Timeout != 10*time.Minute {
		t.Fatalf("timeout=%v", specs[1].Timeout)
	}
}

func TestParseEngines_Rejects(t *testing.T) {
	bad := map[string]string{
		"unknown name":   "engines:\n  - name: Quantum\n    path: /x\n",
		"missing path":   "engines:\n  - name: Min Cost Flow\n",
		"missing url":    "engines:\n  - name: Min Cost Flow\n    kind: http\n",
		"duplicate":      "engines:\n  - name: Min Cost Flow\n    path: /a\n  - name: Min Cost Flow\n    path: /b\n",
		"unknown kind":   "engines:\n  - name: Min Cost Flow\n    kind: grpc\n    path: /a\n",
		"malformed yaml": "engines: [",
	}
	for name, y := range bad {
		if _, err := ParseEngines([]byte(y)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoad_EnginesFileReplacesEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "engines.yaml")
	if err := os.WriteFile(p, []byte("engines:\n  - name: Min Cost Flow ++\n    path: /bin/mcfpp\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DUMMY_NETWORK_PATH", "/opt/dummy.py")
	t.Setenv("ENGINES_FILE", p)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Engines) != 1 || cfg.Engines[0].Name != "Min Cost Flow ++" {
		t.Fatalf("engines=%+v", cfg.Engines)
	}
}

func TestFromEnv_AdmissionKeys(t *testing.T) {
	cfg := FromEnv()
	if cfg.AdmitThreshold != 0 || cfg.HotHalfLife != 10*time.Minute {
		t.Fatalf("admission must be off by default: %v %v", cfg.AdmitThreshold, cfg.HotHalfLife)
	}

	t.Setenv("CACHE_ADMIT_THRESHOLD", "2.5")
	t.Setenv("HOTNESS_HALF_LIFE", "90s")
	t.Setenv("LOG_HOTNESS_SAMPLE", "not-a-number")
	cfg = FromEnv()
	if cfg.AdmitThreshold != 2.5 || cfg.HotHalfLife != 90*time.Second {
		t.Fatalf("threshold=%v half-life=%v", cfg.AdmitThreshold, cfg.HotHalfLife)
	}
	if cfg.HotLogSample != 0.01 {
		t.Fatalf("bad float should fall back, got %v", cfg.HotLogSample)
	}
}
