package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/h3-netplan/internal/core/model"
)

const (
	EngineKindProcess = "process"
	EngineKindHTTP    = "http"
)

// EngineSpec describes how to reach one optimization engine.
type EngineSpec struct {
	Name    string        `yaml:"name"`
	Kind    string        `yaml:"kind"`
	Command string        `yaml:"command"`
	Path    string        `yaml:"path"`
	Args    []string      `yaml:"args"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// MaxOutput caps the bytes read from one run; 0 uses the engine default.
	MaxOutput int64 `yaml:"max_output"`
}

type enginesFile struct {
	Engines []EngineSpec `yaml:"engines"`
}

// LoadEngines reads a YAML engine table:
//
//	engines:
//	  - name: Dummy Network
//	    command: python
//	    path: ./algorithms/dummy_network.py
//	  - name: CPLEX Network Optimizer
//	    kind: http
//	    url: http://solver:8000/solve
//	    timeout: 10m
//	    max_output: 16777216
func LoadEngines(path string) ([]EngineSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engines file: %w", err)
	}
	return ParseEngines(b)
}

func ParseEngines(b []byte) ([]EngineSpec, error) {
	var f enginesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse engines yaml: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Engines))
	for i := range f.Engines {
		s := &f.Engines[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Kind == "" {
			s.Kind = EngineKindProcess
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("engine %d: %w", i, err)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("engine %q defined twice", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return f.Engines, nil
}

func (s EngineSpec) Validate() error {
	if !model.IsEngineAlgorithm(s.Name) {
		return fmt.Errorf("unknown engine name %q", s.Name)
	}
	switch s.Kind {
	case EngineKindProcess:
		if s.Path == "" {
			return errors.New("process engine requires path")
		}
	case EngineKindHTTP:
		if s.URL == "" {
			return errors.New("http engine requires url")
		}
	default:
		return fmt.Errorf("unsupported engine kind %q", s.Kind)
	}
	if s.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if s.MaxOutput < 0 {
		return errors.New("max_output must not be negative")
	}
	return nil
}

// engine paths use the same names as the legacy configuration file
func enginesFromEnv() []EngineSpec {
	var out []EngineSpec
	add := func(name, pathKey, command string) {
		if p := strings.TrimSpace(os.Getenv(pathKey)); p != "" {
			out = append(out, EngineSpec{Name: name, Kind: EngineKindProcess, Command: command, Path: p})
		}
	}
	add(model.AlgoDummyNetwork, "DUMMY_NETWORK_PATH", getenv("DUMMY_NETWORK_CMD", "python"))
	add(model.AlgoMinCostFlow, "MIN_COST_FLOW_PATH", "")
	add(model.AlgoMinCostFlowPlus, "MIN_COST_FLOW_PLUS_PATH", "")
	add(model.AlgoCPLEX, "CPLEX_PATH", "")
	return out
}
