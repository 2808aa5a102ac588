// Package examples loads the canned plan requests offered to clients.
package examples

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Load reads every *.json file in dir, in name order. A missing directory
// yields no examples.
func Load(dir string) ([]json.RawMessage, error) {
	if dir == "" {
		return []json.RawMessage{}, nil
	}
	return LoadFS(os.DirFS(dir))
}

func LoadFS(fsys fs.FS) ([]json.RawMessage, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if errors.Is(err, fs.ErrNotExist) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read examples: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]json.RawMessage, 0, len(names))
	for _, n := range names {
		b, err := fs.ReadFile(fsys, n)
		if err != nil {
			return nil, fmt.Errorf("read example %s: %w", n, err)
		}
		if !json.Valid(b) {
			return nil, fmt.Errorf("example %s is not valid JSON", n)
		}
		out = append(out, json.RawMessage(b))
	}
	return out, nil
}
