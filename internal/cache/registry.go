package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mohammed-shakir/h3-netplan/internal/core/config"
)

type Factory func(ctx context.Context, cfg config.Config, logger *slog.Logger) (Interface, error)

var reg = map[string]Factory{}

// Register is called from backend package init functions.
func Register(name string, f Factory) {
	reg[name] = f
}

func Backends() []string {
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// New builds the named backend, falling back to the in-memory one for names
// nobody registered.
func New(ctx context.Context, name string, cfg config.Config, logger *slog.Logger) (Interface, error) {
	if f, ok := reg[name]; ok {
		return f(ctx, cfg, logger)
	}
	if f, ok := reg["memory"]; ok {
		logger.Warn("unknown cache backend; falling back to memory", "backend", name)
		return f(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("no factory for cache backend %q and no memory backend registered", name)
}
