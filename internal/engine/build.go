package engine

import (
	"fmt"
	"net/http"

	"github.com/mohammed-shakir/h3-netplan/internal/core/config"
)

// FromSpecs builds one engine per configured entry. HTTP engines share client.
func FromSpecs(specs []config.EngineSpec, client *http.Client) ([]Algorithm, error) {
	out := make([]Algorithm, 0, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("engine %q: %w", s.Name, err)
		}
		switch s.Kind {
		case config.EngineKindHTTP:
			out = append(out, NewHTTP(s.Name, s.URL, client).WithTimeout(s.Timeout).WithMaxOutput(s.MaxOutput))
		default:
			out = append(out, NewProcess(s.Name, s.Command, s.Path, s.Args...).WithTimeout(s.Timeout).WithMaxOutput(s.MaxOutput))
		}
	}
	return out, nil
}
