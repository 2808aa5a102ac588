package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/h3-netplan/internal/geostore"
	"github.com/mohammed-shakir/h3-netplan/internal/spatial/h3index"
)

func openStore(cmd *cobra.Command, opts *RootOptions) (*geostore.Store, error) {
	s, err := geostore.Open(cmd.Context(), opts.cfg.GeoDBPath)
	if err != nil {
		return nil, commandError("%w", err)
	}
	return s, nil
}

func NewGridCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Manage the grid table used by the grid spatial backend",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <cells.csv|->",
		Short: "Upsert grid cells from a cell,lng,lat CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			s, err := openStore(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			n, err := s.ImportGridCSV(cmd.Context(), bytes.NewReader(b))
			if err != nil {
				return err
			}
			total, err := s.GridCellCount(cmd.Context())
			if err != nil {
				return err
			}
			return emit(cmd, rootOpts, map[string]int{"imported": n, "total": total},
				fmt.Sprintf("imported %d cells (%d in table)", n, total))
		},
	})
	return cmd
}

func NewBoundaryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boundary",
		Short: "Manage the boundary polygons served with every plan",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <boundary.json|->",
		Short: "Replace the boundary with a JSON document or array of documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			s, err := openStore(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			n, err := s.ImportBoundary(cmd.Context(), bytes.NewReader(b))
			if err != nil {
				return err
			}
			return emit(cmd, rootOpts, map[string]int{"imported": n}, fmt.Sprintf("boundary replaced (%d documents)", n))
		},
	})

	var res int
	cells := &cobra.Command{
		Use:   "cells",
		Short: "Cover the stored boundary polygons with H3 cells",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if res < 0 {
				res = rootOpts.cfg.H3Res
			}
			x, err := h3index.New(res)
			if err != nil {
				return commandError("%w", err)
			}
			s, err := openStore(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			docs, err := s.Boundary(cmd.Context())
			if err != nil {
				return err
			}
			out, skipped, err := coverBoundary(x, docs)
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
			return emit(cmd, rootOpts, map[string]any{"res": res, "cells": out, "skipped": skipped},
				fmt.Sprintf("%d cells at res %d (%d documents skipped)\n%s", len(out), res, skipped, strings.Join(out, "\n")))
		},
	}
	cells.Flags().IntVar(&res, "res", -1, "H3 resolution (default H3_RES)")
	cmd.AddCommand(cells)
	return cmd
}

// coverBoundary unions the cell cover of every Polygon or MultiPolygon
// document. Other documents are counted and skipped.
func coverBoundary(x *h3index.Index, docs []json.RawMessage) ([]string, int, error) {
	seen := make(map[string]struct{})
	skipped := 0
	for i, d := range docs {
		var hdr struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(d, &hdr) != nil || (hdr.Type != "Polygon" && hdr.Type != "MultiPolygon") {
			skipped++
			continue
		}
		cs, err := x.CellsForBoundary(d)
		if err != nil {
			return nil, 0, fmt.Errorf("boundary document %d: %w", i, err)
		}
		for _, c := range cs {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, skipped, nil
}

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or apply geostore schema migrations",
	}
	report := func(cmd *cobra.Command, s *geostore.Store) error {
		v, dirty, err := s.MigrateVersion()
		if err != nil {
			return err
		}
		return emit(cmd, rootOpts, map[string]any{"version": v, "dirty": dirty},
			fmt.Sprintf("schema version %d (dirty=%v)", v, dirty))
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if err := s.MigrateUp(); err != nil {
				return err
			}
			return report(cmd, s)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			return report(cmd, s)
		},
	})
	return cmd
}
