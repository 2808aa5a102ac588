package geostore

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type GridCell struct {
	Cell string
	Lng  float64
	Lat  float64
}

// EachGridCell streams every grid row in cell order.
func (s *Store) EachGridCell(ctx context.Context, fn func(id string, lng, lat float64) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT cell, lng, lat FROM grid_cells ORDER BY cell`)
	if err != nil {
		return fmt.Errorf("query grid cells: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var c GridCell
		if err := rows.Scan(&c.Cell, &c.Lng, &c.Lat); err != nil {
			return fmt.Errorf("scan grid cell: %w", err)
		}
		if err := fn(c.Cell, c.Lng, c.Lat); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) GridCellCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM grid_cells`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count grid cells: %w", err)
	}
	return n, nil
}

// UpsertGridCells writes cells in one transaction; an existing cell id is
// moved to the new centre.
func (s *Store) UpsertGridCells(ctx context.Context, cells []GridCell) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO grid_cells (cell, lng, lat) VALUES (?, ?, ?)
		ON CONFLICT(cell) DO UPDATE SET lng = excluded.lng, lat = excluded.lat`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, c := range cells {
		if c.Cell == "" {
			return 0, fmt.Errorf("row %d: empty cell id", i)
		}
		if _, err := stmt.ExecContext(ctx, c.Cell, c.Lng, c.Lat); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", c.Cell, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(cells), nil
}

// ImportGridCSV loads rows of "cell,lng,lat". A header row is skipped.
func (s *Store) ImportGridCSV(ctx context.Context, r io.Reader) (int, error) {
	cells, err := ParseGridCSV(r)
	if err != nil {
		return 0, err
	}
	return s.UpsertGridCells(ctx, cells)
}

func ParseGridCSV(r io.Reader) ([]GridCell, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true

	var out []GridCell
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("grid csv: %w", err)
		}
		lng, errLng := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if errLng != nil || errLat != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("grid csv line %d: bad coordinate %q,%q", line, rec[1], rec[2])
		}
		out = append(out, GridCell{Cell: strings.TrimSpace(rec[0]), Lng: lng, Lat: lat})
	}
	return out, nil
}

// LookupGridCell is a point query used by the CLI.
func (s *Store) LookupGridCell(ctx context.Context, cell string) (GridCell, bool, error) {
	c := GridCell{Cell: cell}
	err := s.db.QueryRowContext(ctx, `SELECT lng, lat FROM grid_cells WHERE cell = ?`, cell).Scan(&c.Lng, &c.Lat)
	if errors.Is(err, sql.ErrNoRows) {
		return GridCell{}, false, nil
	}
	if err != nil {
		return GridCell{}, false, fmt.Errorf("lookup %s: %w", cell, err)
	}
	return c, true, nil
}
