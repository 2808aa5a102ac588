package geostore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Boundary returns the stored boundary documents in insertion order. The
// result is never nil.
func (s *Store) Boundary(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM boundary ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query boundary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []json.RawMessage{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan boundary: %w", err)
		}
		out = append(out, json.RawMessage(doc))
	}
	return out, rows.Err()
}

// ReplaceBoundary swaps the whole boundary set atomically. Every document must
// be a JSON object.
func (s *Store) ReplaceBoundary(ctx context.Context, docs []json.RawMessage) error {
	for i, d := range docs {
		if !isObject(d) {
			return fmt.Errorf("boundary doc %d is not a JSON object", i)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM boundary`); err != nil {
		return fmt.Errorf("clear boundary: %w", err)
	}
	for i, d := range docs {
		var buf bytes.Buffer
		if err := json.Compact(&buf, d); err != nil {
			return fmt.Errorf("boundary doc %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO boundary (doc) VALUES (?)`, buf.String()); err != nil {
			return fmt.Errorf("insert boundary doc %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ImportBoundary reads either a JSON array of documents or a single document.
func (s *Store) ImportBoundary(ctx context.Context, r io.Reader) (int, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read boundary: %w", err)
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0, errors.New("empty boundary input")
	}
	var docs []json.RawMessage
	if b[0] == '[' {
		if err := json.Unmarshal(b, &docs); err != nil {
			return 0, fmt.Errorf("parse boundary array: %w", err)
		}
	} else {
		docs = []json.RawMessage{b}
	}
	if err := s.ReplaceBoundary(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func isObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal(raw, &m) == nil && m != nil
}
