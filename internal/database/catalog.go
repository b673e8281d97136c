// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/paperscope/paperscope/internal/catalog"
	"github.com/paperscope/paperscope/internal/metrics"
)

// UpsertPaper inserts a paper or, when the title already exists, updates
// the mutable fields of the existing record. Two concurrent inserts of
// the same title may race on the unique constraint; the loser retries as
// an update-by-title, so the operation is idempotent either way.
func (db *DB) UpsertPaper(ctx context.Context, fields catalog.PaperFields, source string) (int64, error) {
	if err := fields.Validate(); err != nil {
		return 0, err
	}

	authors, err := encodeStrings(fields.Authors)
	if err != nil {
		return 0, err
	}
	keywords, err := encodeStrings(fields.Keywords)
	if err != nil {
		return 0, err
	}
	categories, err := encodeStrings(fields.Categories)
	if err != nil {
		return 0, err
	}

	var id int64
	err = db.conn.QueryRowContext(ctx, `
		INSERT INTO papers (title, abstract, url, authors, keywords, categories, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (title) DO UPDATE SET
			abstract = excluded.abstract,
			url = excluded.url,
			authors = excluded.authors,
			keywords = excluded.keywords,
			categories = excluded.categories,
			source = excluded.source,
			updated_at = now()
		RETURNING id`,
		fields.Title, fields.Abstract, fields.URL, authors, keywords, categories, source,
	).Scan(&id)
	if err != nil {
		// Unique-constraint race: another writer inserted the title between
		// conflict check and insert. Resolve by updating the winner's row.
		if isUniqueViolation(err) {
			return db.updateByTitle(ctx, fields, source)
		}
		return 0, fmt.Errorf("failed to upsert paper %q: %w", fields.Title, err)
	}

	metrics.CatalogUpserts.WithLabelValues("upsert").Inc()
	return id, nil
}

// updateByTitle is the fallback path after a lost insert race.
func (db *DB) updateByTitle(ctx context.Context, fields catalog.PaperFields, source string) (int64, error) {
	authors, _ := encodeStrings(fields.Authors)
	keywords, _ := encodeStrings(fields.Keywords)
	categories, _ := encodeStrings(fields.Categories)

	var id int64
	err := db.conn.QueryRowContext(ctx, `
		UPDATE papers SET
			abstract = ?, url = ?, authors = ?, keywords = ?, categories = ?,
			source = ?, updated_at = now()
		WHERE title = ?
		RETURNING id`,
		fields.Abstract, fields.URL, authors, keywords, categories, source, fields.Title,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to update paper %q after insert race: %w", fields.Title, err)
	}

	metrics.CatalogUpserts.WithLabelValues("conflict_retry").Inc()
	return id, nil
}

// GetPaper returns one paper by id, embedding included.
func (db *DB) GetPaper(ctx context.Context, id int64) (*catalog.Paper, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, title, abstract, url, authors, keywords, categories,
		       source, embedding, created_at, updated_at
		FROM papers WHERE id = ?`, id)

	p, err := scanPaper(row)
	if err != nil {
		return nil, fmt.Errorf("failed to read paper %d: %w", id, err)
	}
	return p, nil
}

// GetPapers returns papers by id, skipping ids with no record. Order
// follows the input ids.
func (db *DB) GetPapers(ctx context.Context, ids []int64) ([]catalog.Paper, error) {
	papers := make([]catalog.Paper, 0, len(ids))
	for _, id := range ids {
		p, err := db.GetPaper(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, nil
}

// ReadAbstracts streams (id, abstract) pairs for embedding training.
func (db *DB) ReadAbstracts(ctx context.Context) (map[int64]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, abstract FROM papers`)
	if err != nil {
		return nil, fmt.Errorf("failed to read abstracts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	abstracts := make(map[int64]string)
	for rows.Next() {
		var (
			id       int64
			abstract string
		)
		if err := rows.Scan(&id, &abstract); err != nil {
			return nil, fmt.Errorf("failed to scan abstract row: %w", err)
		}
		abstracts[id] = abstract
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("abstract iteration failed: %w", err)
	}
	return abstracts, nil
}

// ReadEmbeddings returns the embedding vectors of every embedded paper.
// Papers without a vector are omitted.
func (db *DB) ReadEmbeddings(ctx context.Context) (map[int64][]float64, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, embedding FROM papers WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to read embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	embeddings := make(map[int64][]float64)
	for rows.Next() {
		var (
			id  int64
			raw any
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		vec, err := decodeVector(raw)
		if err != nil {
			return nil, fmt.Errorf("paper %d: %w", id, err)
		}
		embeddings[id] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("embedding iteration failed: %w", err)
	}
	return embeddings, nil
}

// WriteEmbedding stores the abstract vector for one paper, replacing any
// previous vector.
func (db *DB) WriteEmbedding(ctx context.Context, paperID int64, vec []float64) error {
	vals := make([]float32, len(vec))
	for i, v := range vec {
		vals[i] = float32(v)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE papers SET embedding = ? WHERE id = ?`, vals, paperID)
	if err != nil {
		return fmt.Errorf("failed to write embedding for paper %d: %w", paperID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to write embedding: paper %d not found", paperID)
	}
	return nil
}

// CountPapers returns the catalog size.
func (db *DB) CountPapers(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM papers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count papers: %w", err)
	}
	return n, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPaper(s scanner) (*catalog.Paper, error) {
	var (
		p          catalog.Paper
		authors    string
		keywords   string
		categories string
		rawVec     any
	)
	err := s.Scan(&p.ID, &p.Title, &p.Abstract, &p.URL, &authors, &keywords,
		&categories, &p.Source, &rawVec, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if p.Authors, err = decodeStrings(authors); err != nil {
		return nil, err
	}
	if p.Keywords, err = decodeStrings(keywords); err != nil {
		return nil, err
	}
	if p.Categories, err = decodeStrings(categories); err != nil {
		return nil, err
	}
	if rawVec != nil {
		if p.Embedding, err = decodeVector(rawVec); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// encodeStrings serializes a string list as a JSON text column value.
func encodeStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode string list: %w", err)
	}
	return string(b), nil
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode string list: %w", err)
	}
	return values, nil
}

// decodeVector converts a scanned FLOAT[] value into []float64. The
// driver yields list columns as []any with float32 elements.
func decodeVector(raw any) ([]float64, error) {
	switch v := raw.(type) {
	case []any:
		vec := make([]float64, len(v))
		for i, el := range v {
			switch f := el.(type) {
			case float32:
				vec[i] = float64(f)
			case float64:
				vec[i] = f
			default:
				return nil, fmt.Errorf("unexpected embedding element type %T", el)
			}
		}
		return vec, nil
	case []float32:
		vec := make([]float64, len(v))
		for i, f := range v {
			vec[i] = float64(f)
		}
		return vec, nil
	case []float64:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected embedding column type %T", raw)
	}
}

// isUniqueViolation detects a lost title-insert race.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "constraint error")
}
