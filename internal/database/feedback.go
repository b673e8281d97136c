// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package database

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/paperscope/paperscope/internal/catalog"
)

// AppendFeedback records one interaction event. The log is append-only;
// repeated (user, paper) events accumulate and are weighted downstream.
func (db *DB) AppendFeedback(ctx context.Context, ev catalog.Feedback) error {
	if ev.Kind.Weight() == 0 {
		return fmt.Errorf("unknown feedback kind %q", ev.Kind)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO feedback (user_id, paper_id, kind, created_at)
		VALUES (?, ?, ?, ?)`,
		ev.UserID, ev.PaperID, string(ev.Kind), ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append feedback: %w", err)
	}
	return nil
}

// ReadFeedback returns the full interaction log in insertion order.
func (db *DB) ReadFeedback(ctx context.Context) ([]catalog.Feedback, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id, paper_id, kind, created_at FROM feedback ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []catalog.Feedback
	for rows.Next() {
		var (
			ev   catalog.Feedback
			kind string
		)
		if err := rows.Scan(&ev.UserID, &ev.PaperID, &kind, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		ev.Kind = catalog.FeedbackKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("feedback iteration failed: %w", err)
	}
	return events, nil
}

// CountFeedback returns the interaction log size.
func (db *DB) CountFeedback(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM feedback`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return n, nil
}

// UpsertUser creates or updates a user keyed by email and returns the id.
func (db *DB) UpsertUser(ctx context.Context, email string, subscriptions []string) (int64, error) {
	subs, err := encodeStrings(subscriptions)
	if err != nil {
		return 0, err
	}

	var id int64
	err = db.conn.QueryRowContext(ctx, `
		INSERT INTO users (email, subscriptions)
		VALUES (?, ?)
		ON CONFLICT (email) DO UPDATE SET subscriptions = excluded.subscriptions
		RETURNING id`,
		email, subs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert user %s: %w", email, err)
	}
	return id, nil
}

// ListUsers returns every registered user.
func (db *DB) ListUsers(ctx context.Context) ([]catalog.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, email, subscriptions FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []catalog.User
	for rows.Next() {
		var (
			u    catalog.User
			subs string
		)
		if err := rows.Scan(&u.ID, &u.Email, &subs); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		if subs != "" && subs != "[]" {
			if err := json.Unmarshal([]byte(subs), &u.Subscriptions); err != nil {
				return nil, fmt.Errorf("user %d: failed to decode subscriptions: %w", u.ID, err)
			}
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("user iteration failed: %w", err)
	}
	return users, nil
}
