// Package index stores the search tuples produced by applied plans in a
// SQLite database, one row per tuple, keyed by package FMRI.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/atomikpanda/pkgdeliver/internal/plan"
)

const schema = `
CREATE TABLE IF NOT EXISTS tuples (
	fmri       TEXT NOT NULL,
	action     TEXT NOT NULL,
	key        TEXT NOT NULL,
	domain     TEXT NOT NULL,
	field      TEXT NOT NULL,
	token      TEXT NOT NULL,
	annotation TEXT
);
CREATE INDEX IF NOT EXISTS tuples_token ON tuples (token);
CREATE INDEX IF NOT EXISTS tuples_fmri ON tuples (fmri);
`

// Index is an open search index.
type Index struct {
	db *sql.DB
}

// Open opens or creates the index database at path.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// A single writer keeps SQLite from returning SQLITE_BUSY inside Replace.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

// Replace swaps every tuple recorded for fmri with groups in one transaction.
func (ix *Index) Replace(ctx context.Context, fmri string, groups []plan.IndexGroup) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM tuples WHERE fmri = ?`, fmri); err != nil {
		return fmt.Errorf("clear %s: %w", fmri, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tuples (fmri, action, key, domain, field, token, annotation) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, g := range groups {
		for _, t := range g.Tuples {
			var ann sql.NullString
			if t.Annotation != nil {
				ann = sql.NullString{String: *t.Annotation, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, fmri, g.Action, g.Key, t.Domain, t.Field, t.Token, ann); err != nil {
				return fmt.Errorf("index %s %s: %w", g.Action, g.Key, err)
			}
		}
	}
	return tx.Commit()
}

// Hit is one matching tuple. Annotation is nil when the tuple carried none.
type Hit struct {
	FMRI       string
	Action     string
	Key        string
	Domain     string
	Field      string
	Token      string
	Annotation *string
}

// Query selects tuples by exact token. Domain and Field narrow the match
// when set.
type Query struct {
	Token  string
	Domain string
	Field  string
}

// Lookup returns the tuples matching q ordered by FMRI and key.
func (ix *Index) Lookup(ctx context.Context, q Query) ([]Hit, error) {
	query := `SELECT fmri, action, key, domain, field, token, annotation FROM tuples WHERE token = ?`
	args := []any{q.Token}
	if q.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, q.Domain)
	}
	if q.Field != "" {
		query += ` AND field = ?`
		args = append(args, q.Field)
	}
	query += ` ORDER BY fmri, key, domain, field`

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []Hit
	for rows.Next() {
		var h Hit
		var ann sql.NullString
		if err := rows.Scan(&h.FMRI, &h.Action, &h.Key, &h.Domain, &h.Field, &h.Token, &ann); err != nil {
			return nil, err
		}
		if ann.Valid {
			h.Annotation = &ann.String
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Packages returns the FMRIs with at least one indexed tuple.
func (ix *Index) Packages(ctx context.Context) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT DISTINCT fmri FROM tuples ORDER BY fmri`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ParseQuery reads "token", "domain:token" or "domain:field:token". The
// token part is taken verbatim once the optional prefixes are consumed, so
// FMRI tokens such as pkg:/libc must be given with both prefixes.
func ParseQuery(s string) Query {
	parts := strings.SplitN(s, ":", 3)
	switch len(parts) {
	case 3:
		return Query{Domain: parts[0], Field: parts[1], Token: parts[2]}
	case 2:
		return Query{Domain: parts[0], Token: parts[1]}
	default:
		return Query{Token: s}
	}
}
