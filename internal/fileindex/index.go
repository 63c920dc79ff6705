// Package fileindex maintains a local index of data files so searches for
// "the sales spreadsheet" resolve to concrete paths without rescanning the
// filesystem on every query.
package fileindex

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Indexable extensions; everything else is skipped.
var dataExtensions = map[string]bool{
	".csv": true, ".tsv": true, ".parquet": true, ".json": true,
	".xlsx": true, ".xls": true, ".txt": true, ".jsonl": true,
}

// Entry is one indexed file.
type Entry struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Ext        string    `json:"ext"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Stats summarizes the index.
type Stats struct {
	TotalFiles int64            `json:"total_files"`
	TotalBytes int64            `json:"total_bytes"`
	ByExt      map[string]int64 `json:"by_extension"`
}

// Indexer walks configured roots and records data files in the shared
// database.
type Indexer struct {
	db *sql.DB
}

// NewIndexer creates an indexer.
func NewIndexer(db *sql.DB) *Indexer {
	return &Indexer{db: db}
}

// Index walks each root and upserts every data file found. Returns the
// number of files recorded. Unreadable subtrees are skipped, not fatal.
func (ix *Indexer) Index(ctx context.Context, roots []string) (int, error) {
	count := 0
	now := time.Now().UTC()
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Debug().Err(err).Str("path", path).Msg("skipping unreadable entry")
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if !dataExtensions[ext] {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if err := ix.upsert(ctx, Entry{
				Path:       path,
				Name:       d.Name(),
				Ext:        ext,
				SizeBytes:  info.Size(),
				ModifiedAt: info.ModTime().UTC(),
				IndexedAt:  now,
			}); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil {
			return count, fmt.Errorf("index %s: %w", root, err)
		}
	}
	log.Info().Int("files", count).Int("roots", len(roots)).Msg("file index refreshed")
	return count, nil
}

func (ix *Indexer) upsert(ctx context.Context, e Entry) error {
	_, err := ix.db.ExecContext(ctx, `INSERT INTO indexed_files(path, name, ext, size_bytes, modified_at, indexed_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET name=excluded.name, ext=excluded.ext,
			size_bytes=excluded.size_bytes, modified_at=excluded.modified_at, indexed_at=excluded.indexed_at`,
		e.Path, e.Name, e.Ext, e.SizeBytes, e.ModifiedAt.Format(time.RFC3339), e.IndexedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert indexed file: %w", err)
	}
	return nil
}

// Search returns entries whose name contains the query, case-insensitively.
func (ix *Indexer) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 25
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := ix.db.QueryContext(ctx, `SELECT path, name, ext, size_bytes, modified_at, indexed_at
		FROM indexed_files WHERE LOWER(name) LIKE ? ORDER BY modified_at DESC LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var modified, indexed string
		if err := rows.Scan(&e.Path, &e.Name, &e.Ext, &e.SizeBytes, &modified, &indexed); err != nil {
			return nil, fmt.Errorf("scan indexed file: %w", err)
		}
		e.ModifiedAt, _ = time.Parse(time.RFC3339, modified)
		e.IndexedAt, _ = time.Parse(time.RFC3339, indexed)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats reports index totals grouped by extension.
func (ix *Indexer) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByExt: make(map[string]int64)}
	row := ix.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM indexed_files`)
	if err := row.Scan(&stats.TotalFiles, &stats.TotalBytes); err != nil {
		return Stats{}, fmt.Errorf("index totals: %w", err)
	}
	rows, err := ix.db.QueryContext(ctx, `SELECT ext, COUNT(*) FROM indexed_files GROUP BY ext`)
	if err != nil {
		return Stats{}, fmt.Errorf("index breakdown: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var ext string
		var n int64
		if err := rows.Scan(&ext, &n); err != nil {
			return Stats{}, fmt.Errorf("scan breakdown: %w", err)
		}
		stats.ByExt[ext] = n
	}
	return stats, rows.Err()
}
