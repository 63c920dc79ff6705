// Package catalog maintains dataset metadata: what tables have been
// registered, their shape, and a one-line summary per dataset that the
// prompt builder folds into model context.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Dataset is one registered table's metadata. ColumnInfo maps column name to
// type name.
type Dataset struct {
	ID          string            `json:"dataset_id"`
	Title       string            `json:"title"`
	FileName    string            `json:"file_name"`
	Description string            `json:"description,omitempty"`
	RowCount    int64             `json:"row_count"`
	ColumnInfo  map[string]string `json:"column_info,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store persists dataset metadata in the shared database.
type Store struct {
	db *sql.DB
}

// NewStore creates a catalog store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Register inserts a dataset record, assigning an id when absent.
func (s *Store) Register(ctx context.Context, ds Dataset) (Dataset, error) {
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}
	columns, err := json.Marshal(ds.ColumnInfo)
	if err != nil {
		return Dataset{}, fmt.Errorf("marshal column info: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO datasets(dataset_id, title, file_name, description, row_count, column_info, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Title, ds.FileName, ds.Description, ds.RowCount, string(columns), ds.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return Dataset{}, fmt.Errorf("insert dataset: %w", err)
	}
	return ds, nil
}

// List returns all datasets, newest first.
func (s *Store) List(ctx context.Context) ([]Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dataset_id, title, file_name, description, row_count, column_info, created_at
		FROM datasets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// Get returns one dataset by id.
func (s *Store) Get(ctx context.Context, id string) (Dataset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT dataset_id, title, file_name, description, row_count, column_info, created_at
		FROM datasets WHERE dataset_id=?`, id)
	return scanDataset(row)
}

// Delete removes one dataset's metadata. The backing file is left in place.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE dataset_id=?`, id)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Summaries renders one line per dataset for prompt context.
func (s *Store) Summaries(ctx context.Context) ([]string, error) {
	datasets, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(datasets))
	for _, ds := range datasets {
		desc := ds.Description
		if desc == "" {
			desc = "no description"
		}
		out = append(out, fmt.Sprintf("%s (%s): %s - %d rows, %d columns",
			ds.Title, ds.FileName, desc, ds.RowCount, len(ds.ColumnInfo)))
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (Dataset, error) {
	var ds Dataset
	var description, columns sql.NullString
	var createdAt string
	if err := row.Scan(&ds.ID, &ds.Title, &ds.FileName, &description, &ds.RowCount, &columns, &createdAt); err != nil {
		return Dataset{}, fmt.Errorf("scan dataset: %w", err)
	}
	ds.Description = description.String
	if columns.String != "" {
		_ = json.Unmarshal([]byte(columns.String), &ds.ColumnInfo)
	}
	ds.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return ds, nil
}
