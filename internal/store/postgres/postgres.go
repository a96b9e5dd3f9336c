// Package postgres provides a PostgreSQL-backed store adapter using the
// pgx driver through database/sql. Records are JSONB documents in a
// single table keyed by (collection, id).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/quarrydb/quarry/internal/store"
)

// Store is a document store on top of a PostgreSQL database
type Store struct {
	db *sql.DB
}

// Open connects to the PostgreSQL database at the given DSN and prepares
// the records table.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing database handle
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.createTable(); err != nil {
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}
	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTable() error {
	// seq fixes the list order: ctid is unstable across updates and
	// vacuum, so pagination needs an explicit insertion counter.
	query := `
		CREATE TABLE IF NOT EXISTS records (
			seq BIGSERIAL,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			PRIMARY KEY (collection, id)
		)
	`
	_, err := s.db.Exec(query)
	return err
}

// Find returns records matching the query plus the total match count
func (s *Store) Find(ctx context.Context, collection string, q store.Query) (*store.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM records WHERE collection = $1 ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var matched []store.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		record, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		if q.Filter == nil || store.Matches(record, q.Filter) {
			matched = append(matched, record)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	result := &store.Result{Data: []store.Record{}, Total: len(matched)}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	if matched != nil {
		result.Data = matched
	}

	return result, nil
}

// FindOne fetches a single record by id
func (s *Store) FindOne(ctx context.Context, collection, id string) (store.Record, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE collection = $1 AND id = $2`, collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	return decodeRecord(raw)
}

// Insert stores a new record, stamping system fields
func (s *Store) Insert(ctx context.Context, collection string, data store.Record) (store.Record, error) {
	record := make(store.Record, len(data)+3)
	for k, v := range data {
		record[k] = v
	}

	id, _ := record[store.FieldID].(string)
	if id == "" {
		id = store.NewID()
		record[store.FieldID] = id
	}
	now := store.Now()
	record[store.FieldCreatedAt] = now
	record[store.FieldUpdatedAt] = now

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, data) VALUES ($1, $2, $3)`,
		collection, id, raw)
	if err != nil {
		return nil, store.ErrConflict
	}

	return decodeRecord(raw)
}

// Update merges the patch into an existing record
func (s *Store) Update(ctx context.Context, collection, id string, patch store.Record) (store.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM records WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}

	record, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}

	for k, v := range patch {
		if k == store.FieldID || k == store.FieldCreatedAt || k == store.FieldUpdatedAt {
			continue
		}
		record[k] = v
	}
	record[store.FieldUpdatedAt] = store.Now()

	updated, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET data = $1 WHERE collection = $2 AND id = $3`,
		updated, collection, id); err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return record, nil
}

// Remove deletes a record and returns it
func (s *Store) Remove(ctx context.Context, collection, id string) (store.Record, error) {
	record, err := s.FindOne(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete record: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, store.ErrNotFound
	}

	return record, nil
}

func decodeRecord(raw []byte) (store.Record, error) {
	var record store.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return record, nil
}
