// Package sqlstore stores version history in a SQL table. PostgreSQL, MySQL
// and SQLite are supported. The primary key on (namespace, key,
// environment, version) makes concurrent appends of the same version fail,
// which the version store treats as a lost race and retries.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/systmms/cfgstore/internal/store"
	"github.com/systmms/cfgstore/pkg/configstore"
)

const columns = "namespace, config_key, environment, version, value_json, is_secret, ciphertext, key_id, tombstone, created_at, updated_at, author, description"

// SQLStore implements store.Backend over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects with the dialect's driver and ensures the schema exists.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}
	if dialect.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
	}
	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle.
func New(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the versions table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema()); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Append inserts e inside a transaction that also checks the version is
// the next one for its tuple.
func (s *SQLStore) Append(ctx context.Context, e *configstore.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var current int64
	err = tx.QueryRowContext(ctx, s.dialect.rebind(
		"SELECT COALESCE(MAX(version), 0) FROM config_versions WHERE namespace = ? AND config_key = ? AND environment = ?"),
		e.Namespace, e.Key, e.Environment.String(),
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read current version: %w", err)
	}
	if e.Version != current+1 {
		return store.ErrVersionExists
	}

	args, err := entryArgs(e)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.dialect.rebind(
		"INSERT INTO config_versions ("+columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"), args...)
	if err != nil {
		if s.dialect.isConflict(err) {
			return store.ErrVersionExists
		}
		return fmt.Errorf("failed to insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if s.dialect.isConflict(err) {
			return store.ErrVersionExists
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func entryArgs(e *configstore.Entry) ([]any, error) {
	var valueJSON sql.NullString
	if !e.IsSecret && !e.Tombstone {
		data, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal value: %w", err)
		}
		valueJSON = sql.NullString{String: string(data), Valid: true}
	}
	return []any{
		e.Namespace,
		e.Key,
		e.Environment.String(),
		e.Version,
		valueJSON,
		e.IsSecret,
		e.Ciphertext,
		nullString(e.KeyID),
		e.Tombstone,
		e.CreatedAt.UnixNano(),
		e.UpdatedAt.UnixNano(),
		e.Author,
		nullString(e.Description),
	}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*configstore.Entry, error) {
	var (
		e                             configstore.Entry
		env                           string
		valueJSON, keyID, description sql.NullString
		createdAt, updatedAt          int64
	)
	err := row.Scan(&e.Namespace, &e.Key, &env, &e.Version, &valueJSON, &e.IsSecret,
		&e.Ciphertext, &keyID, &e.Tombstone, &createdAt, &updatedAt, &e.Author, &description)
	if err != nil {
		return nil, err
	}
	if e.Environment, err = configstore.ParseEnvironment(env); err != nil {
		return nil, err
	}
	if valueJSON.Valid {
		if err := json.Unmarshal([]byte(valueJSON.String), &e.Value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal value: %w", err)
		}
	}
	e.KeyID = keyID.String
	e.Description = description.String
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	e.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &e, nil
}

// Latest returns the highest version of t.
func (s *SQLStore) Latest(ctx context.Context, t configstore.Tuple) (*configstore.Entry, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		"SELECT "+columns+" FROM config_versions WHERE namespace = ? AND config_key = ? AND environment = ? ORDER BY version DESC LIMIT 1"),
		t.Namespace, t.Key, t.Environment.String())
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, configstore.NotFoundError{Tuple: t}
	}
	return e, err
}

// Get returns one version of t.
func (s *SQLStore) Get(ctx context.Context, t configstore.Tuple, version int64) (*configstore.Entry, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		"SELECT "+columns+" FROM config_versions WHERE namespace = ? AND config_key = ? AND environment = ? AND version = ?"),
		t.Namespace, t.Key, t.Environment.String(), version)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, configstore.NotFoundError{Tuple: t, Version: version}
	}
	return e, err
}

// History returns every version of t, oldest first.
func (s *SQLStore) History(ctx context.Context, t configstore.Tuple) ([]*configstore.Entry, error) {
	return s.query(ctx,
		"SELECT "+columns+" FROM config_versions WHERE namespace = ? AND config_key = ? AND environment = ? ORDER BY version ASC",
		t.Namespace, t.Key, t.Environment.String())
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]*configstore.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*configstore.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Keys lists keys stored under namespace and env.
func (s *SQLStore) Keys(ctx context.Context, namespace string, env configstore.Environment) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		"SELECT DISTINCT config_key FROM config_versions WHERE namespace = ? AND environment = ?"),
		namespace, env.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Walk loads every version and calls fn for each. Rows are fully read
// before fn runs so fn may issue queries of its own.
func (s *SQLStore) Walk(ctx context.Context, fn func(*configstore.Entry) error) error {
	all, err := s.query(ctx, "SELECT "+columns+" FROM config_versions ORDER BY namespace, config_key, environment, version")
	if err != nil {
		return err
	}
	for _, e := range all {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Replace rewrites the ciphertext of an existing version.
func (s *SQLStore) Replace(ctx context.Context, e *configstore.Entry) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		"UPDATE config_versions SET ciphertext = ?, key_id = ? WHERE namespace = ? AND config_key = ? AND environment = ? AND version = ?"),
		e.Ciphertext, nullString(e.KeyID), e.Namespace, e.Key, e.Environment.String(), e.Version)
	if err != nil {
		return fmt.Errorf("failed to replace version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return configstore.NotFoundError{Tuple: e.Tuple(), Version: e.Version}
	}
	return nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
