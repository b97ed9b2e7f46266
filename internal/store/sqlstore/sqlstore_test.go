package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/cfgstore/internal/crypto"
	"github.com/systmms/cfgstore/internal/store"
	"github.com/systmms/cfgstore/pkg/configstore"
)

func testEntry(version int64) *configstore.Entry {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	return &configstore.Entry{
		Namespace:   "app/llm",
		Key:         "model",
		Environment: configstore.Production,
		Value:       configstore.StringValue("gpt-4"),
		Version:     version,
		CreatedAt:   now,
		UpdatedAt:   now,
		Author:      "admin",
	}
}

func TestAppendWithSQLMock(t *testing.T) {
	tests := []struct {
		name      string
		dialect   Dialect
		version   int64
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
		errSubstr string
	}{
		{
			name:    "postgres_insert_next_version",
			dialect: Postgres,
			version: 2,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM config_versions WHERE namespace = \$1`).
					WithArgs("app/llm", "model", "production").
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(1))
				mock.ExpectExec(`INSERT INTO config_versions .* VALUES \(\$1, \$2, \$3`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name:    "mysql_uses_question_marks",
			dialect: MySQL,
			version: 1,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`WHERE namespace = \? AND config_key = \?`).
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
				mock.ExpectExec(`VALUES \(\?, \?`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name:    "stale_version_reports_race",
			dialect: Postgres,
			version: 2,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT COALESCE`).
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(2))
				mock.ExpectRollback()
			},
			wantErr: store.ErrVersionExists,
		},
		{
			name:    "postgres_unique_violation",
			dialect: Postgres,
			version: 1,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT COALESCE`).
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
				mock.ExpectExec(`INSERT INTO config_versions`).
					WillReturnError(&pq.Error{Code: "23505"})
				mock.ExpectRollback()
			},
			wantErr: store.ErrVersionExists,
		},
		{
			name:    "mysql_duplicate_entry",
			dialect: MySQL,
			version: 1,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT COALESCE`).
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
				mock.ExpectExec(`INSERT INTO config_versions`).
					WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
				mock.ExpectRollback()
			},
			wantErr: store.ErrVersionExists,
		},
		{
			name:    "begin_failure",
			dialect: Postgres,
			version: 1,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("connection lost"))
			},
			errSubstr: "begin transaction",
		},
		{
			name:    "insert_failure",
			dialect: Postgres,
			version: 1,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT COALESCE`).
					WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
				mock.ExpectExec(`INSERT INTO config_versions`).
					WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			errSubstr: "disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.setupMock(mock)
			s := New(db, tt.dialect)

			err = s.Append(context.Background(), testEntry(tt.version))
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errSubstr != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
			default:
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func entryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"namespace", "config_key", "environment", "version", "value_json", "is_secret",
		"ciphertext", "key_id", "tombstone", "created_at", "updated_at", "author", "description",
	})
}

func TestLatestWithSQLMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	mock.ExpectQuery(`ORDER BY version DESC LIMIT 1`).
		WithArgs("app/llm", "model", "production").
		WillReturnRows(entryRows().AddRow(
			"app/llm", "model", "production", int64(3), `{"type":"string","value":"gpt-4"}`, false,
			nil, nil, false, created.UnixNano(), updated.UnixNano(), "admin", "rollback to version 1",
		))

	s := New(db, Postgres)
	e, err := s.Latest(context.Background(), configstore.NewTuple("app/llm", "model", configstore.Production))
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.Version)
	assert.Equal(t, "gpt-4", e.Value.String())
	assert.Equal(t, configstore.Production, e.Environment)
	assert.Equal(t, created, e.CreatedAt)
	assert.Equal(t, updated, e.UpdatedAt)
	assert.Equal(t, "rollback to version 1", e.Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestNotFoundWithSQLMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`ORDER BY version DESC LIMIT 1`).WillReturnRows(entryRows())

	_, err = New(db, MySQL).Latest(context.Background(), configstore.NewTuple("app", "k", configstore.Base))
	assert.ErrorIs(t, err, configstore.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceWithSQLMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE config_versions SET ciphertext = \$1, key_id = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	e := testEntry(7)
	e.IsSecret = true
	e.Ciphertext = []byte{1, 2, 3}
	e.KeyID = "abcd"
	err = New(db, Postgres).Replace(context.Background(), e)
	assert.ErrorIs(t, err, configstore.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupDialect(t *testing.T) {
	for _, name := range []string{"postgres", "PostgreSQL", "mysql", "sqlite", "sqlite3"} {
		_, err := LookupDialect(name)
		assert.NoError(t, err, name)
	}
	_, err := LookupDialect("sqlserver")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", Postgres.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ? AND b = ?", SQLite.rebind("a = ? AND b = ?"))
}

func TestSQLiteWithVersionStore(t *testing.T) {
	ctx := context.Background()
	backend, err := Open(ctx, SQLite, filepath.Join(t.TempDir(), "cfgstore.db"))
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	engine, err := crypto.New(key)
	require.NoError(t, err)
	ring := crypto.NewKeyring(engine)
	defer ring.Close()

	s := store.New(backend, ring)
	defer s.Close()
	tuple := configstore.NewTuple("app/llm", "model", configstore.Production)

	for _, v := range []string{"gpt-4", "gpt-4-turbo"} {
		_, err := s.Commit(ctx, store.CommitRequest{Tuple: tuple, Value: configstore.StringValue(v), Author: "admin"})
		require.NoError(t, err)
	}
	res, err := s.Rollback(ctx, tuple, 1, "admin")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Entry.Version)

	history, err := s.ReadHistory(ctx, tuple)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "gpt-4", history[2].Value.String())

	secret := configstore.NewTuple("app/llm", "api_key", configstore.Production)
	_, err = s.Commit(ctx, store.CommitRequest{Tuple: secret, Value: configstore.StringValue("sk-1"), IsSecret: true})
	require.NoError(t, err)
	current, err := s.ReadCurrent(ctx, secret)
	require.NoError(t, err)
	assert.True(t, current.Value.IsZero())
	value, err := s.Open(current)
	require.NoError(t, err)
	assert.Equal(t, "sk-1", value.String())

	_, err = s.Delete(ctx, secret, "admin")
	require.NoError(t, err)
	entries, err := s.List(ctx, "app/llm", configstore.Production)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model", entries[0].Key)

	err = backend.Append(ctx, history[0])
	assert.ErrorIs(t, err, store.ErrVersionExists)
}
