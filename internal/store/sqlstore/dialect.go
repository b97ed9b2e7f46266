package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the differences between supported databases.
type Dialect struct {
	Name       string
	Driver     string
	binaryType string
	textType   string
	dollar     bool
	isConflict func(error) bool
}

var (
	Postgres = Dialect{
		Name:       "postgres",
		Driver:     "postgres",
		binaryType: "BYTEA",
		textType:   "TEXT",
		dollar:     true,
		isConflict: func(err error) bool {
			var pqErr *pq.Error
			return errors.As(err, &pqErr) && pqErr.Code == "23505"
		},
	}

	MySQL = Dialect{
		Name:       "mysql",
		Driver:     "mysql",
		binaryType: "LONGBLOB",
		textType:   "LONGTEXT",
		isConflict: func(err error) bool {
			var myErr *mysql.MySQLError
			return errors.As(err, &myErr) && myErr.Number == 1062
		},
	}

	SQLite = Dialect{
		Name:       "sqlite",
		Driver:     "sqlite3",
		binaryType: "BLOB",
		textType:   "TEXT",
		isConflict: func(err error) bool {
			var sqErr sqlite3.Error
			if !errors.As(err, &sqErr) {
				return false
			}
			return sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
				sqErr.ExtendedCode == sqlite3.ErrConstraintUnique
		},
	}
)

var dialects = map[string]Dialect{
	"postgres":   Postgres,
	"postgresql": Postgres,
	"mysql":      MySQL,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
}

// LookupDialect resolves a dialect by name.
func LookupDialect(name string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported SQL dialect %q (supported: postgres, mysql, sqlite)", name)
	}
	return d, nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS config_versions (
	namespace   VARCHAR(200) NOT NULL,
	config_key  VARCHAR(200) NOT NULL,
	environment VARCHAR(16)  NOT NULL,
	version     BIGINT       NOT NULL,
	value_json  %[2]s,
	is_secret   BOOLEAN      NOT NULL,
	ciphertext  %[1]s,
	key_id      VARCHAR(32),
	tombstone   BOOLEAN      NOT NULL,
	created_at  BIGINT       NOT NULL,
	updated_at  BIGINT       NOT NULL,
	author      VARCHAR(200) NOT NULL,
	description %[2]s,
	PRIMARY KEY (namespace, config_key, environment, version)
)`, d.binaryType, d.textType)
}
