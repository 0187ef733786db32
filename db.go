package auth

import (
	"database/sql"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// OpenDB opens a bun handle for dsn. postgres:// and postgresql:// URLs use
// pgx, anything else is treated as a sqlite DSN such as
// "file::memory:?cache=shared".
func OpenDB(dsn string) (*bun.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, goerrors.New("empty database url", goerrors.CategoryBadInput)
	}

	if isPostgresDSN(dsn) {
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid postgres url")
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid sqlite dsn")
	}

	// sqlite serializes writers and in-memory databases are per connection
	sqldb.SetMaxOpenConns(1)

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func isPostgresDSN(dsn string) bool {
	dsn = strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
