package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	CreateSchema(ctx context.Context) error
	Users() Users
}

type mngr struct {
	db    *bun.DB
	users Users
}

func NewRepositoryManager(db *bun.DB, opts ...UsersOption) RepositoryManager {
	return &mngr{
		db:    db,
		users: NewUsersRepository(db, opts...),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database handle should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

// CreateSchema creates the users table and its case-insensitive unique
// indexes. It is safe to run on every start.
func (m mngr) CreateSchema(ctx context.Context) error {
	return m.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewCreateTable().
			Model((*User)(nil)).
			IfNotExists().
			Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create users table")
		}

		indexes := map[string]string{
			"users_username_lower_idx": "lower(username)",
			"users_email_lower_idx":    "lower(email)",
		}

		for name, expr := range indexes {
			if _, err := tx.NewCreateIndex().
				Model((*User)(nil)).
				Unique().
				IfNotExists().
				Index(name).
				ColumnExpr(expr).
				Exec(ctx); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create users index").
					WithMetadata(map[string]any{"index": name})
			}
		}

		return nil
	})
}
