package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// Users is the bun backed IdentityRepository. Every method has a Tx variant
// taking a bun.IDB so callers can compose writes inside RunInTx.
type Users interface {
	IdentityRepository

	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	SaveTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	SetConfirmedTx(ctx context.Context, tx bun.IDB, email string) error
	SetAvatarTx(ctx context.Context, tx bun.IDB, email, url string) (*User, error)
	SetPasswordTx(ctx context.Context, tx bun.IDB, email, passwordHash string) error
	SetRole(ctx context.Context, email string, role Role) error
}

type users struct {
	db    *bun.DB
	clock Clock
}

var _ Users = (*users)(nil)

type UsersOption func(*users)

// WithUsersClock sets the clock used for created_at, updated_at and
// password_changed_at.
func WithUsersClock(clock Clock) UsersOption {
	return func(u *users) {
		u.clock = normalizeClock(clock)
	}
}

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := &users{
		db:    db,
		clock: SystemClock,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo
}

func (a *users) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.findOne(ctx, a.db, "?TableAlias.id = ?", id)
}

func (a *users) FindByUsername(ctx context.Context, username string) (*User, error) {
	return a.FindByUsernameTx(ctx, a.db, username)
}

func (a *users) FindByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error) {
	return a.findOne(ctx, tx, "lower(?TableAlias.username) = ?", NormalizeIdentifier(username))
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	return a.findOne(ctx, tx, "lower(?TableAlias.email) = ?", NormalizeIdentifier(email))
}

func (a *users) Save(ctx context.Context, user *User) (*User, error) {
	return a.SaveTx(ctx, a.db, user)
}

// SaveTx inserts a new identity, defaulting id, role and timestamps
func (a *users) SaveTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	if user == nil {
		return nil, goerrors.New("user is required", goerrors.CategoryBadInput)
	}

	record := *user
	prepareUserDefaults(&record, a.clock.Now())

	if _, err := tx.NewInsert().Model(&record).Exec(ctx); err != nil {
		category := goerrors.CategoryInternal
		if IsUniqueViolation(err) {
			category = goerrors.CategoryConflict
		}
		return nil, goerrors.Wrap(err, category, "could not create user").
			WithMetadata(map[string]any{"username": record.Username})
	}

	return &record, nil
}

func (a *users) SetConfirmed(ctx context.Context, email string) error {
	return a.SetConfirmedTx(ctx, a.db, email)
}

func (a *users) SetConfirmedTx(ctx context.Context, tx bun.IDB, email string) error {
	return a.updateByEmail(ctx, tx, email, map[string]any{
		"confirmed": true,
	})
}

func (a *users) SetAvatar(ctx context.Context, email, url string) (*User, error) {
	return a.SetAvatarTx(ctx, a.db, email, url)
}

func (a *users) SetAvatarTx(ctx context.Context, tx bun.IDB, email, url string) (*User, error) {
	if err := a.updateByEmail(ctx, tx, email, map[string]any{"avatar": url}); err != nil {
		return nil, err
	}
	return a.FindByEmailTx(ctx, tx, email)
}

func (a *users) SetPassword(ctx context.Context, email, passwordHash string) error {
	return a.SetPasswordTx(ctx, a.db, email, passwordHash)
}

func (a *users) SetPasswordTx(ctx context.Context, tx bun.IDB, email, passwordHash string) error {
	if passwordHash == "" {
		return goerrors.New("password hash is required", goerrors.CategoryBadInput)
	}
	return a.updateByEmail(ctx, tx, email, map[string]any{
		"password_hash":       passwordHash,
		"password_changed_at": a.clock.Now(),
	})
}

func (a *users) SetRole(ctx context.Context, email string, role Role) error {
	if !role.IsValid() {
		return goerrors.New("unknown role", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"role": string(role)})
	}
	return a.updateByEmail(ctx, a.db, email, map[string]any{"role": role})
}

func (a *users) findOne(ctx context.Context, tx bun.IDB, where string, args ...any) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where(where, args...).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to query users")
	}

	return record, nil
}

func (a *users) updateByEmail(ctx context.Context, tx bun.IDB, email string, values map[string]any) error {
	q := tx.NewUpdate().
		Model((*User)(nil)).
		Set("updated_at = ?", a.clock.Now()).
		Where("lower(email) = ?", NormalizeIdentifier(email))

	for column, value := range values {
		q = q.Set("? = ?", bun.Ident(column), value)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read affected rows")
	}

	if affected == 0 {
		return ErrIdentityNotFound
	}

	return nil
}

// pgUniqueViolation is the SQLSTATE postgres reports for duplicate keys
const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err comes from a unique index, either
// postgres through pgx or sqlite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
