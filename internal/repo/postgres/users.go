package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/userauth/internal/domain/user"
	"github.com/geocoder89/userauth/internal/observability"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const usersEmailUniqueIndex = "users_email_lower_uniq"

// DBTX is the slice of pgxpool.Pool the repositories need.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, email, password_hash, name, role, is_verified, created_at, updated_at`

type UsersRepo struct {
	db   DBTX
	prom *observability.Prom
}

func NewUsersRepo(db DBTX, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{db: db, prom: prom}
}

// observe times fn and maps a missing row to user.ErrNotFound.
func (r *UsersRepo) observe(op string, fn func() error) error {
	var err error
	if r.prom != nil {
		err = r.prom.ObserveDB(op, fn)
	} else {
		err = fn()
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return user.ErrNotFound
	}
	return err
}

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.Role,
		&u.IsVerified,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

// Create inserts the user. The unique index on lower(email) is the only
// duplicate check, so concurrent registrations cannot both succeed.
func (r *UsersRepo) Create(ctx context.Context, u user.User) (created user.User, err error) {
	err = r.observe("users.create", func() error {
		created, err = scanUser(r.db.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, is_verified,
			verification_token_hash, verification_token_expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING `+userColumns,
			u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.IsVerified,
			nullable(u.VerificationTokenHash), u.VerificationTokenExpiry, u.CreatedAt, u.UpdatedAt,
		))
		return err
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == usersEmailUniqueIndex {
			err = user.ErrEmailTaken
		}
		return user.User{}, err
	}

	return created, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (u user.User, err error) {
	err = r.observe("users.get_by_email", func() error {
		u, err = scanUser(r.db.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
			email,
		))
		return err
	})
	return
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (u user.User, err error) {
	err = r.observe("users.get_by_id", func() error {
		u, err = scanUser(r.db.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`,
			id,
		))
		return err
	})
	return
}

// ConsumeVerificationToken marks the owner verified and clears the token in a
// single statement, so a token can be redeemed at most once.
func (r *UsersRepo) ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (u user.User, err error) {
	err = r.observe("users.consume_verification_token", func() error {
		u, err = scanUser(r.db.QueryRow(ctx, `
		UPDATE users
		SET is_verified = TRUE,
			verification_token_hash = NULL,
			verification_token_expires_at = NULL,
			updated_at = $2
		WHERE verification_token_hash = $1
			AND verification_token_expires_at > $2
		RETURNING `+userColumns,
			tokenHash, now,
		))
		return err
	})
	return
}

func (r *UsersRepo) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt, now time.Time) error {
	return r.observe("users.set_reset_token", func() error {
		tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET reset_token_hash = $2,
			reset_token_expires_at = $3,
			updated_at = $4
		WHERE id = $1
		`, userID, tokenHash, expiresAt, now)

		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
}

// ConsumeResetToken swaps in the new password hash and clears the reset token
// if, and only if, the token is still live.
func (r *UsersRepo) ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (u user.User, err error) {
	err = r.observe("users.consume_reset_token", func() error {
		u, err = scanUser(r.db.QueryRow(ctx, `
		UPDATE users
		SET password_hash = $2,
			reset_token_hash = NULL,
			reset_token_expires_at = NULL,
			updated_at = $3
		WHERE reset_token_hash = $1
			AND reset_token_expires_at > $3
		RETURNING `+userColumns,
			tokenHash, newPasswordHash, now,
		))
		return err
	})
	return
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
