package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediclear/mediclear/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

const uniqueViolation = "23505"

// -- Accounts --

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewAccountRepoPG(pool *pgxpool.Pool) AccountRepository { return &accountRepoPG{pool: pool} }

const accountCols = `account_id, email, password_hash, first_name, last_name, role, email_confirmed_at, created_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName, &a.Role, &a.EmailConfirmedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *accountRepoPG) Create(ctx context.Context, a *Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO accounts (account_id, email, password_hash, first_name, last_name, role, email_confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		a.ID, a.Email, a.PasswordHash, a.FirstName, a.LastName, a.Role, a.EmailConfirmedAt,
	).Scan(&a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *accountRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return scanAccount(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE account_id = $1`, id))
}

func (r *accountRepoPG) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = $1`, email))
}

func (r *accountRepoPG) ConfirmEmail(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE accounts SET email_confirmed_at = COALESCE(email_confirmed_at, $2) WHERE account_id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM accounts WHERE account_id = $1`, id)
	return err
}

// -- Profiles --

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository { return &profileRepoPG{pool: pool} }

const profileCols = `user_id, full_name, phone_number, email, role, is_active, created_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.UserID, &p.FullName, &p.PhoneNumber, &p.Email, &p.Role, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepoPG) Create(ctx context.Context, p *Profile) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (user_id, full_name, phone_number, email, role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.UserID, p.FullName, p.PhoneNumber, p.Email, p.Role, p.IsActive,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (r *profileRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	return scanProfile(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+profileCols+` FROM users WHERE user_id = $1`, userID))
}

func (r *profileRepoPG) ListByRole(ctx context.Context, role string) ([]*Profile, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+profileCols+` FROM users WHERE role = $1 AND is_active ORDER BY full_name`, role)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()
	items := make([]*Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
