package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeventeLantos/gotta-go/internal/model"
)

const uniqueViolation = "23505"

type PostgresUserRepo struct {
	db *sql.DB
}

func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) Create(ctx context.Context, p model.Profile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (uid, email, phone_number, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.UID, strings.ToLower(p.Email), p.PhoneNumber, p.PasswordHash, p.CreatedAt.UTC())
	return mapUniqueViolation(err)
}

func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (model.Profile, error) {
	return r.findOne(ctx, `
		SELECT uid, email, phone_number, password_hash, created_at
		FROM users
		WHERE email = $1
	`, strings.ToLower(email))
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, uid string) (model.Profile, error) {
	return r.findOne(ctx, `
		SELECT uid, email, phone_number, password_hash, created_at
		FROM users
		WHERE uid = $1
	`, uid)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, arg any) (model.Profile, error) {
	var p model.Profile
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&p.UID,
		&p.Email,
		&p.PhoneNumber,
		&p.PasswordHash,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, ErrNotFound
	}
	return p, err
}

func (r *PostgresUserRepo) UpdateEmail(ctx context.Context, uid, email string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET email = $2 WHERE uid = $1
	`, uid, strings.ToLower(email))
	if err != nil {
		return mapUniqueViolation(err)
	}
	return requireRow(res)
}

func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, uid, hash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE uid = $1
	`, uid, hash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresUserRepo) Delete(ctx context.Context, uid string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE uid = $1`, uid)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresUserRepo) List(ctx context.Context) ([]model.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT email, phone_number, created_at
		FROM users
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.Email, &m.PhoneNumber, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresUserRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n)
	return n, err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}
