package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
)

// AccountRepository defines persistence operations for registered accounts.
// The store is the identity cache: credentials captured mid-flow survive a
// crash or restart.
type AccountRepository interface {
	Save(ctx context.Context, account *domain.Account) error
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	List(ctx context.Context) ([]*domain.Account, error)
}

type accountRepository struct {
	db  *sql.DB
	log *slog.Logger
}

var _ AccountRepository = (*accountRepository)(nil)

// NewAccountRepository creates a SQL-backed account repository.
func NewAccountRepository(db *sql.DB, log *slog.Logger) AccountRepository {
	return &accountRepository{
		db:  db,
		log: log,
	}
}

// Save upserts the account keyed by email. The flow extracts credentials at
// every transition past the checkpoint, so repeated saves for the same email
// are expected.
func (r *accountRepository) Save(ctx context.Context, account *domain.Account) error {
	const query = `
		INSERT INTO accounts (email, password, first_name, last_name, token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO UPDATE
		SET password = EXCLUDED.password,
		    token = EXCLUDED.token
	`

	if _, err := r.db.ExecContext(
		ctx,
		query,
		account.Email,
		account.Password,
		account.FirstName,
		account.LastName,
		account.Token,
		account.CreatedAt,
	); err != nil {
		if r.log != nil {
			r.log.Error("failed to save account", slog.String("email", account.Email), slog.Any("error", err))
		}
		return fmt.Errorf("upsert account: %w", err)
	}

	return nil
}

// FindByEmail retrieves a stored account.
func (r *accountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	const query = `
		SELECT email, password, first_name, last_name, token, created_at
		FROM accounts
		WHERE email = $1
	`

	row := r.db.QueryRowContext(ctx, query, email)

	var account domain.Account
	if err := row.Scan(
		&account.Email,
		&account.Password,
		&account.FirstName,
		&account.LastName,
		&account.Token,
		&account.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}

		if r.log != nil {
			r.log.Error("failed to fetch account", slog.String("email", email), slog.Any("error", err))
		}
		return nil, fmt.Errorf("select account: %w", err)
	}

	return &account, nil
}

// List returns every stored account ordered by creation time.
func (r *accountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	const query = `
		SELECT email, password, first_name, last_name, token, created_at
		FROM accounts
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(
			&account.Email,
			&account.Password,
			&account.FirstName,
			&account.LastName,
			&account.Token,
			&account.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, &account)
	}

	return accounts, rows.Err()
}
