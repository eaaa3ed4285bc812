package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/vcmarket/apiserver/types"
)

const uniqueViolation = "23505"

// AccountRepository handles persistence for auth accounts.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (types.Account, error) {
	const query = `
		SELECT id, email, password_hash, created_at, updated_at
		FROM accounts
		WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	const query = `
		SELECT id, email, password_hash, created_at, updated_at
		FROM accounts
		WHERE email = $1`
	return r.scanOne(ctx, query, strings.ToLower(email))
}

func (r *AccountRepository) scanOne(ctx context.Context, query string, arg any) (types.Account, error) {
	var account types.Account
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}

// Create inserts account. The email is stored lower-cased; a taken email
// yields ErrDuplicate.
func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	now := time.Now().UTC()
	account.Email = strings.ToLower(account.Email)
	account.CreatedAt = now
	account.UpdatedAt = now

	const query = `
		INSERT INTO accounts (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return types.Account{}, ErrDuplicate
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM accounts WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryAccounts is an in-process account repository.
type MemoryAccounts struct {
	mu      sync.RWMutex
	byID    map[string]types.Account
	byEmail map[string]string
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{
		byID:    make(map[string]types.Account),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryAccounts) GetByID(_ context.Context, id string) (types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.byID[id]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return account, nil
}

func (m *MemoryAccounts) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	m.mu.RLock()
	id, ok := m.byEmail[strings.ToLower(email)]
	m.mu.RUnlock()
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryAccounts) Create(_ context.Context, account types.Account) (types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.Email = strings.ToLower(account.Email)
	if _, taken := m.byEmail[account.Email]; taken {
		return types.Account{}, ErrDuplicate
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	m.byID[account.ID] = account
	m.byEmail[account.Email] = account.ID
	return account, nil
}

func (m *MemoryAccounts) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	delete(m.byEmail, account.Email)
	return nil
}
