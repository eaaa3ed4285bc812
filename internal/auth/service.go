// Package auth issues and verifies user identities: bcrypt password hashes,
// HS256 session tokens and a revocable server-side session list.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vcmarket/apiserver/internal/store"
	"github.com/vcmarket/apiserver/types"
)

const (
	defaultTokenTTL   = 24 * time.Hour
	minPasswordLength = 6
)

// Identity is an authenticated user as issued by the auth service.
type Identity struct {
	UserID    string    `json:"uid"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provider is the email/password auth backend.
type Provider interface {
	Register(ctx context.Context, email, password string) (Identity, error)
	SignIn(ctx context.Context, email, password string) (Identity, error)
	SignOut(ctx context.Context, token string) error
	Verify(ctx context.Context, token string) (Identity, error)
}

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (types.Account, error)
	GetByEmail(ctx context.Context, email string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
}

// Service implements Provider.
type Service struct {
	accounts AccountRepository
	sessions SessionStore
	secret   []byte
	ttl      time.Duration
	validate *validator.Validate
	cost     int
	now      func() time.Time
}

func NewService(accounts AccountRepository, sessions SessionStore, jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Service{
		accounts: accounts,
		sessions: sessions,
		secret:   []byte(jwtSecret),
		ttl:      ttl,
		validate: validator.New(),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

func (s *Service) Register(ctx context.Context, email, password string) (Identity, error) {
	email = strings.TrimSpace(email)
	if err := s.checkEmail(email); err != nil {
		return Identity{}, err
	}
	if len(password) < minPasswordLength {
		return Identity{}, ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	account, err := s.accounts.Create(ctx, types.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hashed),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Identity{}, ErrEmailInUse
		}
		return Identity{}, fmt.Errorf("create account: %w", err)
	}
	return s.openSession(ctx, account)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Identity, error) {
	email = strings.TrimSpace(email)
	if err := s.checkEmail(email); err != nil {
		return Identity{}, err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, ErrUserNotFound
		}
		return Identity{}, fmt.Errorf("load account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrWrongPassword
	}
	return s.openSession(ctx, account)
}

// SignOut revokes the session behind token. Revoking an unknown session is
// not an error.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := parseToken(token, s.secret)
	if err != nil {
		return ErrInvalidToken
	}
	return s.sessions.Delete(ctx, claims.ID)
}

// Verify checks token's signature, expiry and that its session is still
// live.
func (s *Service) Verify(ctx context.Context, token string) (Identity, error) {
	claims, err := parseToken(token, s.secret)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	userID, err := s.sessions.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, fmt.Errorf("load session: %w", err)
	}
	if userID != claims.Subject {
		return Identity{}, ErrInvalidToken
	}
	account, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, fmt.Errorf("load account: %w", err)
	}

	identity := Identity{UserID: account.ID, Email: account.Email, Token: token}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

func (s *Service) checkEmail(email string) error {
	if err := s.validate.Var(email, "required,email"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

func (s *Service) openSession(ctx context.Context, account types.Account) (Identity, error) {
	now := s.now()
	sessionID := uuid.NewString()
	token, err := issueToken(account.ID, sessionID, s.secret, s.ttl, now)
	if err != nil {
		return Identity{}, fmt.Errorf("issue token: %w", err)
	}
	if err := s.sessions.Set(ctx, sessionID, account.ID, s.ttl); err != nil {
		return Identity{}, fmt.Errorf("store session: %w", err)
	}
	return Identity{
		UserID:    account.ID,
		Email:     account.Email,
		Token:     token,
		ExpiresAt: now.Add(s.ttl),
	}, nil
}
