// Package account manages user registration, two-step login and token
// issuance.
package account

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// User is a registered account. Secrets never leave the package as JSON.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	OTPSecret    string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists users and refresh tokens.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	UserByName(ctx context.Context, name string) (User, error)
	SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error

	// SavePendingLogin marks userID as past the password step until
	// expiresAt, resetting any earlier attempt count.
	SavePendingLogin(ctx context.Context, userID string, expiresAt time.Time) error
	// ClaimPendingLogin counts one code attempt against an unexpired pending
	// login. It reports false when there is none or maxAttempts is used up.
	ClaimPendingLogin(ctx context.Context, userID string, now time.Time, maxAttempts int) (bool, error)
	DeletePendingLogin(ctx context.Context, userID string) error
	// UseOTPStep records step as the last accepted code step. It reports
	// false when step is not newer than the last one.
	UseOTPStep(ctx context.Context, userID string, step int64) (bool, error)
}

var _ Store = (*Repository)(nil)

// Repository is the Postgres Store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, otp_secret)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (name) DO NOTHING
		RETURNING created_at
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.OTPSecret)
	if err := row.Scan(&u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserExists
		}
		return User{}, err
	}
	return u, nil
}

func (r *Repository) UserByName(ctx context.Context, name string) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, otp_secret, created_at
		FROM users WHERE name = $1
	`, name).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.OTPSecret, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (subject, token, expires_at)
		VALUES ($1, $2, $3)
	`, subject, token, expiresAt)
	return err
}

func (r *Repository) SavePendingLogin(ctx context.Context, userID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_logins (user_id, attempts, expires_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO UPDATE SET attempts = 0, expires_at = EXCLUDED.expires_at
	`, userID, expiresAt)
	return err
}

func (r *Repository) ClaimPendingLogin(ctx context.Context, userID string, now time.Time, maxAttempts int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_logins SET attempts = attempts + 1
		WHERE user_id = $1 AND expires_at > $2 AND attempts < $3
	`, userID, now, maxAttempts)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *Repository) DeletePendingLogin(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_logins WHERE user_id = $1`, userID)
	return err
}

func (r *Repository) UseOTPStep(ctx context.Context, userID string, step int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_otp_step = $2
		WHERE id = $1 AND last_otp_step < $2
	`, userID, step)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MemoryStore keeps users in process for dev runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]User
	tokens  map[string]string
	pending map[string]pendingLogin
	steps   map[string]int64
}

type pendingLogin struct {
	attempts  int
	expiresAt time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]User),
		tokens:  make(map[string]string),
		pending: make(map[string]pendingLogin),
		steps:   make(map[string]int64),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := u.Name
	if _, ok := m.users[key]; ok {
		return User{}, ErrUserExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()
	m.users[key] = u
	return u, nil
}

func (m *MemoryStore) UserByName(_ context.Context, name string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[name]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *MemoryStore) SaveRefreshToken(_ context.Context, subject, token string, _ time.Time) error {
	m.mu.Lock()
	m.tokens[token] = subject
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SavePendingLogin(_ context.Context, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	m.pending[userID] = pendingLogin{expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ClaimPendingLogin(_ context.Context, userID string, now time.Time, maxAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[userID]
	if !ok || !now.Before(p.expiresAt) || p.attempts >= maxAttempts {
		return false, nil
	}
	p.attempts++
	m.pending[userID] = p
	return true, nil
}

func (m *MemoryStore) DeletePendingLogin(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.pending, userID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) UseOTPStep(_ context.Context, userID string, step int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if step <= m.steps[userID] {
		return false, nil
	}
	m.steps[userID] = step
	return true, nil
}
