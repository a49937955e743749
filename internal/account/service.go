package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"chainattend/internal/auth"
	"chainattend/internal/logger"
	"chainattend/internal/security"
)

// ErrBadCredentials covers unknown users, wrong passwords and wrong codes.
var ErrBadCredentials = errors.New("invalid credentials")

// ErrInvalidUser is returned for malformed registration input.
var ErrInvalidUser = errors.New("invalid user")

const (
	// PendingLoginTTL bounds the time between the password and code steps.
	PendingLoginTTL = 5 * time.Minute
	// MaxOTPAttempts is how many codes one password check allows.
	MaxOTPAttempts = 5
)

// Service registers users and runs the password then OTP login.
type Service struct {
	store  Store
	hasher security.PasswordHasher
	sender security.CodeSender
	issuer auth.Issuer
	now    func() time.Time
}

// NewService wires a Service. A nil sender logs codes instead of sending them.
func NewService(store Store, hasher security.PasswordHasher, sender security.CodeSender, issuer auth.Issuer) *Service {
	if sender == nil {
		sender = security.LogSender{}
	}
	return &Service{store: store, hasher: hasher, sender: sender, issuer: issuer, now: time.Now}
}

// Register creates a user with a fresh OTP secret.
func (s *Service) Register(ctx context.Context, name, email, password string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return User{}, fmt.Errorf("%w: name and password required", ErrInvalidUser)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, fmt.Errorf("%w: bad email", ErrInvalidUser)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}
	secret, err := security.NewOTPSecret(email)
	if err != nil {
		return User{}, err
	}
	u, err := s.store.CreateUser(ctx, User{Name: name, Email: email, PasswordHash: hash, OTPSecret: secret})
	if err != nil {
		return User{}, err
	}
	logger.InfoContext(ctx, "user registered", "user_id", u.ID, "name", u.Name)
	return u, nil
}

// BeginLogin checks the password and sends the current one-time code.
func (s *Service) BeginLogin(ctx context.Context, name, password string) error {
	u, err := s.store.UserByName(ctx, name)
	if errors.Is(err, ErrUserNotFound) {
		return ErrBadCredentials
	}
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(password, u.PasswordHash); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			return ErrBadCredentials
		}
		return err
	}
	now := s.now()
	if err := s.store.SavePendingLogin(ctx, u.ID, now.Add(PendingLoginTTL)); err != nil {
		return fmt.Errorf("save pending login: %w", err)
	}
	code, err := security.GenerateCode(u.OTPSecret, now)
	if err != nil {
		return err
	}
	if err := s.sender.SendCode(ctx, u.Name, u.Email, code); err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	return nil
}

// CompleteLogin checks the one-time code and issues user tokens. It needs a
// pending login from BeginLogin and accepts each code step once.
func (s *Service) CompleteLogin(ctx context.Context, name, code string) (auth.TokenPair, error) {
	u, err := s.store.UserByName(ctx, name)
	if errors.Is(err, ErrUserNotFound) {
		return auth.TokenPair{}, ErrBadCredentials
	}
	if err != nil {
		return auth.TokenPair{}, err
	}
	now := s.now()
	ok, err := s.store.ClaimPendingLogin(ctx, u.ID, now, MaxOTPAttempts)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if !ok {
		logger.WarnContext(ctx, "otp without pending login", "name", u.Name)
		return auth.TokenPair{}, ErrBadCredentials
	}
	step, ok := security.MatchCode(strings.TrimSpace(code), u.OTPSecret, now)
	if !ok {
		logger.WarnContext(ctx, "otp rejected", "name", u.Name)
		return auth.TokenPair{}, ErrBadCredentials
	}
	fresh, err := s.store.UseOTPStep(ctx, u.ID, step)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if !fresh {
		logger.WarnContext(ctx, "otp replayed", "name", u.Name)
		return auth.TokenPair{}, ErrBadCredentials
	}
	if err := s.store.DeletePendingLogin(ctx, u.ID); err != nil {
		return auth.TokenPair{}, err
	}
	return s.issue(ctx, u.ID, auth.RoleUser)
}

// IssueDevice issues device tokens for a registered device.
func (s *Service) IssueDevice(ctx context.Context, deviceID string) (auth.TokenPair, error) {
	return s.issue(ctx, deviceID, auth.RoleDevice)
}

func (s *Service) issue(ctx context.Context, subject, role string) (auth.TokenPair, error) {
	pair, err := s.issuer.Issue(subject, role)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if err := s.store.SaveRefreshToken(ctx, subject, pair.RefreshToken, pair.RefreshExp); err != nil {
		return auth.TokenPair{}, fmt.Errorf("save refresh token: %w", err)
	}
	return pair, nil
}
