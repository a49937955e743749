package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"chainattend/internal/auth"
	"chainattend/internal/security"
)

// captureSender records the last code instead of delivering it.
type captureSender struct {
	name, email, code string
	err               error
}

func (c *captureSender) SendCode(_ context.Context, name, email, code string) error {
	c.name, c.email, c.code = name, email, code
	return c.err
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *captureSender) {
	t.Helper()
	store := NewMemoryStore()
	sender := &captureSender{}
	hasher, err := security.NewPasswordHasher(security.HashBcrypt)
	if err != nil {
		t.Fatal(err)
	}
	iss := auth.Issuer{Name: "chainattend", Key: "k", AccessTTL: time.Minute, RefreshTTL: time.Hour}
	return NewService(store, hasher, sender, iss), store, sender
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	u, err := svc.Register(ctx, "Alice", "alice@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if u.PasswordHash == "pw" || u.OTPSecret == "" {
		t.Fatalf("secrets not set: %+v", u)
	}
	if _, err := svc.Register(ctx, "Alice", "other@example.com", "pw"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("want ErrUserExists got %v", err)
	}
	for _, in := range [][3]string{{"", "a@b.c", "pw"}, {"Bob", "not-an-email", "pw"}, {"Bob", "b@b.c", ""}} {
		if _, err := svc.Register(ctx, in[0], in[1], in[2]); !errors.Is(err, ErrInvalidUser) {
			t.Errorf("%v: want ErrInvalidUser got %v", in, err)
		}
	}
	if len(store.users) != 1 {
		t.Fatalf("store has %d users", len(store.users))
	}
}

func TestLoginFlow(t *testing.T) {
	ctx := context.Background()
	svc, store, sender := newTestService(t)
	if _, err := svc.Register(ctx, "Alice", "alice@example.com", "pw"); err != nil {
		t.Fatal(err)
	}

	if err := svc.BeginLogin(ctx, "Alice", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("want ErrBadCredentials got %v", err)
	}
	if err := svc.BeginLogin(ctx, "Nobody", "pw"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("want ErrBadCredentials got %v", err)
	}
	if err := svc.BeginLogin(ctx, "Alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if sender.email != "alice@example.com" || len(sender.code) != 6 {
		t.Fatalf("code not sent: %+v", sender)
	}

	if _, err := svc.CompleteLogin(ctx, "Alice", "abcdef"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("want ErrBadCredentials got %v", err)
	}
	pair, err := svc.CompleteLogin(ctx, "Alice", sender.code)
	if err != nil {
		t.Fatal(err)
	}
	if pair.AccessToken == "" {
		t.Fatal("no access token")
	}
	if store.tokens[pair.RefreshToken] == "" {
		t.Fatal("refresh token not saved")
	}
}

func TestBeginLoginSendFailure(t *testing.T) {
	ctx := context.Background()
	svc, _, sender := newTestService(t)
	if _, err := svc.Register(ctx, "Alice", "alice@example.com", "pw"); err != nil {
		t.Fatal(err)
	}
	sender.err = errors.New("smtp down")
	if err := svc.BeginLogin(ctx, "Alice", "pw"); err == nil || errors.Is(err, ErrBadCredentials) {
		t.Fatalf("want delivery error got %v", err)
	}
}

func TestIssueDevice(t *testing.T) {
	svc, store, _ := newTestService(t)
	pair, err := svc.IssueDevice(context.Background(), "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if store.tokens[pair.RefreshToken] != "dev-1" {
		t.Fatal("device refresh token not saved")
	}
}

func TestCompleteLoginNeedsPassword(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	u, err := svc.Register(ctx, "Alice", "alice@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	code, err := security.GenerateCode(store.users["Alice"].OTPSecret, svc.now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CompleteLogin(ctx, "Alice", code); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("want ErrBadCredentials got %v", err)
	}
	if len(store.tokens) != 0 {
		t.Fatal("tokens issued without a password check")
	}
	if _, ok := store.pending[u.ID]; ok {
		t.Fatal("pending login created by code step")
	}
}

func TestCompleteLoginRefusesReplay(t *testing.T) {
	ctx := context.Background()
	svc, _, sender := newTestService(t)
	now := time.Unix(1700000000, 0)
	svc.now = func() time.Time { return now }
	if _, err := svc.Register(ctx, "Alice", "alice@example.com", "pw"); err != nil {
		t.Fatal(err)
	}

	if err := svc.BeginLogin(ctx, "Alice", "pw"); err != nil {
		t.Fatal(err)
	}
	code := sender.code
	if _, err := svc.CompleteLogin(ctx, "Alice", code); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CompleteLogin(ctx, "Alice", code); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("second use: want ErrBadCredentials got %v", err)
	}

	// A new password check does not revive a code step already used.
	if err := svc.BeginLogin(ctx, "Alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CompleteLogin(ctx, "Alice", code); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("replayed step: want ErrBadCredentials got %v", err)
	}

	now = now.Add(time.Minute)
	if err := svc.BeginLogin(ctx, "Alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CompleteLogin(ctx, "Alice", sender.code); err != nil {
		t.Fatalf("next step: %v", err)
	}
}

func TestCompleteLoginLimits(t *testing.T) {
	ctx := context.Background()
	svc, _, sender := newTestService(t)
	now := time.Unix(1700000000, 0)
	svc.now = func() time.Time { return now }
	if _, err := svc.Register(ctx, "Alice", "alice@example.com", "pw"); err != nil {
		t.Fatal(err)
	}

	if err := svc.BeginLogin(ctx, "Alice", "pw"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < MaxOTPAttempts; i++ {
		if _, err := svc.CompleteLogin(ctx, "Alice", "000000x"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := svc.CompleteLogin(ctx, "Alice", sender.code); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("attempts exhausted: want ErrBadCredentials got %v", err)
	}

	if err := svc.BeginLogin(ctx, "Alice", "pw"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(PendingLoginTTL)
	if _, err := svc.CompleteLogin(ctx, "Alice", sender.code); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expired: want ErrBadCredentials got %v", err)
	}
}
