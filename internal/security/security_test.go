package security

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPasswordHasher(t *testing.T) {
	for _, scheme := range []string{"", HashBcrypt, HashArgon2id} {
		h, err := NewPasswordHasher(scheme)
		if err != nil {
			t.Fatal(err)
		}
		hash, err := h.Hash("hunter2")
		if err != nil {
			t.Fatalf("%s: %v", scheme, err)
		}
		if hash == "hunter2" {
			t.Fatalf("%s: hash equals password", scheme)
		}
		if err := h.Compare("hunter2", hash); err != nil {
			t.Fatalf("%s: compare: %v", scheme, err)
		}
		if err := h.Compare("hunter3", hash); !errors.Is(err, ErrPasswordMismatch) {
			t.Fatalf("%s: want ErrPasswordMismatch got %v", scheme, err)
		}
	}
}

func TestPasswordHasherCrossScheme(t *testing.T) {
	b, _ := NewPasswordHasher(HashBcrypt)
	a, _ := NewPasswordHasher(HashArgon2id)

	argonHash, err := a.Hash("pw")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(argonHash, "$argon2id$") {
		t.Fatalf("unexpected argon2id hash %q", argonHash)
	}
	if err := b.Compare("pw", argonHash); err != nil {
		t.Fatalf("bcrypt hasher should check argon2id hashes: %v", err)
	}
	bcryptHash, _ := b.Hash("pw")
	if err := a.Compare("pw", bcryptHash); err != nil {
		t.Fatalf("argon2id hasher should check bcrypt hashes: %v", err)
	}
}

func TestPasswordHasherRejects(t *testing.T) {
	if _, err := NewPasswordHasher("md5"); err == nil {
		t.Fatal("expected unknown scheme error")
	}
	h, _ := NewPasswordHasher("")
	if _, err := h.Hash(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestOTP(t *testing.T) {
	secret, err := NewOTPSecret("alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1700000000, 0)
	code, err := GenerateCode(secret, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 6 {
		t.Fatalf("code %q", code)
	}

	step := now.Unix() / 30
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"same period", now, true},
		{"one period later", now.Add(30 * time.Second), true},
		{"one period earlier", now.Add(-30 * time.Second), true},
		{"expired", now.Add(5 * time.Minute), false},
	}
	for _, tt := range tests {
		got, ok := MatchCode(code, secret, tt.at)
		if ok != tt.want {
			t.Errorf("%s: got %v want %v", tt.name, ok, tt.want)
			continue
		}
		if ok && got != step {
			t.Errorf("%s: step %d want %d", tt.name, got, step)
		}
	}
	if _, ok := MatchCode("000000x", secret, now); ok {
		t.Fatal("malformed code accepted")
	}
}

func TestOTPKnownVector(t *testing.T) {
	// RFC 6238 SHA1 secret "12345678901234567890" in base32.
	secret := "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	code, err := GenerateCode(secret, time.Unix(59, 0))
	if err != nil {
		t.Fatal(err)
	}
	if code != "287082" {
		t.Fatalf("got %s want 287082", code)
	}
}

func TestCodesEqual(t *testing.T) {
	if !codesEqual("123456", "123456") {
		t.Fatal("equal codes reported different")
	}
	if codesEqual("123456", "123457") || codesEqual("123456", "12345") {
		t.Fatal("different codes reported equal")
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := LogSender{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	if err := s.SendCode(context.Background(), "Alice", "alice@example.com", "123456"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"code":"123456"`) {
		t.Fatalf("log missing code: %s", buf.String())
	}
	if err := (LogSender{}).SendCode(context.Background(), "Alice", "alice@example.com", "123456"); err != nil {
		t.Fatal(err)
	}
}

func TestNewMailerSendSenderDisabled(t *testing.T) {
	if NewMailerSendSender("", "x", "a@b.c") != nil {
		t.Fatal("sender without key should be nil")
	}
	if NewMailerSendSender("key", "x", "") != nil {
		t.Fatal("sender without from address should be nil")
	}
}
