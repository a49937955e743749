package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
)

const testKey = "YourSecretKeyHere"

var digestTests = []struct {
	name     string
	ts       int64
	key      string
	expected string
}{
	{"Alice", 1700000000, testKey, "5467a654e71faf0d14f73c9c56c82f734e819eba9f0dfc2b73ce8c312fb3644b"},
	{"Alice", 1700000001, testKey, "cefa8f4772e526f1e2719313f319af3938bd827426b00cded886cb3b6aabcc13"},
	{"Bob", 1700000000, testKey, "0b0f509bf69d27e0964a1ed424925d1f3a34c6ec533b4fb4439f8a15cb980375"},
	// Empty name is legal.
	{"", 0, "k", "4a653e8e795ed1a2701ec43f0d279533cf1e44b6f06e20fa8f401954f42403a2"},
}

func TestComputeDigestVectors(t *testing.T) {
	for _, v := range digestTests {
		got, err := ComputeDigest(v.name, v.ts, v.key)
		if err != nil {
			t.Fatalf("%q/%d: %v", v.name, v.ts, err)
		}
		if got != v.expected {
			t.Errorf("%q/%d: want %v got %v", v.name, v.ts, v.expected, got)
		}
	}
}

func TestComputeDigestMatchesLiteral(t *testing.T) {
	sum := sha256.Sum256([]byte("Alice|1700000000|YourSecretKeyHere"))
	want := hex.EncodeToString(sum[:])

	got, err := ComputeDigest("Alice", 1700000000, testKey)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("want %v got %v", want, got)
	}
}

func TestComputeDigestDeterministic(t *testing.T) {
	for i := int64(0); i < 50; i++ {
		a, err := ComputeDigest("Carol", 1700000000+i, testKey)
		if err != nil {
			t.Fatal(err)
		}
		b, _ := ComputeDigest("Carol", 1700000000+i, testKey)
		if a != b {
			t.Fatalf("digest not deterministic: %v != %v", a, b)
		}
		if len(a) != DigestLen || !IsDigest(a) {
			t.Fatalf("not canonical hex: %q", a)
		}
	}
}

func TestComputeDigestSingleFieldChange(t *testing.T) {
	base, _ := ComputeDigest("Alice", 1700000000, testKey)

	variants := []struct {
		name string
		ts   int64
		key  string
	}{
		{"alice", 1700000000, testKey},
		{"Alicf", 1700000000, testKey},
		{"Alice ", 1700000000, testKey},
		{"Alice", 1700000001, testKey},
		{"Alice", 1700000010, testKey},
		{"Alice", 1700000000, "YourSecretKeyHerf"},
		{"Alice", 1700000000, "yourSecretKeyHere"},
	}
	for _, v := range variants {
		got, err := ComputeDigest(v.name, v.ts, v.key)
		if err != nil {
			t.Fatal(err)
		}
		if got == base {
			t.Errorf("%q/%d/%q collided with base digest", v.name, v.ts, v.key)
		}
	}
}

func TestComputeDigestInvalidInput(t *testing.T) {
	if _, err := ComputeDigest("Alice", -1, testKey); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative timestamp: want ErrInvalidInput got %v", err)
	}
	if _, err := ComputeDigest("Alice", 1700000000, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty key: want ErrInvalidInput got %v", err)
	}
}

func TestComputeDigestErrorHidesKey(t *testing.T) {
	_, err := ComputeDigest("Alice", -5, testKey)
	if err == nil || strings.Contains(err.Error(), testKey) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestVerifyDigest(t *testing.T) {
	digest, _ := ComputeDigest("Alice", 1700000000, testKey)

	if !VerifyDigest("Alice", 1700000000, testKey, digest) {
		t.Fatal("round trip failed")
	}

	// Flip every position once.
	for i := 0; i < len(digest); i++ {
		b := []byte(digest)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		if VerifyDigest("Alice", 1700000000, testKey, string(b)) {
			t.Fatalf("position %d: altered digest verified", i)
		}
	}

	rejects := []string{
		"",
		digest[:63],
		digest + "0",
		strings.ToUpper(digest),
		" " + digest[1:],
	}
	for _, c := range rejects {
		if VerifyDigest("Alice", 1700000000, testKey, c) {
			t.Errorf("candidate %q verified", c)
		}
	}

	if VerifyDigest("Alice", -1, testKey, digest) {
		t.Fatal("negative timestamp verified")
	}
	if VerifyDigest("Alice", 1700000000, "", digest) {
		t.Fatal("empty key verified")
	}
}

func TestTimestampsOneSecondApart(t *testing.T) {
	now := time.Now().Unix()
	a, _ := ComputeDigest("Alice", now, testKey)
	b, _ := ComputeDigest("Alice", now+1, testKey)
	if a == b {
		t.Fatalf("digests one second apart collide: %v", a)
	}
}

var timestampTests = []struct {
	in       string
	expected int64
	ok       bool
}{
	{"1700000000", 1700000000, true},
	{"0", 0, true},
	{"-1", 0, false},
	{"+1", 0, false},
	{" 1700000000", 0, false},
	{"1700000000 ", 0, false},
	{"17000.5", 0, false},
	{"abc", 0, false},
	{"", 0, false},
	{"99999999999999999999", 0, false},
}

func TestParseTimestamp(t *testing.T) {
	for _, v := range timestampTests {
		got, err := ParseTimestamp(v.in)
		if v.ok {
			if err != nil || got != v.expected {
				t.Errorf("%q: want %v got %v (%v)", v.in, v.expected, got, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%q: want ErrInvalidInput got %v", v.in, err)
		}
	}
}

func TestIsDigest(t *testing.T) {
	good := digestTests[0].expected
	if !IsDigest(good) {
		t.Fatalf("%v rejected", good)
	}
	for _, s := range []string{strings.ToUpper(good), good[:63], good + "a", "z" + good[1:]} {
		if IsDigest(s) {
			t.Errorf("%q accepted", s)
		}
	}
}
