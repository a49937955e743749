// Package integrity computes and checks the keyed digest that makes an
// attendance record tamper-evident.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// DigestLen is the length of a hex-encoded SHA-256 digest.
const DigestLen = sha256.Size * 2

// Separator joins the digest fields.
const Separator = "|"

// ErrInvalidInput is returned for inputs that cannot be hashed.
var ErrInvalidInput = errors.New("integrity: invalid input")

// ComputeDigest returns hex(SHA-256(name|timestamp|secretKey)).
func ComputeDigest(name string, timestamp int64, secretKey string) (string, error) {
	if err := validate(timestamp, secretKey); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(name + Separator + strconv.FormatInt(timestamp, 10) + Separator + secretKey))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyDigest reports whether candidate is the digest of the given fields.
// The comparison is constant time and case sensitive; malformed input
// never verifies.
func VerifyDigest(name string, timestamp int64, secretKey, candidate string) bool {
	want, err := ComputeDigest(name, timestamp, secretKey)
	if err != nil {
		return false
	}
	return equal(want, candidate)
}

// ComputeHMAC returns hex(HMAC-SHA256(secretKey, name|timestamp)).
func ComputeHMAC(name string, timestamp int64, secretKey string) (string, error) {
	if err := validate(timestamp, secretKey); err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(name + Separator + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// ParseTimestamp parses a base-10 unix timestamp received as text. Signs,
// spaces and fractions are rejected rather than coerced.
func ParseTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty timestamp", ErrInvalidInput)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: timestamp %q is not a non-negative integer", ErrInvalidInput, s)
		}
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: timestamp %q: %v", ErrInvalidInput, s, err)
	}
	return ts, nil
}

// IsDigest reports whether s is a canonical lowercase hex SHA-256 digest.
func IsDigest(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func validate(timestamp int64, secretKey string) error {
	if timestamp < 0 {
		return fmt.Errorf("%w: negative timestamp %d", ErrInvalidInput, timestamp)
	}
	if secretKey == "" {
		return fmt.Errorf("%w: empty secret key", ErrInvalidInput)
	}
	return nil
}

func equal(want, candidate string) bool {
	if len(candidate) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(candidate)) == 1
}
