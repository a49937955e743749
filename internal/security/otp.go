package security

import (
	"crypto/subtle"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// OTPIssuer labels generated secrets.
const OTPIssuer = "chainattend"

var otpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// NewOTPSecret creates a base32 TOTP secret for account.
func NewOTPSecret(account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      OTPIssuer,
		AccountName: account,
		Period:      otpOpts.Period,
		Digits:      otpOpts.Digits,
		Algorithm:   otpOpts.Algorithm,
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// GenerateCode returns the six digit code for secret at t.
func GenerateCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, otpOpts)
}

// MatchCode reports the time step code belongs to, trying the step for t
// and one period either side. Callers use the step to refuse replays.
func MatchCode(code, secret string, t time.Time) (int64, bool) {
	period := int64(otpOpts.Period)
	step := t.Unix() / period
	for _, s := range []int64{step, step - 1, step + 1} {
		want, err := totp.GenerateCodeCustom(secret, time.Unix(s*period, 0).UTC(), otpOpts)
		if err != nil {
			return 0, false
		}
		if codesEqual(code, want) {
			return s, true
		}
	}
	return 0, false
}

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
