package auth

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpPeriod = 30

// totpStepOpts validates against exactly one step. matchTOTPStep walks the
// skew window itself so callers learn which step a code belonged to.
var totpStepOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      0,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// NewTOTPKey generates a 20 byte secret for account. key.Secret() is stored,
// key.URL() is what authenticator apps scan.
func NewTOTPKey(issuer, account string, r io.Reader) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpPeriod,
		SecretSize:  20,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		Rand:        r,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: totp secret: %w", err)
	}
	return key, nil
}

// TOTPCode computes the code for the step containing at.
func TOTPCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totpStepOpts)
}

// matchTOTPStep returns the time step code was generated for, allowing one
// step of clock drift either side.
func matchTOTPStep(secret, code string, at time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	current := at.Unix() / totpPeriod
	for _, delta := range []int64{0, -1, 1} {
		step := current + delta
		if step < 0 {
			continue
		}
		ok, err := totp.ValidateCustom(code, secret, time.Unix(step*totpPeriod, 0), totpStepOpts)
		if err == nil && ok {
			return step, true
		}
	}
	return 0, false
}
