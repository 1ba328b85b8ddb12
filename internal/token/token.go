// Package token derives and validates the rotating numeric codes students
// submit at check-in. Codes are standard TOTP values over a per-session shared
// secret: deterministic within a 30-second step, with a configurable skew of
// adjacent steps accepted to tolerate clock and network drift. Widening the
// skew widens replay exposure by the same amount, so it defaults to one step.
package token

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const secretBytes = 20 // 160 bits of entropy, base32-encodes without padding

// Engine issues and validates time-stepped codes.
type Engine struct {
	period time.Duration
	skew   uint
	now    func() time.Time
}

// NewEngine creates an engine with the given step period and accepted skew in
// steps. Non-positive period falls back to 30 seconds.
func NewEngine(period time.Duration, skew int) *Engine {
	if period <= 0 {
		period = 30 * time.Second
	}
	if skew < 0 {
		skew = 0
	}
	return &Engine{period: period, skew: uint(skew), now: time.Now}
}

// WithClock overrides the engine's clock. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(e.period / time.Second),
		Skew:      e.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Issue returns the code valid for the current step. Two calls within the same
// step return identical output.
func (e *Engine) Issue(secret string) (string, error) {
	return totp.GenerateCodeCustom(secret, e.now(), e.opts())
}

// Verify reports whether code matches the current step or one step either
// side. A malformed secret is reported as an error, distinct from a
// well-formed-but-wrong code which is simply false.
func (e *Engine) Verify(secret, code string) (bool, error) {
	ok, err := totp.ValidateCustom(code, secret, e.now(), e.opts())
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		// A code of the wrong length is just a wrong code.
		return false, nil
	}
	return ok, err
}

// NewSecret returns a fresh random base32 session secret.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.EncodeToString(buf), nil
}
