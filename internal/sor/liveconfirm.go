package sor

import (
	"time"

	"github.com/pquerna/otp/totp"
)

// LiveConfirmGate validates an operator-supplied confirmation token
// against a live TOTP code before allowing any submit while EXEC_PROFILE
// is live. The gateway takes the shared secret from the LIVE_CONFIRM
// environment variable; the gate never logs it.
type LiveConfirmGate struct {
	secret string
}

// NewLiveConfirmGate constructs a gate bound to the given TOTP secret.
func NewLiveConfirmGate(secret string) *LiveConfirmGate {
	return &LiveConfirmGate{secret: secret}
}

// Validate reports whether the supplied 6-digit code is currently valid
// against the gate's secret.
func (g *LiveConfirmGate) Validate(code string) bool {
	if g.secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, g.secret, time.Now(), totp.ValidateOpts{
		Period: 30,
		Skew:   1,
		Digits: 6,
	})
	if err != nil {
		return false
	}
	return ok
}
