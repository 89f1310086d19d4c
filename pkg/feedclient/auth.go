package feedclient

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"
)

// Credentials identify the client to an authenticated feed. TOTPSecret
// is the base32 seed the feed operator issued; a fresh 6-digit code is
// generated per login attempt. Leave all fields empty for open feeds.
type Credentials struct {
	ClientCode string
	TOTPSecret string
}

// empty reports whether the feed needs no auth handshake.
func (c Credentials) empty() bool {
	return c.ClientCode == "" && c.TOTPSecret == ""
}

// authFrame builds the login control frame with a current TOTP code.
func (c Credentials) authFrame() (ControlMsg, error) {
	code, err := totp.GenerateCode(c.TOTPSecret, time.Now())
	if err != nil {
		return ControlMsg{}, fmt.Errorf("feedclient: generate totp: %w", err)
	}
	return ControlMsg{
		Type:       MsgAuth,
		ClientCode: c.ClientCode,
		TOTP:       code,
	}, nil
}

// loginLimiter throttles login attempts so a flapping connection cannot
// hammer the feed's auth endpoint: one attempt per 10s, burst of 3.
func loginLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(10*time.Second), 3)
}

// waitLogin blocks until the limiter admits another login attempt or
// ctx is cancelled.
func waitLogin(ctx context.Context, lim *rate.Limiter) error {
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("feedclient: login throttled: %w", err)
	}
	return nil
}
