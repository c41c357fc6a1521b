package auth

import "errors"

var (
	ErrUserNotFound          = errors.New("auth: user not found")
	ErrSessionNotFound       = errors.New("auth: session not found")
	ErrUsernameTaken         = errors.New("auth: username already taken")
	ErrEmailTaken            = errors.New("auth: email already in use")
	ErrBadCredentials        = errors.New("auth: bad credentials")
	ErrAccountDisabled       = errors.New("auth: account disabled")
	ErrTooManyAttempts       = errors.New("auth: too many failed login attempts")
	ErrTwoFactorRequired     = errors.New("auth: two-factor code required")
	ErrInvalidTwoFactorCode  = errors.New("auth: invalid two-factor code")
	ErrTwoFactorCodeRequired = errors.New("auth: code is required")
	ErrTwoFactorNotSetUp     = errors.New("auth: two-factor not set up")
	ErrTwoFactorEnabled      = errors.New("auth: two-factor already enabled")
	ErrTwoFactorNotEnabled   = errors.New("auth: two-factor not enabled")
	ErrInvalidToken          = errors.New("auth: invalid or expired token")
	ErrSessionRevoked        = errors.New("auth: session revoked")
	ErrInvalidRefreshToken   = errors.New("auth: unknown refresh token")
	ErrRefreshTokenExpired   = errors.New("auth: refresh token expired")
	ErrInvalidResetToken     = errors.New("auth: invalid password reset token")
	ErrResetTokenExpired     = errors.New("auth: password reset token expired")
	ErrPasswordPolicy        = errors.New("auth: password does not meet policy")

	// ErrForbidden is shared by every domain service for role and ownership checks.
	ErrForbidden = errors.New("access denied")
)
