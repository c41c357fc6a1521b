package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/oh-ehr-portal/internal/audit"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

var authTracer = otel.Tracer("ohehr.internal.auth")

const serviceName = "AuthService"

// ResetMailer delivers password reset tokens.
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, user *User, token string, expires time.Time) error
}

// LoginObserver receives sign-in outcomes for metrics.
type LoginObserver interface {
	ObserveLogin(outcome string)
}

// ClientInfo identifies where a request came from.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// Service implements sign-up, sign-in, sessions, password reset and 2FA.
type Service struct {
	repo       Repository
	tokens     *TokenIssuer
	throttle   Throttle
	audit      audit.Recorder
	mailer     ResetMailer
	observer   LoginObserver
	logger     *logging.Logger
	refreshTTL time.Duration
	resetTTL   time.Duration
	issuer     string
	random     io.Reader
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithThrottle(t Throttle) Option { return func(s *Service) { s.throttle = t } }
func WithAudit(r audit.Recorder) Option { return func(s *Service) { s.audit = r } }
func WithResetMailer(m ResetMailer) Option { return func(s *Service) { s.mailer = m } }
func WithLoginObserver(o LoginObserver) Option { return func(s *Service) { s.observer = o } }
func WithLogger(l *logging.Logger) Option { return func(s *Service) { s.logger = l } }
func WithRefreshTTL(d time.Duration) Option { return func(s *Service) { s.refreshTTL = d } }
func WithResetTTL(d time.Duration) Option { return func(s *Service) { s.resetTTL = d } }
func WithTOTPIssuer(issuer string) Option { return func(s *Service) { s.issuer = issuer } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func withRandom(r io.Reader) Option { return func(s *Service) { s.random = r } }

// NewService wires an auth service.
func NewService(repo Repository, tokens *TokenIssuer, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		tokens:     tokens,
		refreshTTL: 7 * 24 * time.Hour,
		resetTTL:   24 * time.Hour,
		issuer:     "OH-EHR",
		random:     rand.Reader,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	return s
}

// Signup creates an account. Admin cannot be self-assigned.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	taken, err := s.repo.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrUsernameTaken
	}
	taken, err = s.repo.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	role, ok := ParseRole(req.UserType)
	if !ok || role == RoleAdmin {
		role = RoleEmployee
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	user := &User{
		ID:                 uuid.NewString(),
		Username:           req.Username,
		Email:              req.Email,
		PasswordHash:       hash,
		FirstName:          strings.TrimSpace(req.FirstName),
		LastName:           strings.TrimSpace(req.LastName),
		Role:               role,
		Status:             UserActive,
		EmailNotifications: true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      user.ID,
		ServiceName: serviceName,
		EntityType:  "User",
		EntityID:    user.ID,
		Action:      audit.ActionCreate,
		NewValues:   audit.Values(map[string]any{"username": user.Username, "role": user.Role}),
	})
	s.logger.Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Signin authenticates a user and opens a session.
func (s *Service) Signin(ctx context.Context, req SigninRequest, client ClientInfo) (*LoginResult, error) {
	ctx, span := authTracer.Start(ctx, "auth.signin")
	defer span.End()

	username := strings.TrimSpace(req.Username)
	fail := func(userID string, reason error, countFailure bool) (*LoginResult, error) {
		if countFailure && s.throttle != nil {
			s.throttle.RecordFailure(ctx, username)
		}
		audit.Record(ctx, s.audit, s.logger, audit.Entry{
			UserID:      userID,
			ServiceName: serviceName,
			Action:      audit.ActionLoginFailure,
			NewValues:   audit.Values(map[string]string{"username": username, "reason": reason.Error()}),
			IPAddress:   client.IPAddress,
		})
		outcome := "failure"
		if errors.Is(reason, ErrTooManyAttempts) {
			outcome = "throttled"
		}
		s.observe(outcome)
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		return nil, reason
	}

	if s.throttle != nil && !s.throttle.Allowed(ctx, username) {
		return fail("", ErrTooManyAttempts, false)
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return fail("", ErrBadCredentials, true)
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, req.Password) {
		return fail(user.ID, ErrBadCredentials, true)
	}
	if user.Status != UserActive {
		return fail(user.ID, ErrAccountDisabled, false)
	}
	if user.TwoFactorEnabled {
		if strings.TrimSpace(req.Code) == "" {
			return fail(user.ID, ErrTwoFactorRequired, false)
		}
		if user.TwoFactorSecret == nil {
			return fail(user.ID, ErrInvalidTwoFactorCode, true)
		}
		if err := s.claimTOTP(ctx, user.ID, *user.TwoFactorSecret, req.Code); err != nil {
			if errors.Is(err, ErrInvalidTwoFactorCode) {
				return fail(user.ID, err, true)
			}
			return nil, err
		}
	}
	if s.throttle != nil {
		s.throttle.Reset(ctx, username)
	}

	s.detectSuspiciousLogin(ctx, user, client)

	res, err := s.openSession(ctx, user, client)
	if err != nil {
		return nil, err
	}
	if err := s.repo.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      user.ID,
		ServiceName: serviceName,
		EntityType:  "User",
		EntityID:    user.ID,
		Action:      audit.ActionLoginSuccess,
		NewValues:   audit.Values(map[string]string{"userAgent": client.UserAgent}),
		IPAddress:   client.IPAddress,
	})
	s.observe("success")
	span.SetAttributes(attribute.String("auth.outcome", "success"))
	return res, nil
}

// detectSuspiciousLogin flags an IP or user agent absent from every existing session.
// A user with no sessions is on their first login and is never flagged.
func (s *Service) detectSuspiciousLogin(ctx context.Context, user *User, client ClientInfo) {
	sessions, err := s.repo.ListSessions(ctx, user.ID)
	if err != nil {
		s.logger.Warn("suspicious login check skipped", "user_id", user.ID, "error", err)
		return
	}
	if len(sessions) == 0 {
		return
	}
	knownIP, knownAgent := false, false
	for _, sess := range sessions {
		if sess.IPAddress == client.IPAddress {
			knownIP = true
		}
		if sess.UserAgent == client.UserAgent {
			knownAgent = true
		}
	}
	if !knownIP {
		s.logger.Warn("suspicious login from new ip", "user_id", user.ID, "ip", client.IPAddress)
		audit.Record(ctx, s.audit, s.logger, audit.Entry{
			UserID:      user.ID,
			ServiceName: serviceName,
			EntityType:  "User",
			EntityID:    user.ID,
			Action:      audit.ActionSuspiciousLoginIP,
			NewValues:   audit.Values(map[string]string{"ipAddress": client.IPAddress}),
			IPAddress:   client.IPAddress,
		})
	}
	if !knownAgent {
		s.logger.Warn("suspicious login from new user agent", "user_id", user.ID)
		audit.Record(ctx, s.audit, s.logger, audit.Entry{
			UserID:      user.ID,
			ServiceName: serviceName,
			EntityType:  "User",
			EntityID:    user.ID,
			Action:      audit.ActionSuspiciousLoginUserAgent,
			NewValues:   audit.Values(map[string]string{"userAgent": client.UserAgent}),
			IPAddress:   client.IPAddress,
		})
	}
}

func (s *Service) openSession(ctx context.Context, user *User, client ClientInfo) (*LoginResult, error) {
	refresh, err := newOpaqueToken(s.random)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		RefreshTokenHash: hashToken(refresh),
		ExpiresAt:        s.now().Add(s.refreshTTL),
		IPAddress:        client.IPAddress,
		UserAgent:        client.UserAgent,
	}
	access, expires, err := s.tokens.Issue(user, sess.ID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: access, RefreshToken: refresh, ExpiresAt: expires, User: user}, nil
}

// Refresh rotates a refresh token into a new session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrInvalidRefreshToken
	}
	sess, err := s.repo.GetSessionByRefreshHash(ctx, hashToken(refreshToken))
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}
	if !sess.ExpiresAt.After(s.now()) {
		if err := s.repo.DeleteSession(ctx, sess.ID); err != nil {
			s.logger.Warn("failed to delete expired session", "session_id", sess.ID, "error", err)
		}
		return nil, ErrRefreshTokenExpired
	}
	user, err := s.repo.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteSession(ctx, sess.ID); err != nil {
		return nil, err
	}
	if user.Status != UserActive {
		return nil, ErrAccountDisabled
	}
	res, err := s.openSession(ctx, user, ClientInfo{IPAddress: sess.IPAddress, UserAgent: sess.UserAgent})
	if err != nil {
		return nil, err
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      user.ID,
		ServiceName: serviceName,
		EntityType:  "UserSession",
		EntityID:    sess.ID,
		Action:      audit.ActionTokenRefresh,
		IPAddress:   sess.IPAddress,
	})
	return res, nil
}

// Authenticate resolves an access token into a Principal. The session must still exist.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Principal{}, err
	}
	sess, err := s.repo.GetSession(ctx, claims.ID)
	if errors.Is(err, ErrSessionNotFound) {
		return Principal{}, ErrSessionRevoked
	}
	if err != nil {
		return Principal{}, err
	}
	if sess.UserID != claims.Subject {
		return Principal{}, ErrInvalidToken
	}
	user, err := s.repo.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		return Principal{}, ErrInvalidToken
	}
	if err != nil {
		return Principal{}, err
	}
	if user.Status != UserActive {
		return Principal{}, ErrAccountDisabled
	}
	return Principal{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
		SessionID: sess.ID,
	}, nil
}

// Logout ends the caller's session.
func (s *Service) Logout(ctx context.Context, p Principal, client ClientInfo) error {
	if err := s.repo.DeleteSession(ctx, p.SessionID); err != nil {
		return err
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      p.UserID,
		ServiceName: serviceName,
		EntityType:  "UserSession",
		EntityID:    p.SessionID,
		Action:      audit.ActionLogout,
		IPAddress:   client.IPAddress,
	})
	return nil
}

// ForgotPassword mails a reset token when email belongs to an account.
// Unknown addresses succeed silently.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.repo.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrUserNotFound) {
		s.logger.Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	token := uuid.NewString()
	expires := s.now().Add(s.resetTTL)
	if err := s.repo.SetPasswordResetToken(ctx, user.ID, hashToken(token), expires); err != nil {
		return err
	}
	if s.mailer != nil {
		if err := s.mailer.SendPasswordReset(ctx, user, token, expires); err != nil {
			return fmt.Errorf("auth: send reset email: %w", err)
		}
	}
	s.logger.Info("password reset token issued", "user_id", user.ID)
	return nil
}

// ResetPassword consumes a reset token and signs the user out everywhere.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.repo.GetUserByResetHash(ctx, hashToken(strings.TrimSpace(token)))
	if errors.Is(err, ErrUserNotFound) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return err
	}
	if user.PasswordResetExpires == nil || !user.PasswordResetExpires.After(s.now()) {
		return ErrResetTokenExpired
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := s.repo.ResetPassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := s.repo.DeleteUserSessions(ctx, user.ID); err != nil {
		s.logger.Warn("failed to revoke sessions after reset", "user_id", user.ID, "error", err)
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      user.ID,
		ServiceName: serviceName,
		EntityType:  "User",
		EntityID:    user.ID,
		Action:      audit.ActionUpdate,
		NewValues:   audit.Values(map[string]bool{"passwordReset": true}),
	})
	return nil
}

// Setup2FA generates and stores a new TOTP secret. 2FA stays off until Enable2FA.
func (s *Service) Setup2FA(ctx context.Context, p Principal) (*TwoFactorSetup, error) {
	user, err := s.repo.GetUserByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorEnabled
	}
	key, err := NewTOTPKey(s.issuer, user.Email, s.random)
	if err != nil {
		return nil, err
	}
	secret := key.Secret()
	if err := s.repo.SetTwoFactor(ctx, user.ID, &secret, false); err != nil {
		return nil, err
	}
	return &TwoFactorSetup{Secret: secret, QRCodeURL: key.URL()}, nil
}

// claimTOTP validates code and consumes its time step, so a code accepted once
// cannot be replayed within its validity window.
func (s *Service) claimTOTP(ctx context.Context, userID, secret, code string) error {
	step, ok := matchTOTPStep(secret, code, s.now())
	if !ok {
		return ErrInvalidTwoFactorCode
	}
	claimed, err := s.repo.ClaimTOTPStep(ctx, userID, step)
	if err != nil {
		return err
	}
	if !claimed {
		logging.FromContext(ctx, s.logger).Warn("totp code replayed", "user_id", userID, "step", step)
		return ErrInvalidTwoFactorCode
	}
	return nil
}

// Enable2FA turns 2FA on once the user proves they hold the secret.
func (s *Service) Enable2FA(ctx context.Context, p Principal, code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrTwoFactorCodeRequired
	}
	user, err := s.repo.GetUserByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if user.TwoFactorSecret == nil {
		return ErrTwoFactorNotSetUp
	}
	if err := s.claimTOTP(ctx, user.ID, *user.TwoFactorSecret, code); err != nil {
		return err
	}
	if err := s.repo.SetTwoFactor(ctx, user.ID, user.TwoFactorSecret, true); err != nil {
		return err
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID: user.ID, ServiceName: serviceName, EntityType: "User", EntityID: user.ID,
		Action: audit.ActionUpdate, NewValues: audit.Values(map[string]bool{"twoFactorEnabled": true}),
	})
	return nil
}

// Disable2FA turns 2FA off and discards the secret.
func (s *Service) Disable2FA(ctx context.Context, p Principal, code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrTwoFactorCodeRequired
	}
	user, err := s.repo.GetUserByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == nil {
		return ErrTwoFactorNotEnabled
	}
	if err := s.claimTOTP(ctx, user.ID, *user.TwoFactorSecret, code); err != nil {
		return err
	}
	if err := s.repo.SetTwoFactor(ctx, user.ID, nil, false); err != nil {
		return err
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID: user.ID, ServiceName: serviceName, EntityType: "User", EntityID: user.ID,
		Action: audit.ActionUpdate, NewValues: audit.Values(map[string]bool{"twoFactorEnabled": false}),
	})
	return nil
}

// UserCounts backs the admin dashboard.
func (s *Service) UserCounts(ctx context.Context) (map[Role]int, error) {
	return s.repo.CountUsersByRole(ctx)
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveLogin(outcome)
	}
}
