package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/oh-ehr-portal/internal/audit"
)

type memRepo struct {
	mu       sync.Mutex
	users    map[string]*User
	sessions map[string]*Session
	steps    map[string]int64
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[string]*User{}, sessions: map[string]*Session{}, steps: map[string]int64{}}
}

func (m *memRepo) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrUsernameTaken
		}
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memRepo) find(match func(*User) bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memRepo) GetUserByID(_ context.Context, id string) (*User, error) {
	return m.find(func(u *User) bool { return u.ID == id })
}
func (m *memRepo) GetUserByUsername(_ context.Context, name string) (*User, error) {
	return m.find(func(u *User) bool { return u.Username == name })
}
func (m *memRepo) GetUserByEmail(_ context.Context, email string) (*User, error) {
	return m.find(func(u *User) bool { return u.Email == email })
}
func (m *memRepo) GetUserByResetHash(_ context.Context, hash string) (*User, error) {
	return m.find(func(u *User) bool { return u.PasswordResetHash != nil && *u.PasswordResetHash == hash })
}
func (m *memRepo) ExistsByUsername(ctx context.Context, name string) (bool, error) {
	_, err := m.GetUserByUsername(ctx, name)
	return err == nil, nil
}
func (m *memRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := m.GetUserByEmail(ctx, email)
	return err == nil, nil
}
func (m *memRepo) update(id string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}
func (m *memRepo) SetPasswordResetToken(_ context.Context, id, hash string, expires time.Time) error {
	return m.update(id, func(u *User) { u.PasswordResetHash = &hash; u.PasswordResetExpires = &expires })
}
func (m *memRepo) ResetPassword(_ context.Context, id, hash string) error {
	return m.update(id, func(u *User) { u.PasswordHash = hash; u.PasswordResetHash = nil; u.PasswordResetExpires = nil })
}
func (m *memRepo) SetTwoFactor(_ context.Context, id string, secret *string, enabled bool) error {
	return m.update(id, func(u *User) { u.TwoFactorSecret = secret; u.TwoFactorEnabled = enabled })
}
func (m *memRepo) ClaimTOTPStep(_ context.Context, id string, step int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok || m.steps[id] >= step {
		return false, nil
	}
	m.steps[id] = step
	return true, nil
}
func (m *memRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(u *User) { u.LastLoginAt = &at })
}
func (m *memRepo) CountUsersByRole(context.Context) (map[Role]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[Role]int{}
	for _, u := range m.users {
		out[u.Role]++
	}
	return out, nil
}
func (m *memRepo) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}
func (m *memRepo) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, ErrSessionNotFound
}
func (m *memRepo) GetSessionByRefreshHash(_ context.Context, hash string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshTokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSessionNotFound
}
func (m *memRepo) ListSessions(_ context.Context, userID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}
func (m *memRepo) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
func (m *memRepo) DeleteUserSessions(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}
func (r *recordingAudit) RecordAccess(context.Context, audit.Access) error { return nil }
func (r *recordingAudit) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Action
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type memThrottle struct{ failures map[string]int }

func (m *memThrottle) Allowed(_ context.Context, u string) bool { return m.failures[u] < 2 }
func (m *memThrottle) RecordFailure(_ context.Context, u string) { m.failures[u]++ }
func (m *memThrottle) Reset(_ context.Context, u string)         { delete(m.failures, u) }

type captureMailer struct{ token string }

func (c *captureMailer) SendPasswordReset(_ context.Context, _ *User, token string, _ time.Time) error {
	c.token = token
	return nil
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	audit    *recordingAudit
	throttle *memThrottle
	mailer   *captureMailer
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemRepo(),
		audit:    &recordingAudit{},
		throttle: &memThrottle{failures: map[string]int{}},
		mailer:   &captureMailer{},
		now:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	tokens, err := NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	f.svc = NewService(f.repo, tokens,
		WithAudit(f.audit),
		WithThrottle(f.throttle),
		WithResetMailer(f.mailer),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) signup(t *testing.T, username string) *User {
	t.Helper()
	u, err := f.svc.Signup(context.Background(), SignupRequest{
		Username: username, Email: username + "@example.com", Password: "Passw0rd!",
		FirstName: "Jane", LastName: "Doe", UserType: "EMPLOYEE",
	})
	require.NoError(t, err)
	return u
}

var desk = ClientInfo{IPAddress: "10.0.0.1", UserAgent: "Firefox"}

func TestSignupRulesAndDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "jane")
	assert.Equal(t, RoleEmployee, u.Role)
	assert.Equal(t, UserActive, u.Status)
	assert.NotEqual(t, "Passw0rd!", u.PasswordHash)

	_, err := f.svc.Signup(ctx, SignupRequest{Username: "jane", Email: "other@example.com", Password: "Passw0rd!"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
	_, err = f.svc.Signup(ctx, SignupRequest{Username: "john", Email: "jane@example.com", Password: "Passw0rd!"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	admin, err := f.svc.Signup(ctx, SignupRequest{Username: "mallory", Email: "m@example.com", Password: "Passw0rd!", UserType: "admin"})
	require.NoError(t, err)
	assert.Equal(t, RoleEmployee, admin.Role, "admin cannot be self-assigned")

	pro, err := f.svc.Signup(ctx, SignupRequest{Username: "drsmith", Email: "s@example.com", Password: "Passw0rd!", UserType: "oh_professional"})
	require.NoError(t, err)
	assert.Equal(t, RoleOHProfessional, pro.Role)
}

func TestSigninIssuesSessionAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "jane")

	res, err := f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!"}, desk)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	sessions, _ := f.repo.ListSessions(ctx, u.ID)
	require.Len(t, sessions, 1)
	assert.Equal(t, f.now.Add(7*24*time.Hour), sessions[0].ExpiresAt)
	assert.NotEqual(t, res.RefreshToken, sessions[0].RefreshTokenHash, "refresh token stored hashed")

	p, err := f.svc.Authenticate(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.UserID)
	assert.Equal(t, sessions[0].ID, p.SessionID)

	require.NoError(t, f.svc.Logout(ctx, p, desk))
	_, err = f.svc.Authenticate(ctx, res.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	assert.Contains(t, f.audit.actions(), audit.ActionLoginSuccess)
	assert.Contains(t, f.audit.actions(), audit.ActionLogout)
}

func TestSigninFailuresAndThrottle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "jane")

	_, err := f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "wrong"}, desk)
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = f.svc.Signin(ctx, SigninRequest{Username: "ghost", Password: "wrong"}, desk)
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "wrong"}, desk)
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!"}, desk)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Contains(t, f.audit.actions(), audit.ActionLoginFailure)

	delete(f.throttle.failures, "jane")
	_, err = f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!"}, desk)
	require.NoError(t, err)
}

func TestSigninRejectsInactiveUser(t *testing.T) {
	f := newFixture(t)
	u := f.signup(t, "jane")
	require.NoError(t, f.repo.update(u.ID, func(u *User) { u.Status = UserInactive }))

	_, err := f.svc.Signin(context.Background(), SigninRequest{Username: "jane", Password: "Passw0rd!"}, desk)
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestSuspiciousLoginDetection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "jane")

	_, err := f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!"}, desk)
	require.NoError(t, err)
	assert.NotContains(t, f.audit.actions(), audit.ActionSuspiciousLoginIP, "first login is not suspicious")

	_, err = f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!"}, desk)
	require.NoError(t, err)
	assert.NotContains(t, f.audit.actions(), audit.ActionSuspiciousLoginIP)

	_, err = f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!"}, ClientInfo{IPAddress: "203.0.113.9", UserAgent: "Firefox"})
	require.NoError(t, err)
	assert.Contains(t, f.audit.actions(), audit.ActionSuspiciousLoginIP)
	assert.NotContains(t, f.audit.actions(), audit.ActionSuspiciousLoginUserAgent)

	_, err = f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!"}, ClientInfo{IPAddress: "10.0.0.1", UserAgent: "curl"})
	require.NoError(t, err)
	assert.Contains(t, f.audit.actions(), audit.ActionSuspiciousLoginUserAgent)
}

func TestRefreshRotatesAndExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "jane")

	first, err := f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!"}, desk)
	require.NoError(t, err)

	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken, "old token is single use")

	f.now = f.now.Add(8 * 24 * time.Hour)
	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshTokenExpired)
	assert.Empty(t, f.repo.sessions, "expired session deleted")
	assert.Contains(t, f.audit.actions(), audit.ActionTokenRefresh)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "jane")
	_, err := f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!"}, desk)
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(ctx, "nobody@example.com"))
	assert.Empty(t, f.mailer.token)

	require.NoError(t, f.svc.ForgotPassword(ctx, "jane@example.com"))
	require.NotEmpty(t, f.mailer.token)

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, f.mailer.token, "weak"), ErrPasswordPolicy)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "bogus", "N3wPassw0rd!"), ErrInvalidResetToken)

	require.NoError(t, f.svc.ResetPassword(ctx, f.mailer.token, "N3wPassw0rd!"))
	stored, _ := f.repo.GetUserByID(ctx, u.ID)
	assert.Nil(t, stored.PasswordResetHash)
	assert.True(t, CheckPassword(stored.PasswordHash, "N3wPassw0rd!"))
	assert.Empty(t, f.repo.sessions, "all sessions revoked")

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, f.mailer.token, "N3wPassw0rd!"), ErrInvalidResetToken)
}

func TestPasswordResetTokenExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "jane")
	require.NoError(t, f.svc.ForgotPassword(ctx, "jane@example.com"))

	f.now = f.now.Add(25 * time.Hour)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, f.mailer.token, "N3wPassw0rd!"), ErrResetTokenExpired)
}

func TestTwoFactorCodeCannotBeReplayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "jane")
	p := Principal{UserID: u.ID}

	setup, err := f.svc.Setup2FA(ctx, p)
	require.NoError(t, err)
	code, err := TOTPCode(setup.Secret, f.now)
	require.NoError(t, err)
	require.NoError(t, f.svc.Enable2FA(ctx, p, code))

	cases := []struct {
		name    string
		advance time.Duration
		fresh   bool
		wantErr error
	}{
		{name: "same code same step", wantErr: ErrInvalidTwoFactorCode},
		{name: "same code within skew window", advance: 20 * time.Second, wantErr: ErrInvalidTwoFactorCode},
		{name: "fresh code next step", advance: 30 * time.Second, fresh: true},
		{name: "fresh code reused", wantErr: ErrInvalidTwoFactorCode},
	}
	for _, tc := range cases {
		f.now = f.now.Add(tc.advance)
		if tc.fresh {
			code, err = TOTPCode(setup.Secret, f.now)
			require.NoError(t, err)
		}
		_, err := f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!", Code: code}, desk)
		if tc.wantErr != nil {
			assert.ErrorIs(t, err, tc.wantErr, tc.name)
		} else {
			assert.NoError(t, err, tc.name)
		}
	}
}

func TestTwoFactorLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "jane")
	p := Principal{UserID: u.ID}

	assert.ErrorIs(t, f.svc.Enable2FA(ctx, p, "123456"), ErrTwoFactorNotSetUp)

	setup, err := f.svc.Setup2FA(ctx, p)
	require.NoError(t, err)
	assert.Contains(t, setup.QRCodeURL, "otpauth://totp/OH-EHR:jane@example.com")

	assert.ErrorIs(t, f.svc.Enable2FA(ctx, p, ""), ErrTwoFactorCodeRequired)
	assert.ErrorIs(t, f.svc.Enable2FA(ctx, p, "000000"), ErrInvalidTwoFactorCode)

	code, err := TOTPCode(setup.Secret, f.now)
	require.NoError(t, err)
	require.NoError(t, f.svc.Enable2FA(ctx, p, code))

	_, err = f.svc.Setup2FA(ctx, p)
	assert.ErrorIs(t, err, ErrTwoFactorEnabled)

	f.now = f.now.Add(30 * time.Second)
	_, err = f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!"}, desk)
	assert.ErrorIs(t, err, ErrTwoFactorRequired)
	code, err = TOTPCode(setup.Secret, f.now)
	require.NoError(t, err)
	res, err := f.svc.Signin(ctx, SigninRequest{Username: "jane", Password: "Passw0rd!", Code: code}, desk)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)

	f.now = f.now.Add(30 * time.Second)
	code, err = TOTPCode(setup.Secret, f.now)
	require.NoError(t, err)
	require.NoError(t, f.svc.Disable2FA(ctx, p, code))
	stored, _ := f.repo.GetUserByID(ctx, u.ID)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Nil(t, stored.TwoFactorSecret)
}
