package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type stubService struct {
	signupErr error
	signinRes *LoginResult
	signinErr error
	gotClient ClientInfo
	refreshFn func(string) (*LoginResult, error)
	resetErr  error
	loggedOut bool
}

func (s *stubService) Signup(context.Context, SignupRequest) (*User, error) {
	return &User{ID: "u1"}, s.signupErr
}
func (s *stubService) Signin(_ context.Context, _ SigninRequest, c ClientInfo) (*LoginResult, error) {
	s.gotClient = c
	return s.signinRes, s.signinErr
}
func (s *stubService) Refresh(_ context.Context, token string) (*LoginResult, error) {
	return s.refreshFn(token)
}
func (s *stubService) Logout(context.Context, Principal, ClientInfo) error {
	s.loggedOut = true
	return nil
}
func (s *stubService) ForgotPassword(context.Context, string) error { return nil }
func (s *stubService) ResetPassword(context.Context, string, string) error {
	return s.resetErr
}
func (s *stubService) Setup2FA(context.Context, Principal) (*TwoFactorSetup, error) {
	return &TwoFactorSetup{Secret: "S", QRCodeURL: "otpauth://totp/x"}, nil
}
func (s *stubService) Enable2FA(context.Context, Principal, string) error  { return ErrInvalidTwoFactorCode }
func (s *stubService) Disable2FA(context.Context, Principal, string) error { return nil }
func (s *stubService) GetUser(context.Context, string) (*User, error) {
	return &User{ID: "u1", Username: "jane"}, nil
}

func newTestRouter(svc authService) http.Handler {
	h := NewHandler(svc, nil)
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		h.PublicRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					ctx := WithPrincipal(req.Context(), Principal{UserID: "u1", SessionID: "s1"})
					next.ServeHTTP(w, req.WithContext(ctx))
				})
			})
			h.SessionRoutes(r)
		})
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSignupHandler(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc)

	rec := do(t, router, http.MethodPost, "/api/auth/signup", `{"username":"jane","email":"jane@example.com","password":"Passw0rd!","firstName":"Jane","lastName":"Doe"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/api/auth/signup", `{"username":"ja","email":"bad","password":"weak","firstName":"","lastName":"Doe"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	for _, field := range []string{"username", "email", "password", "firstName"} {
		if _, ok := body.Errors[field]; !ok {
			t.Errorf("expected field error for %s, got %v", field, body.Errors)
		}
	}

	svc.signupErr = ErrUsernameTaken
	rec = do(t, router, http.MethodPost, "/api/auth/signup", `{"username":"jane","email":"jane@example.com","password":"Passw0rd!","firstName":"Jane","lastName":"Doe"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Username is already taken") {
		t.Fatalf("expected duplicate username 400, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSigninTwoFactorChallenge(t *testing.T) {
	router := newTestRouter(&stubService{signinErr: ErrTwoFactorRequired})

	rec := do(t, router, http.MethodPost, "/api/auth/signin", `{"username":"jane","password":"Passw0rd!"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["two_factor_required"] != true {
		t.Fatalf("expected two_factor_required=true, got %v", body)
	}
	if _, ok := body["twoFactorRequired"]; ok {
		t.Fatalf("unexpected camelCase challenge key in %v", body)
	}
}

func TestSigninHandler(t *testing.T) {
	svc := &stubService{signinRes: &LoginResult{
		AccessToken: "access", RefreshToken: "refresh", ExpiresAt: time.Now(),
		User: &User{ID: "u1", Username: "jane", Email: "jane@example.com", Role: RoleManager},
	}}
	router := newTestRouter(svc)

	rec := do(t, router, http.MethodPost, "/api/auth/signin", `{"username":"jane","password":"Passw0rd!"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp JwtResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.AccessToken != "access" || len(resp.Roles) != 1 || resp.Roles[0] != RoleManager {
		t.Fatalf("unexpected response %+v", resp)
	}
	if svc.gotClient.IPAddress != "192.0.2.10" || svc.gotClient.UserAgent != "test-agent" {
		t.Fatalf("unexpected client info %+v", svc.gotClient)
	}


	svc.signinErr = ErrTooManyAttempts
	rec = do(t, router, http.MethodPost, "/api/auth/signin", `{"username":"jane","password":"x"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestRefreshHandlerExpired(t *testing.T) {
	svc := &stubService{refreshFn: func(string) (*LoginResult, error) { return nil, ErrRefreshTokenExpired }}
	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/auth/refresh", `{"refreshToken":"abc"}`)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "make a new signin request") {
		t.Fatalf("expected expired refresh 401, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionHandlers(t *testing.T) {
	svc := &stubService{resetErr: ErrResetTokenExpired}
	router := newTestRouter(svc)

	rec := do(t, router, http.MethodPost, "/api/auth/logout", ``)
	if rec.Code != http.StatusOK || !svc.loggedOut {
		t.Fatalf("expected logout, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/api/2fa/enable", `{"code":"000000"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad 2fa code, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/api/2fa/setup", ``)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "qrCodeUrl") {
		t.Fatalf("expected setup payload, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/api/password/reset", `{"token":"t","newPassword":"N3wPassw0rd!"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "expired") {
		t.Fatalf("expected expired reset token 400, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/api/password/forgot", `{"email":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid email 400, got %d", rec.Code)
	}
}
