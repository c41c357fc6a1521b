package auth

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type authService interface {
	Signup(ctx context.Context, req SignupRequest) (*User, error)
	Signin(ctx context.Context, req SigninRequest, client ClientInfo) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*LoginResult, error)
	Logout(ctx context.Context, p Principal, client ClientInfo) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	Setup2FA(ctx context.Context, p Principal) (*TwoFactorSetup, error)
	Enable2FA(ctx context.Context, p Principal, code string) error
	Disable2FA(ctx context.Context, p Principal, code string) error
	GetUser(ctx context.Context, id string) (*User, error)
}

// Handler serves /api/auth, /api/password, /api/2fa and /api/test.
type Handler struct {
	svc    authService
	logger *logging.Logger
}

func NewHandler(svc authService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// PublicRoutes mounts the unauthenticated endpoints under /api.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/auth/signup", h.Signup)
	r.Post("/auth/signin", h.Signin)
	r.Post("/auth/refresh", h.Refresh)
	r.Post("/password/forgot", h.ForgotPassword)
	r.Post("/password/reset", h.ResetPassword)
}

// SessionRoutes mounts endpoints that need an authenticated principal.
func (h *Handler) SessionRoutes(r chi.Router) {
	r.Post("/auth/logout", h.Logout)
	r.Get("/auth/me", h.Me)
	r.Post("/2fa/setup", h.Setup2FA)
	r.Post("/2fa/enable", h.Enable2FA)
	r.Post("/2fa/disable", h.Disable2FA)
}

// ClientInfoFromRequest reads the caller's IP (after TrustedRealIP) and user agent.
func ClientInfoFromRequest(r *http.Request) ClientInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ClientInfo{IPAddress: ip, UserAgent: r.UserAgent()}
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if fields := req.Validate(); fields != nil {
		respond.ValidationFailed(w, fields)
		return
	}
	if _, err := h.svc.Signup(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "User registered successfully!"})
}

func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		respond.ValidationFailed(w, map[string]string{"username": "Username and password are required"})
		return
	}
	res, err := h.svc.Signin(r.Context(), req, ClientInfoFromRequest(r))
	if errors.Is(err, ErrTwoFactorRequired) {
		respond.JSON(w, http.StatusUnauthorized, map[string]any{
			"message":           "Two-factor authentication code required",
			"two_factor_required": true,
		})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, NewJwtResponse(res))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, NewJwtResponse(res))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.svc.Logout(r.Context(), p, ClientInfoFromRequest(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "Log out successful!"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	user, err := h.svc.GetUser(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, user)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !EmailPattern.MatchString(req.Email) {
		respond.ValidationFailed(w, map[string]string{"email": "Invalid email format"})
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "If the email is registered, a password reset link has been sent."})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "Password has been reset successfully."})
}

func (h *Handler) Setup2FA(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	setup, err := h.svc.Setup2FA(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, setup)
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) Enable2FA(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := PrincipalFromContext(r.Context())
	if err := h.svc.Enable2FA(r.Context(), p, req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "2FA enabled successfully."})
}

func (h *Handler) Disable2FA(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := PrincipalFromContext(r.Context())
	if err := h.svc.Disable2FA(r.Context(), p, req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "2FA disabled successfully."})
}

// RoleProbe answers the /api/test/* endpoints after the router's role check.
func RoleProbe(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

// StatusFor maps auth errors to HTTP statuses and client-facing messages.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUsernameTaken):
		return http.StatusBadRequest, "Error: Username is already taken!"
	case errors.Is(err, ErrEmailTaken):
		return http.StatusBadRequest, "Error: Email is already in use!"
	case errors.Is(err, ErrPasswordPolicy):
		return http.StatusBadRequest, PasswordPolicyDescription
	case errors.Is(err, ErrInvalidResetToken):
		return http.StatusBadRequest, "Invalid password reset token."
	case errors.Is(err, ErrResetTokenExpired):
		return http.StatusBadRequest, "Password reset token has expired."
	case errors.Is(err, ErrTwoFactorCodeRequired):
		return http.StatusBadRequest, "Error: Code is required."
	case errors.Is(err, ErrInvalidTwoFactorCode):
		return http.StatusUnauthorized, "Invalid 2FA code."
	case errors.Is(err, ErrTwoFactorNotSetUp):
		return http.StatusBadRequest, "2FA has not been set up."
	case errors.Is(err, ErrTwoFactorEnabled):
		return http.StatusConflict, "2FA is already enabled."
	case errors.Is(err, ErrTwoFactorNotEnabled):
		return http.StatusBadRequest, "2FA is not enabled."
	case errors.Is(err, ErrBadCredentials):
		return http.StatusUnauthorized, "Bad credentials"
	case errors.Is(err, ErrAccountDisabled):
		return http.StatusForbidden, "Account is disabled"
	case errors.Is(err, ErrTooManyAttempts):
		return http.StatusTooManyRequests, "Too many failed login attempts. Please try again later."
	case errors.Is(err, ErrInvalidRefreshToken):
		return http.StatusUnauthorized, "Refresh token is not in database!"
	case errors.Is(err, ErrRefreshTokenExpired):
		return http.StatusUnauthorized, "Refresh token was expired. Please make a new signin request"
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrSessionRevoked):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "Access denied"
	default:
		return http.StatusInternalServerError, "An error occurred"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("auth request failed", "path", r.URL.Path, "error", err)
	}
	respond.Error(w, status, msg)
}
