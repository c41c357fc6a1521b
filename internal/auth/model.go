package auth

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Role is the portal role carried in the access token.
type Role string

const (
	RoleEmployee       Role = "employee"
	RoleOHProfessional Role = "oh_professional"
	RoleManager        Role = "manager"
	RoleAdmin          Role = "admin"
)

// Roles lists every role in display order.
var Roles = []Role{RoleEmployee, RoleOHProfessional, RoleManager, RoleAdmin}

// ParseRole accepts any case plus the legacy ROLE_ prefix.
func ParseRole(raw string) (Role, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.TrimPrefix(v, "role_")
	if v == "professional" {
		v = string(RoleOHProfessional)
	}
	r := Role(v)
	if slices.Contains(Roles, r) {
		return r, true
	}
	return "", false
}

// UserStatus gates sign-in.
type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

// User is an account row.
type User struct {
	ID                   string     `json:"id"`
	Username             string     `json:"username"`
	Email                string     `json:"email"`
	PasswordHash         string     `json:"-"`
	FirstName            string     `json:"firstName"`
	LastName             string     `json:"lastName"`
	Role                 Role       `json:"role"`
	Status               UserStatus `json:"status"`
	TwoFactorSecret      *string    `json:"-"`
	TwoFactorEnabled     bool       `json:"twoFactorEnabled"`
	EmailNotifications   bool       `json:"emailNotifications"`
	PasswordResetHash    *string    `json:"-"`
	PasswordResetExpires *time.Time `json:"-"`
	LastLoginAt          *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Session is a persisted login. The access token's jti is the session id.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	RefreshTokenHash string    `json:"-"`
	ExpiresAt        time.Time `json:"expiresAt"`
	IPAddress        string    `json:"ipAddress"`
	UserAgent        string    `json:"userAgent"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Principal is the authenticated caller.
type Principal struct {
	UserID    string
	Username  string
	Email     string
	FirstName string
	LastName  string
	Role      Role
	SessionID string
}

// HasRole reports whether the principal holds any of roles.
func (p Principal) HasRole(roles ...Role) bool {
	return slices.Contains(roles, p.Role)
}

type principalKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	UserType  string `json:"userType"`
}

// Validate returns field errors, or nil.
func (r SignupRequest) Validate() map[string]string {
	errs := map[string]string{}
	if n := len(strings.TrimSpace(r.Username)); n < 3 || n > 20 {
		errs["username"] = "Username must be between 3 and 20 characters"
	}
	if !EmailPattern.MatchString(strings.TrimSpace(r.Email)) || len(r.Email) > 50 {
		errs["email"] = "Invalid email format"
	}
	if err := ValidatePassword(r.Password); err != nil {
		errs["password"] = PasswordPolicyDescription
	}
	if strings.TrimSpace(r.FirstName) == "" {
		errs["firstName"] = "First name is required"
	}
	if strings.TrimSpace(r.LastName) == "" {
		errs["lastName"] = "Last name is required"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// SigninRequest is the body of POST /api/auth/signin.
type SigninRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

// LoginResult is what Signin and Refresh hand back.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         *User
}

// JwtResponse is the JSON body the front-end persists as its auth state.
type JwtResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresAt    time.Time `json:"expiresAt"`
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Roles        []Role    `json:"roles"`
}

// NewJwtResponse flattens a LoginResult.
func NewJwtResponse(res *LoginResult) JwtResponse {
	return JwtResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    res.ExpiresAt,
		ID:           res.User.ID,
		Username:     res.User.Username,
		Email:        res.User.Email,
		FirstName:    res.User.FirstName,
		LastName:     res.User.LastName,
		Roles:        []Role{res.User.Role},
	}
}

// TwoFactorSetup is returned by POST /api/2fa/setup.
type TwoFactorSetup struct {
	Secret    string `json:"secret"`
	QRCodeURL string `json:"qrCodeUrl"`
}
