package auth

import (
	"regexp"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordPolicyDescription is returned whenever a password is rejected.
const PasswordPolicyDescription = "Password must be 8-20 characters long, contain at least one digit, one lowercase letter, one uppercase letter, and one special character."

// EmailPattern is the address format accepted for accounts and contact details.
var EmailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@([A-Za-z0-9.-]+\.[A-Za-z]{2,})$`)

const bcryptCost = 12

// ValidatePassword enforces the password policy.
func ValidatePassword(password string) error {
	n := len([]rune(password))
	if n < 8 || n > 20 {
		return ErrPasswordPolicy
	}
	var digit, lower, upper, special bool
	for _, r := range password {
		switch {
		case unicode.IsSpace(r):
			return ErrPasswordPolicy
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		default:
			special = true
		}
	}
	if !digit || !lower || !upper || !special {
		return ErrPasswordPolicy
	}
	return nil
}

// HashPassword bcrypts password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a candidate password.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
