package employees

import (
	"regexp"
	"strings"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/civil"
)

// PhonePattern accepts UK and international numbers with common separators.
var PhonePattern = regexp.MustCompile(`^[+]?[0-9\s\-\(\)]{7,15}$`)

// ValidContactInformation reports whether the optional email and phone are well formed.
// Blank values are allowed.
func ValidContactInformation(email, phone string) bool {
	email, phone = strings.TrimSpace(email), strings.TrimSpace(phone)
	if email != "" && !auth.EmailPattern.MatchString(email) {
		return false
	}
	if phone != "" && !PhonePattern.MatchString(phone) {
		return false
	}
	return true
}

// ServiceYears is the number of whole years between start and today.
func ServiceYears(start civil.Date, today civil.Date) int {
	return start.YearsUntil(today)
}
