package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/AfshinJalili/libris/libs/apperr"
)

const (
	minNameLen     = 2
	maxNameLen     = 100
	minPasswordLen = 8
	maxPasswordLen = 100
	maxBioLen      = 500
	specialChars   = "!@#$%^&*(),.?\":{}|<>_-+=[]\\;'`~"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Policy holds the deployment-specific rules; everything else is fixed.
type Policy struct {
	AllowedDomains []string
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (p Policy) ValidateSignup(name, email, password string) []apperr.FieldError {
	var errs []apperr.FieldError
	if msg := nameProblem(name); msg != "" {
		errs = append(errs, apperr.FieldError{Field: "name", Message: msg})
	}
	if msg := p.emailProblem(email); msg != "" {
		errs = append(errs, apperr.FieldError{Field: "email", Message: msg})
	}
	if msg := PasswordProblem(password); msg != "" {
		errs = append(errs, apperr.FieldError{Field: "password", Message: msg})
	}
	return errs
}

func (p Policy) emailProblem(email string) string {
	email = NormalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return "Invalid email address"
	}
	domain := email[strings.LastIndex(email, "@")+1:]
	for _, allowed := range p.AllowedDomains {
		if domain == allowed {
			return ""
		}
	}
	return fmt.Sprintf("Email domain not allowed. Allowed domains: %s", strings.Join(p.AllowedDomains, ", "))
}

// PasswordProblem returns the first rule the password breaks, or "".
func PasswordProblem(password string) string {
	if len(password) < minPasswordLen {
		return "Password must be at least 8 characters"
	}
	if len(password) > maxPasswordLen {
		return "Password must be at most 100 characters"
	}

	var upper, lower, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}
	if !upper {
		return "Password must contain at least one uppercase letter"
	}
	if !lower {
		return "Password must contain at least one lowercase letter"
	}
	if !special {
		return "Password must contain at least one special character"
	}
	return ""
}

func nameProblem(name string) string {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < minNameLen {
		return "Name must be at least 2 characters"
	}
	if n > maxNameLen {
		return "Name must be at most 100 characters"
	}
	return ""
}

// ValidateProfile checks only the fields present in the update.
func ValidateProfile(name, bio *string) []apperr.FieldError {
	var errs []apperr.FieldError
	if name != nil {
		if msg := nameProblem(*name); msg != "" {
			errs = append(errs, apperr.FieldError{Field: "name", Message: msg})
		}
	}
	if bio != nil && utf8.RuneCountInString(strings.TrimSpace(*bio)) > maxBioLen {
		errs = append(errs, apperr.FieldError{Field: "bio", Message: "Bio must be at most 500 characters"})
	}
	return errs
}
