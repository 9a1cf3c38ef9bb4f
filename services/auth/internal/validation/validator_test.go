package validation

import (
	"strings"
	"testing"
)

var policy = Policy{AllowedDomains: []string{"gmail.com", "outlook.com"}}

func TestValidateSignup(t *testing.T) {
	cases := []struct {
		name     string
		user     string
		email    string
		password string
		field    string
	}{
		{"valid", "Ann", "ann@gmail.com", "Passw0rd!", ""},
		{"uppercase email ok", "Ann", "ANN@Gmail.com", "Passw0rd!", ""},
		{"short name", "A", "ann@gmail.com", "Passw0rd!", "name"},
		{"unknown domain", "Ann", "x@unknown-domain.com", "Passw0rd!", "email"},
		{"malformed email", "Ann", "ann-at-gmail", "Passw0rd!", "email"},
		{"short password", "Ann", "ann@gmail.com", "Pa1!", "password"},
		{"no upper", "Ann", "ann@gmail.com", "passw0rd!", "password"},
		{"no lower", "Ann", "ann@gmail.com", "PASSW0RD!", "password"},
		{"no special", "Ann", "ann@gmail.com", "Passw0rdx", "password"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := policy.ValidateSignup(tc.user, tc.email, tc.password)
			if tc.field == "" {
				if len(errs) > 0 {
					t.Fatalf("expected valid, got %+v", errs)
				}
				return
			}
			if len(errs) != 1 || errs[0].Field != tc.field {
				t.Fatalf("expected one %s error, got %+v", tc.field, errs)
			}
		})
	}
}

func TestUnderscoreCountsAsSpecial(t *testing.T) {
	if msg := PasswordProblem("Password_1"); msg != "" {
		t.Fatalf("expected underscore to satisfy special rule, got %q", msg)
	}
}

func TestValidateProfile(t *testing.T) {
	short := "A"
	long := strings.Repeat("b", 501)
	ok := "Reader"

	if errs := ValidateProfile(nil, nil); len(errs) != 0 {
		t.Fatalf("empty update must be valid")
	}
	if errs := ValidateProfile(&ok, nil); len(errs) != 0 {
		t.Fatalf("expected valid name, got %+v", errs)
	}
	if errs := ValidateProfile(&short, &long); len(errs) != 2 {
		t.Fatalf("expected name and bio errors, got %+v", errs)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ann@Gmail.COM "); got != "ann@gmail.com" {
		t.Fatalf("unexpected %q", got)
	}
}
