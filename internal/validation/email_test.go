package validation

import (
	"strings"
	"testing"
)

func TestIsValidEmail(t *testing.T) {
	valid := []string{
		"user@example.com",
		"user@mail.example.com",
		"user+focus@example.com",
		"first.last@example.com",
		"user123@example456.io",
		"  padded@example.com  ",
	}
	for _, email := range valid {
		if !IsValidEmail(email) {
			t.Errorf("IsValidEmail(%q) = false, want true", email)
		}
	}

	invalid := map[string]string{
		"empty":           "",
		"no at":           "userexample.com",
		"only at":         "@",
		"no local part":   "@example.com",
		"no domain":       "user@",
		"no tld":          "user@localhost",
		"two ats":         "a@b@example.com",
		"inner space":     "user name@example.com",
		"double dot":      "user..name@example.com",
		"leading dot":     ".user@example.com",
		"trailing dot":    "user.@example.com",
		"hyphen at label": "user@-example.com",
		"too long":        strings.Repeat("a", 250) + "@example.com",
	}
	for name, email := range invalid {
		t.Run(name, func(t *testing.T) {
			if IsValidEmail(email) {
				t.Errorf("IsValidEmail(%q) = true, want false", email)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  User@Example.COM ", "user@example.com"},
		{"  Ada@Example.COM ", "ada@example.com"},
		{"already@lower.case", "already@lower.case"},
		{"\tTab@Example.org\n", "tab@example.org"},
	}
	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
