package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if want := "$argon2id$v=19$m=65536,t=3,p=1$"; !strings.HasPrefix(hash, want) {
		t.Errorf("HashPassword() = %q, want prefix %q", hash, want)
	}

	again, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if again == hash {
		t.Error("two hashes of one password share a salt")
	}

	tests := []struct {
		password string
		want     bool
	}{
		{"correct-horse-battery-staple", true},
		{"correct-horse-battery-stapl", false},
		{"", false},
	}
	for _, tt := range tests {
		got, err := VerifyPassword(tt.password, hash)
		if err != nil {
			t.Fatalf("VerifyPassword(%q) error = %v", tt.password, err)
		}
		if got != tt.want {
			t.Errorf("VerifyPassword(%q) = %v, want %v", tt.password, got, tt.want)
		}
	}
}

func TestHashPassword_TooShort(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("HashPassword(short) error = %v, want ErrPasswordTooShort", err)
	}
}

func TestVerifyPassword_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":           "",
		"plaintext":       "plaintext",
		"bcrypt":          "$bcrypt$v=19$m=65536,t=3,p=1$c2FsdA$a2V5",
		"missing key":     "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA",
		"other version":   "$argon2id$v=16$m=65536,t=3,p=1$c2FsdA$a2V5",
		"bad params":      "$argon2id$v=19$memory$c2FsdA$a2V5",
		"bad salt base64": "$argon2id$v=19$m=65536,t=3,p=1$!!!$a2V5",
		"empty key":       "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$",
	}
	for name, hash := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := VerifyPassword("password", hash); !errors.Is(err, ErrMalformedHash) {
				t.Errorf("VerifyPassword(%q) error = %v, want ErrMalformedHash", hash, err)
			}
		})
	}
}

func TestBurnPasswordCheck(t *testing.T) {
	burnPasswordCheck("anything")
	burnPasswordCheck("")
}
