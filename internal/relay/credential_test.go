package relay

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/eneverre/eneverre/internal/config"
)

func TestProvisionDisabled(t *testing.T) {
	cred, err := Provision(config.RelayConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred != nil {
		t.Error("Expected no credential when relay host is empty")
	}
}

func TestProvisionEnabled(t *testing.T) {
	cred, err := Provision(config.RelayConfig{Host: "relay.example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred == nil {
		t.Fatal("Expected a credential")
	}

	if len(cred.Username()) != UsernameLength {
		t.Errorf("Expected username length %d, got %d", UsernameLength, len(cred.Username()))
	}
	if len(cred.Password()) != PasswordLength {
		t.Errorf("Expected password length %d, got %d", PasswordLength, len(cred.Password()))
	}
	for _, c := range cred.Username() {
		if !strings.ContainsRune(usernameAlphabet, c) {
			t.Errorf("Username contains %q outside the alphabet", c)
		}
	}
	for _, c := range cred.Password() {
		if !strings.ContainsRune(passwordAlphabet, c) {
			t.Errorf("Password contains %q outside the alphabet", c)
		}
	}
}

func TestProvisionIsRandom(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		cred, err := Provision(config.RelayConfig{Host: "relay"})
		if err != nil {
			t.Fatal(err)
		}
		seen[cred.Username()+":"+cred.Password()] = true
	}
	if len(seen) < 19 {
		t.Errorf("Expected distinct credentials, got %d unique of 20", len(seen))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy unavailable")
}

func TestGenerateRandomnessFailure(t *testing.T) {
	if _, err := Generate(failingReader{}); err == nil {
		t.Error("Expected error when the randomness source fails")
	}
}

func TestCredentialMatches(t *testing.T) {
	cred := NewCredential("AbCdEfGh", "s3cr-t_.")

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{"exact", "AbCdEfGh", "s3cr-t_.", true},
		{"wrong password", "AbCdEfGh", "s3cr-t_,", false},
		{"wrong username", "AbCdEfGX", "s3cr-t_.", false},
		{"case differs", "abcdefgh", "s3cr-t_.", false},
		{"prefix", "AbCd", "s3cr", false},
		{"empty username", "", "s3cr-t_.", false},
		{"empty password", "AbCdEfGh", "", false},
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cred.Matches(tt.username, tt.password); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.username, tt.password, got, tt.want)
			}
		})
	}
}

func TestNilCredentialNeverMatches(t *testing.T) {
	var cred *Credential
	if cred.Matches("a", "b") {
		t.Error("nil credential must not match")
	}
}

func TestCredentialRedacted(t *testing.T) {
	cred := NewCredential("userNAME", "passWORD")

	if s := fmt.Sprintf("%v %s", cred, cred); strings.Contains(s, "userNAME") || strings.Contains(s, "passWORD") {
		t.Errorf("Formatted credential leaks secret: %s", s)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("provisioned", "credential", cred)
	if strings.Contains(buf.String(), "passWORD") || strings.Contains(buf.String(), "userNAME") {
		t.Errorf("Log output leaks secret: %s", buf.String())
	}
}
