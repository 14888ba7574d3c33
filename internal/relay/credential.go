// Package relay brokers access to the streaming relay server: it provisions
// the shared credential, composes relay-backed stream addresses and proxies
// playback requests to the relay's recording archive.
package relay

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/eneverre/eneverre/internal/config"
)

const (
	// UsernameLength is the length of a provisioned username
	UsernameLength = 8
	// PasswordLength is the length of a provisioned password
	PasswordLength = 8

	letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits  = "0123456789"

	// The punctuation characters are unreserved in RFC 3986, so credentials
	// embed into URL userinfo without escaping.
	usernameAlphabet = letters
	passwordAlphabet = letters + digits + "-_.~"
)

// Credential is the username/password pair gating the relay link.
// It is immutable and never leaves process memory.
type Credential struct {
	username string
	password string
}

// NewCredential wraps a known username and password
func NewCredential(username, password string) *Credential {
	return &Credential{username: username, password: password}
}

// Provision generates the relay credential for this process.
// It returns nil, nil when no relay server is configured.
func Provision(cfg config.RelayConfig) (*Credential, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	return Generate(rand.Reader)
}

// Generate draws a fresh credential from the given randomness source
func Generate(src io.Reader) (*Credential, error) {
	username, err := randomString(src, usernameAlphabet, UsernameLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate relay username: %w", err)
	}
	password, err := randomString(src, passwordAlphabet, PasswordLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate relay password: %w", err)
	}
	return &Credential{username: username, password: password}, nil
}

// Username returns the provisioned username
func (c *Credential) Username() string {
	return c.username
}

// Password returns the provisioned password
func (c *Credential) Password() string {
	return c.password
}

// Matches compares a submitted pair against the credential.
// Both fields must be non-empty and match exactly.
func (c *Credential) Matches(username, password string) bool {
	if c == nil || username == "" || password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.username))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.password))
	return userOK&passOK == 1
}

// String keeps the secret out of formatted output
func (c *Credential) String() string {
	return "relay.Credential{redacted}"
}

// LogValue keeps the secret out of structured logs
func (c *Credential) LogValue() slog.Value {
	return slog.StringValue("redacted")
}

func randomString(src io.Reader, alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(src, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}
