package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const realm = "eneverre"

// Basic verifies the gateway's own API credential. The configured password
// may be plain text or a bcrypt hash.
type Basic struct {
	username string
	password string
	hashed   bool
	onDeny   http.HandlerFunc
	logger   *slog.Logger
}

// NewBasic creates a checker for the configured credential
func NewBasic(username, password string) *Basic {
	return &Basic{
		username: username,
		password: password,
		hashed:   isBcryptHash(password),
		logger:   slog.Default().With("component", "gateway-auth"),
	}
}

// OnDeny replaces the default 401 response body writer
func (b *Basic) OnDeny(fn http.HandlerFunc) {
	b.onDeny = fn
}

// Check reports whether the pair matches the configured credential
func (b *Basic) Check(username, password string) bool {
	if username == "" || password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(b.username)) == 1

	var passOK bool
	if b.hashed {
		passOK = bcrypt.CompareHashAndPassword([]byte(b.password), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(b.password)) == 1
	}
	return userOK && passOK
}

// Middleware rejects requests without a valid basic auth header
func (b *Basic) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !b.Check(user, pass) {
			b.logger.Debug("Rejected API request", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
			if b.onDeny != nil {
				b.onDeny(w, r)
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isBcryptHash(s string) bool {
	if !strings.HasPrefix(s, "$2") {
		return false
	}
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}
