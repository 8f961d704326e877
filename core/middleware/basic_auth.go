package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/searchktools/coroserve/core/http"
)

// UserKey is the storage key under which auth middlewares keep the
// authenticated principal.
const UserKey = "auth.user"

// Authenticator checks a username and password.
type Authenticator interface {
	Authenticate(username, password string) bool
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(username, password string) bool

func (f AuthenticatorFunc) Authenticate(username, password string) bool {
	return f(username, password)
}

// StaticCredentials maps usernames to plaintext passwords.
type StaticCredentials map[string]string

func (c StaticCredentials) Authenticate(username, password string) bool {
	want, ok := c[username]
	if !ok {
		// keep timing independent of whether the user exists
		want = password + "x"
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(password)) == 1 && ok
}

// BcryptCredentials maps usernames to bcrypt hashes.
type BcryptCredentials map[string][]byte

// HashPassword returns a bcrypt hash suitable for BcryptCredentials.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

func (c BcryptCredentials) Authenticate(username, password string) bool {
	hash, ok := c[username]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// BasicAuth guards next with HTTP Basic authentication. A missing,
// malformed or rejected Authorization header is answered with 401,
// carrying a WWW-Authenticate challenge when realm is not empty. The
// username is stored under UserKey.
func BasicAuth(realm string, auth Authenticator) Middleware {
	challenge := ""
	if realm != "" {
		challenge = "Basic realm=" + strconv.Quote(realm)
	}
	return Func(func(req *http.Request, next Handler) (*http.Response, error) {
		user, pass, ok := ParseBasicAuth(req.Headers.Get(http.HeaderAuthorization))
		if !ok || !auth.Authenticate(user, pass) {
			res := http.Text(http.StatusUnauthorized, http.StatusUnauthorized.Reason())
			if challenge != "" {
				res.Headers.Set(http.HeaderWWWAuthenticate, challenge)
			}
			return res, nil
		}
		req.SetValue(UserKey, user)
		return next(req)
	})
}

// BasicAuthClient adds credentials to outgoing requests that carry none.
func BasicAuthClient(username, password string) Middleware {
	value := BasicAuthorization(username, password)
	return Func(func(req *http.Request, next Handler) (*http.Response, error) {
		if !req.Headers.Has(http.HeaderAuthorization) {
			req.Headers.Set(http.HeaderAuthorization, value)
		}
		return next(req)
	})
}

// BasicAuthorization formats an Authorization header value.
func BasicAuthorization(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// ParseBasicAuth decodes an Authorization header value. The scheme is
// matched case-insensitively.
func ParseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	return username, password, ok
}
