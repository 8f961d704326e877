package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/searchktools/coroserve/core/http"
)

// ClaimsKey is the storage key under which BearerAuth keeps the verified
// claims.
const ClaimsKey = "auth.claims"

var errSigningMethod = errors.New("unexpected signing method")

// Claims are the token claims BearerAuth accepts. The subject becomes the
// user stored under UserKey.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for subject, valid for ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// BearerAuth guards next with HS256 bearer tokens. Requests without a
// valid, unexpired token with a subject get 401 with a Bearer challenge.
func BearerAuth(realm string, secret []byte) Middleware {
	challenge := "Bearer"
	if realm != "" {
		challenge += " realm=" + strconv.Quote(realm)
	}
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errSigningMethod
		}
		return secret, nil
	}

	return Func(func(req *http.Request, next Handler) (*http.Response, error) {
		raw, ok := bearerToken(req.Headers.Get(http.HeaderAuthorization))
		if ok {
			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, keyFunc,
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err == nil && token.Valid && claims.Subject != "" {
				req.SetValue(UserKey, claims.Subject)
				req.SetValue(ClaimsKey, claims)
				return next(req)
			}
		}
		res := http.Text(http.StatusUnauthorized, http.StatusUnauthorized.Reason())
		res.Headers.Set(http.HeaderWWWAuthenticate, challenge)
		return res, nil
	})
}

// BearerAuthClient adds a bearer token to outgoing requests that carry no
// Authorization header.
func BearerAuthClient(token string) Middleware {
	value := "Bearer " + token
	return Func(func(req *http.Request, next Handler) (*http.Response, error) {
		if !req.Headers.Has(http.HeaderAuthorization) {
			req.Headers.Set(http.HeaderAuthorization, value)
		}
		return next(req)
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
