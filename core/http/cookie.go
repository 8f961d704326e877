package http

import (
	"strconv"
	"strings"
	"time"
)

// Cookie is a name/value pair from a Cookie request header.
type Cookie struct {
	Name  string
	Value string
}

// ParseCookies splits a Cookie header value. Malformed pairs are skipped.
func ParseCookies(header string) []Cookie {
	var cookies []Cookie
	for part := range strings.SplitSeq(header, ";") {
		part = strings.TrimSpace(part)
		name, value, ok := strings.Cut(part, "=")
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, Cookie{Name: name, Value: strings.Trim(value, `"`)})
	}
	return cookies
}

// SameSite values for SetCookie.
type SameSite string

const (
	SameSiteDefault SameSite = ""
	SameSiteLax     SameSite = "Lax"
	SameSiteStrict  SameSite = "Strict"
	SameSiteNone    SameSite = "None"
)

// SetCookie is a cookie sent to the client in a Set-Cookie header.
type SetCookie struct {
	Name     string
	Value    string
	Expires  time.Time
	MaxAge   int // seconds; 0 omits, < 0 sends Max-Age=0
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite SameSite
}

// String formats c as a Set-Cookie header value.
func (c SetCookie) String() string {
	b := make([]byte, 0, 64)
	b = append(b, c.Name...)
	b = append(b, '=')
	b = append(b, c.Value...)
	if !c.Expires.IsZero() {
		b = append(b, "; Expires="...)
		b = c.Expires.UTC().AppendFormat(b, time.RFC1123)
		// RFC1123 prints UTC as "UTC"; cookies want "GMT"
		if n := len(b); n >= 3 && string(b[n-3:]) == "UTC" {
			b = append(b[:n-3], "GMT"...)
		}
	}
	switch {
	case c.MaxAge > 0:
		b = append(b, "; Max-Age="...)
		b = strconv.AppendInt(b, int64(c.MaxAge), 10)
	case c.MaxAge < 0:
		b = append(b, "; Max-Age=0"...)
	}
	if c.Domain != "" {
		b = append(b, "; Domain="...)
		b = append(b, c.Domain...)
	}
	if c.Path != "" {
		b = append(b, "; Path="...)
		b = append(b, c.Path...)
	}
	if c.Secure {
		b = append(b, "; Secure"...)
	}
	if c.HTTPOnly {
		b = append(b, "; HttpOnly"...)
	}
	if c.SameSite != SameSiteDefault {
		b = append(b, "; SameSite="...)
		b = append(b, string(c.SameSite)...)
	}
	return string(b)
}

// ParseSetCookie parses a Set-Cookie header value. Unknown attributes are
// ignored.
func ParseSetCookie(s string) (SetCookie, bool) {
	parts := strings.Split(s, ";")
	name, value, ok := strings.Cut(strings.TrimSpace(parts[0]), "=")
	if !ok || name == "" {
		return SetCookie{}, false
	}
	c := SetCookie{Name: name, Value: strings.Trim(value, `"`)}
	for _, attr := range parts[1:] {
		key, val, _ := strings.Cut(strings.TrimSpace(attr), "=")
		switch strings.ToLower(key) {
		case "expires":
			if t, err := time.Parse(time.RFC1123, val); err == nil {
				c.Expires = t
			}
		case "max-age":
			if n, err := strconv.Atoi(val); err == nil {
				if n <= 0 {
					n = -1
				}
				c.MaxAge = n
			}
		case "domain":
			c.Domain = val
		case "path":
			c.Path = val
		case "secure":
			c.Secure = true
		case "httponly":
			c.HTTPOnly = true
		case "samesite":
			c.SameSite = SameSite(val)
		}
	}
	return c, true
}
