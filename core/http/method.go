package http

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Method is an HTTP request method.
type Method string

// Standard methods
const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodConnect Method = "CONNECT"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
)

// ParseMethod validates a request-line method token. Methods are case
// sensitive; any valid token is accepted.
func ParseMethod(s string) (Method, error) {
	if s == "" || !httpguts.ValidHeaderFieldName(s) {
		return "", fmt.Errorf("%w: method %q", ErrInvalidMethod, s)
	}
	return Method(s), nil
}

func (m Method) String() string {
	return string(m)
}

// Version is an HTTP protocol version.
type Version struct {
	Major int
	Minor int
}

// Supported versions
var (
	Version10 = Version{1, 0}
	Version11 = Version{1, 1}
)

// ParseVersion parses "HTTP/x.y". Only 1.x is accepted.
func ParseVersion(s string) (Version, error) {
	rest, ok := strings.CutPrefix(s, "HTTP/")
	if !ok || len(rest) != 3 || rest[1] != '.' {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	major, minor := rest[0], rest[2]
	if major < '0' || major > '9' || minor < '0' || minor > '9' {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	v := Version{int(major - '0'), int(minor - '0')}
	if v.Major != 1 {
		return Version{}, fmt.Errorf("%w: %q", ErrVersionNotSupported, s)
	}
	return v, nil
}

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// AtLeast reports whether v >= major.minor.
func (v Version) AtLeast(major, minor int) bool {
	return v.Major > major || v.Major == major && v.Minor >= minor
}
