package http

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// UserInfo is the user-info component of an absolute URI.
type UserInfo struct {
	Username    string
	Password    string
	HasPassword bool
}

// URI is a parsed request target.
//
// Path and Query are kept escaped as received. Params holds the decoded
// query parameters; the router adds path parameters to it.
type URI struct {
	Scheme   string
	User     *UserInfo
	Host     string
	Port     int
	Path     string
	Query    string
	Fragment string
	Params   map[string]string
}

// ParseURI parses a request target in origin form ("/a?b"), absolute form
// ("http://h:1/a"), authority form ("h:1") or asterisk form ("*").
func ParseURI(s string) (URI, error) {
	var u URI
	if s == "" {
		return u, fmt.Errorf("%w: empty request target", ErrInvalidStartLine)
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c <= ' ' || c == 0x7f {
			return u, fmt.Errorf("%w: request target %q", ErrInvalidStartLine, s)
		}
	}
	if s == "*" {
		u.Path = "*"
		return u, nil
	}

	rest := s
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		u.Fragment = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		u.Query = rest[i+1:]
		rest = rest[:i]
	}

	switch {
	case strings.HasPrefix(rest, "/"):
		u.Path = rest
	case strings.Contains(rest, "://"):
		scheme, after, _ := strings.Cut(rest, "://")
		u.Scheme = strings.ToLower(scheme)
		authority := after
		u.Path = "/"
		if i := strings.IndexByte(after, '/'); i >= 0 {
			authority, u.Path = after[:i], after[i:]
		}
		if err := u.parseAuthority(authority); err != nil {
			return u, err
		}
	default:
		if err := u.parseAuthority(rest); err != nil {
			return u, err
		}
	}

	params, err := parseQuery(u.Query)
	if err != nil {
		return u, err
	}
	u.Params = params
	return u, nil
}

func (u *URI) parseAuthority(a string) error {
	if i := strings.LastIndexByte(a, '@'); i >= 0 {
		info := &UserInfo{}
		name, pass, hasPass := strings.Cut(a[:i], ":")
		var err error
		if info.Username, err = url.PathUnescape(name); err != nil {
			return fmt.Errorf("%w: user info: %v", ErrInvalidStartLine, err)
		}
		if hasPass {
			if info.Password, err = url.PathUnescape(pass); err != nil {
				return fmt.Errorf("%w: user info: %v", ErrInvalidStartLine, err)
			}
			info.HasPassword = true
		}
		u.User = info
		a = a[i+1:]
	}
	host := a
	if i := strings.LastIndexByte(a, ':'); i >= 0 && !strings.HasSuffix(a, "]") {
		port, err := strconv.Atoi(a[i+1:])
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("%w: port in %q", ErrInvalidStartLine, a)
		}
		host, u.Port = a[:i], port
	}
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidStartLine)
	}
	u.Host = host
	return nil
}

// parseQuery splits a raw query into decoded key/value pairs. Each pair is
// split at its first '='; later duplicates overwrite earlier ones.
func parseQuery(q string) (map[string]string, error) {
	params := make(map[string]string)
	if q == "" {
		return params, nil
	}
	for pair := range strings.SplitSeq(q, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("%w: query: %v", ErrInvalidStartLine, err)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("%w: query: %v", ErrInvalidStartLine, err)
		}
		params[key] = val
	}
	return params, nil
}

// RequestTarget formats the origin-form target (path, query).
func (u *URI) RequestTarget() string {
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.Query == "" {
		return path
	}
	return path + "?" + u.Query
}

// Authority returns "host" or "host:port".
func (u *URI) Authority() string {
	if u.Port == 0 {
		return u.Host
	}
	return u.Host + ":" + strconv.Itoa(u.Port)
}

// String formats u back into its textual form.
func (u *URI) String() string {
	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	if u.User != nil {
		b.WriteString(url.PathEscape(u.User.Username))
		if u.User.HasPassword {
			b.WriteByte(':')
			b.WriteString(url.PathEscape(u.User.Password))
		}
		b.WriteByte('@')
	}
	b.WriteString(u.Authority())
	if u.Path != "" || u.Query != "" {
		b.WriteString(u.RequestTarget())
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}
