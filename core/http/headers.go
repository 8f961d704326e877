package http

import "strings"

// Common header names
const (
	HeaderAccept           = "Accept"
	HeaderAuthorization    = "Authorization"
	HeaderConnection       = "Connection"
	HeaderContentLength    = "Content-Length"
	HeaderContentType      = "Content-Type"
	HeaderCookie           = "Cookie"
	HeaderHost             = "Host"
	HeaderSetCookie        = "Set-Cookie"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderUpgrade          = "Upgrade"
	HeaderWWWAuthenticate  = "WWW-Authenticate"
	HeaderAllow            = "Allow"
)

type field struct {
	name  string
	value string
}

// Headers maps case-insensitive field names to values. Repeated fields are
// not modeled: the last Set wins. Fields keep the casing of their last Set
// and are serialized in first-insertion order.
type Headers struct {
	fields []field
}

// NewHeaders builds Headers from name/value pairs.
func NewHeaders(pairs ...string) Headers {
	var h Headers
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func (h *Headers) index(name string) int {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			return i
		}
	}
	return -1
}

// Get returns the value of name, or "".
func (h *Headers) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the value of name and whether it is present.
func (h *Headers) Lookup(name string) (string, bool) {
	if i := h.index(name); i >= 0 {
		return h.fields[i].value, true
	}
	return "", false
}

// Has reports whether name is present.
func (h *Headers) Has(name string) bool {
	return h.index(name) >= 0
}

// Set stores value under name, replacing any previous value.
func (h *Headers) Set(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i] = field{name, value}
		return
	}
	h.fields = append(h.fields, field{name, value})
}

// Del removes name.
func (h *Headers) Del(name string) {
	if i := h.index(name); i >= 0 {
		h.fields = append(h.fields[:i], h.fields[i+1:]...)
	}
}

// Len returns the number of fields.
func (h *Headers) Len() int {
	return len(h.fields)
}

// Each calls fn for every field in order until fn returns false.
func (h *Headers) Each(fn func(name, value string) bool) {
	for _, f := range h.fields {
		if !fn(f.name, f.value) {
			return
		}
	}
}

// Clone returns an independent copy.
func (h *Headers) Clone() Headers {
	return Headers{fields: append([]field(nil), h.fields...)}
}

// HasToken reports whether the comma-separated list in name contains token,
// compared case-insensitively.
func (h *Headers) HasToken(name, token string) bool {
	v, ok := h.Lookup(name)
	if !ok {
		return false
	}
	for part := range strings.SplitSeq(v, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
