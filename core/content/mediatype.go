// Package content negotiates media types and converts message bodies to and
// from structured values through pluggable codecs.
package content

import (
	"fmt"
	"mime"
	"slices"
	"strconv"
	"strings"
)

// MediaType is a parsed media type such as "application/json".
type MediaType struct {
	Type    string
	Subtype string
	Params  map[string]string
}

// Common media types
var (
	JSONType     = MediaType{Type: "application", Subtype: "json"}
	YAMLType     = MediaType{Type: "application", Subtype: "yaml"}
	FormType     = MediaType{Type: "application", Subtype: "x-www-form-urlencoded"}
	TextType     = MediaType{Type: "text", Subtype: "plain", Params: map[string]string{"charset": "utf-8"}}
	ProtobufType = MediaType{Type: "application", Subtype: "x-protobuf"}
	GobType      = MediaType{Type: "application", Subtype: "x-gob"}
	AnyType      = MediaType{Type: "*", Subtype: "*"}
)

// ParseMediaType parses a Content-Type style value.
func ParseMediaType(s string) (MediaType, error) {
	full, params, err := mime.ParseMediaType(s)
	if err != nil {
		return MediaType{}, fmt.Errorf("content: media type %q: %w", s, err)
	}
	typ, sub, ok := strings.Cut(full, "/")
	if !ok || typ == "" || sub == "" {
		return MediaType{}, fmt.Errorf("content: media type %q: missing subtype", s)
	}
	if len(params) == 0 {
		params = nil
	}
	return MediaType{Type: typ, Subtype: sub, Params: params}, nil
}

// MustParse is ParseMediaType that panics on error.
func MustParse(s string) MediaType {
	m, err := ParseMediaType(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Essence returns "type/subtype" without parameters.
func (m MediaType) Essence() string {
	return m.Type + "/" + m.Subtype
}

func (m MediaType) String() string {
	if len(m.Params) == 0 {
		return m.Essence()
	}
	return mime.FormatMediaType(m.Essence(), m.Params)
}

// Matches reports whether m and other name the same type, treating "*" on
// either side as a wildcard. Parameters are ignored.
func (m MediaType) Matches(other MediaType) bool {
	return wildMatch(m.Type, other.Type) && wildMatch(m.Subtype, other.Subtype)
}

func wildMatch(a, b string) bool {
	return a == "*" || b == "*" || strings.EqualFold(a, b)
}

func (m MediaType) specificity() int {
	switch {
	case m.Type == "*":
		return 0
	case m.Subtype == "*":
		return 1
	}
	return 2 + len(m.Params)
}

// AcceptRange is one entry of an Accept header.
type AcceptRange struct {
	MediaType
	Q float64
}

// ParseAccept parses an Accept header, most preferred first. Entries with
// q=0 are kept so they can exclude a type. An empty header accepts
// everything.
func ParseAccept(header string) []AcceptRange {
	if strings.TrimSpace(header) == "" {
		return []AcceptRange{{MediaType: AnyType, Q: 1}}
	}
	var ranges []AcceptRange
	for part := range strings.SplitSeq(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "*" {
			part = "*/*"
		}
		m, err := ParseMediaType(part)
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := m.Params["q"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
				q = f
			}
			delete(m.Params, "q")
			if len(m.Params) == 0 {
				m.Params = nil
			}
		}
		ranges = append(ranges, AcceptRange{MediaType: m, Q: q})
	}
	slices.SortStableFunc(ranges, func(a, b AcceptRange) int {
		if a.Q != b.Q {
			if a.Q > b.Q {
				return -1
			}
			return 1
		}
		return b.specificity() - a.specificity()
	})
	return ranges
}

// Negotiate picks the offer the Accept header prefers. Offers earlier in
// the list win ties.
func Negotiate(accept string, offers []MediaType) (MediaType, bool) {
	ranges := ParseAccept(accept)
	best, bestQ, bestSpec := -1, 0.0, -1
	for i, offer := range offers {
		q, spec := quality(ranges, offer)
		if q <= 0 {
			continue
		}
		if best < 0 || q > bestQ || (q == bestQ && spec > bestSpec) {
			best, bestQ, bestSpec = i, q, spec
		}
	}
	if best < 0 {
		return MediaType{}, false
	}
	return offers[best], true
}

// quality returns the q value of the most specific range matching offer.
func quality(ranges []AcceptRange, offer MediaType) (float64, int) {
	q, spec := 0.0, -1
	for _, r := range ranges {
		if !r.Matches(offer) {
			continue
		}
		if s := r.specificity(); s > spec {
			q, spec = r.Q, s
		}
	}
	return q, spec
}
