package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrUnsupportedCodec = errors.New("content: unsupported codec")
	ErrUnsupportedValue = errors.New("content: unsupported value")
)

// Codec converts between a body and a structured value for one media type.
// Decode fills v, which is a pointer; a *any target receives the codec's
// natural representation.
type Codec interface {
	MediaType() MediaType
	Decode(r io.Reader, v any) error
	Encode(w io.Writer, v any) error
}

// Registry holds codecs in preference order.
type Registry struct {
	mu     sync.RWMutex
	codecs []Codec
}

// NewRegistry creates a registry with the given codecs.
func NewRegistry(codecs ...Codec) *Registry {
	return &Registry{codecs: codecs}
}

// DefaultRegistry returns JSON, YAML, form and text codecs.
func DefaultRegistry() *Registry {
	return NewRegistry(JSONCodec{}, YAMLCodec{}, FormCodec{}, TextCodec{})
}

// Register adds a codec, replacing one with the same media type.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.codecs {
		if existing.MediaType().Essence() == c.MediaType().Essence() {
			r.codecs[i] = c
			return
		}
	}
	r.codecs = append(r.codecs, c)
}

// Lookup returns the codec for a concrete media type.
func (r *Registry) Lookup(m MediaType) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.codecs {
		if c.MediaType().Matches(m) {
			return c, true
		}
	}
	return nil, false
}

// ForContentType parses a Content-Type value and looks up its codec.
func (r *Registry) ForContentType(contentType string) (Codec, error) {
	m, err := ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCodec, err)
	}
	c, ok := r.Lookup(m)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, m.Essence())
	}
	return c, nil
}

// Negotiate returns the codec the Accept header prefers.
func (r *Registry) Negotiate(accept string) (Codec, bool) {
	r.mu.RLock()
	offers := make([]MediaType, len(r.codecs))
	for i, c := range r.codecs {
		offers[i] = c.MediaType()
	}
	r.mu.RUnlock()

	m, ok := Negotiate(accept, offers)
	if !ok {
		return nil, false
	}
	return r.Lookup(m)
}

// MediaTypes lists the registered media types in preference order.
func (r *Registry) MediaTypes() []MediaType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MediaType, len(r.codecs))
	for i, c := range r.codecs {
		out[i] = c.MediaType()
	}
	return out
}

// JSONCodec implements application/json.
type JSONCodec struct{}

func (JSONCodec) MediaType() MediaType { return JSONType }

func (JSONCodec) Decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func (JSONCodec) Encode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
