package http

// Message holds what requests and responses share.
type Message struct {
	Version Version
	Headers Headers
	Body    Body

	// Storage carries values attached by middleware (parsed content,
	// session, auth payload).
	Storage map[string]any
}

// Value returns a stored value.
func (m *Message) Value(key string) (any, bool) {
	v, ok := m.Storage[key]
	return v, ok
}

// SetValue stores a value.
func (m *Message) SetValue(key string, v any) {
	if m.Storage == nil {
		m.Storage = make(map[string]any)
	}
	m.Storage[key] = v
}

// ContentType returns the Content-Type header.
func (m *Message) ContentType() string {
	return m.Headers.Get(HeaderContentType)
}

// keepAlive applies HTTP/1.x persistence rules to the Connection header.
func (m *Message) keepAlive() bool {
	if m.Headers.HasToken(HeaderConnection, "close") {
		return false
	}
	if m.Version.AtLeast(1, 1) {
		return true
	}
	return m.Headers.HasToken(HeaderConnection, "keep-alive")
}
