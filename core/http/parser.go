package http

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Default parser limits
const (
	DefaultMaxHeaderSize = 64 << 10
	DefaultMaxBodySize   = 32 << 20
)

// Limits bound what a parser accepts. Zero values select the defaults;
// a negative MaxBodySize disables the body limit.
type Limits struct {
	MaxHeaderSize int
	MaxBodySize   int64
}

func (l Limits) normalize() Limits {
	if l.MaxHeaderSize <= 0 {
		l.MaxHeaderSize = DefaultMaxHeaderSize
	}
	if l.MaxBodySize == 0 {
		l.MaxBodySize = DefaultMaxBodySize
	}
	return l
}

type parseState int

const (
	stateStart parseState = iota
	stateHeaders
	stateFixed
	stateChunkSize
	stateChunkData
	stateChunkCRLF
	stateTrailer
	stateUntilClose
)

var crlf = []byte("\r\n")

// parser is the feed-driven state machine shared by RequestParser and
// ResponseParser. It buffers partial input between feeds and reports
// complete messages through emit.
type parser struct {
	response bool
	limits   Limits

	buf   []byte
	state parseState
	err   error
	eof   bool

	// message in progress
	method      Method
	uri         URI
	version     Version
	status      Status
	reason      string
	headers     Headers
	cookies     []SetCookie
	headerBytes int
	contentLen  string
	remaining   int64
	body        []byte

	// responses only
	expectHead bool

	emit func(p *parser) error
}

func (p *parser) feed(data []byte) error {
	if p.err != nil {
		return p.err
	}
	if p.eof {
		return nil
	}
	if len(data) == 0 {
		p.eof = true
		p.err = p.finish()
		return p.err
	}
	p.buf = append(p.buf, data...)
	if err := p.run(); err != nil {
		p.err = err
	}
	return p.err
}

// finish handles end of input.
func (p *parser) finish() error {
	if err := p.run(); err != nil {
		return err
	}
	switch {
	case p.state == stateUntilClose:
		return p.complete()
	case p.state == stateStart && len(bytes.TrimLeft(p.buf, "\r\n")) == 0:
		return nil
	}
	return ErrUnexpectedEOF
}

func (p *parser) run() error {
	for {
		progressed, err := p.step()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// line returns the next CRLF-terminated line and consumes it.
func (p *parser) line() ([]byte, bool) {
	i := bytes.Index(p.buf, crlf)
	if i < 0 {
		return nil, false
	}
	l := p.buf[:i]
	p.buf = p.buf[i+2:]
	return l, true
}

func (p *parser) step() (bool, error) {
	switch p.state {
	case stateStart:
		// tolerate empty lines before the start line
		for bytes.HasPrefix(p.buf, crlf) {
			p.buf = p.buf[2:]
		}
		l, ok := p.line()
		if !ok {
			if len(p.buf) > p.limits.MaxHeaderSize {
				return false, ErrHeaderTooLarge
			}
			return false, nil
		}
		if len(l) > p.limits.MaxHeaderSize {
			return false, ErrHeaderTooLarge
		}
		if err := p.startLine(l); err != nil {
			return false, err
		}
		p.headerBytes = len(l) + 2
		p.state = stateHeaders
		return true, nil

	case stateHeaders:
		l, ok := p.line()
		if !ok {
			if p.headerBytes+len(p.buf) > p.limits.MaxHeaderSize {
				return false, ErrHeaderTooLarge
			}
			return false, nil
		}
		p.headerBytes += len(l) + 2
		if p.headerBytes > p.limits.MaxHeaderSize {
			return false, ErrHeaderTooLarge
		}
		if len(l) == 0 {
			return true, p.framing()
		}
		return true, p.headerLine(l)

	case stateFixed:
		if p.remaining > 0 {
			if len(p.buf) == 0 {
				return false, nil
			}
			n := min(int64(len(p.buf)), p.remaining)
			p.body = append(p.body, p.buf[:n]...)
			p.buf = p.buf[n:]
			p.remaining -= n
		}
		if p.remaining > 0 {
			return false, nil
		}
		return true, p.complete()

	case stateChunkSize:
		l, ok := p.line()
		if !ok {
			if len(p.buf) > p.limits.MaxHeaderSize {
				return false, ErrInvalidChunkSize
			}
			return false, nil
		}
		size, err := parseChunkSize(l)
		if err != nil {
			return false, err
		}
		if size == 0 {
			p.state = stateTrailer
			p.headerBytes = 0
			return true, nil
		}
		if p.limits.MaxBodySize > 0 && int64(len(p.body))+size > p.limits.MaxBodySize {
			return false, ErrBodyTooLarge
		}
		p.remaining = size
		p.state = stateChunkData
		return true, nil

	case stateChunkData:
		if len(p.buf) == 0 {
			return false, nil
		}
		n := min(int64(len(p.buf)), p.remaining)
		p.body = append(p.body, p.buf[:n]...)
		p.buf = p.buf[n:]
		p.remaining -= n
		if p.remaining == 0 {
			p.state = stateChunkCRLF
		}
		return true, nil

	case stateChunkCRLF:
		if len(p.buf) < 2 {
			return false, nil
		}
		if p.buf[0] != '\r' || p.buf[1] != '\n' {
			return false, ErrInvalidChunk
		}
		p.buf = p.buf[2:]
		p.state = stateChunkSize
		return true, nil

	case stateTrailer:
		// trailer fields are read and dropped
		l, ok := p.line()
		if !ok {
			if p.headerBytes+len(p.buf) > p.limits.MaxHeaderSize {
				return false, ErrHeaderTooLarge
			}
			return false, nil
		}
		p.headerBytes += len(l) + 2
		if len(l) == 0 {
			return true, p.complete()
		}
		return true, nil

	case stateUntilClose:
		if len(p.buf) == 0 {
			return false, nil
		}
		if p.limits.MaxBodySize > 0 && int64(len(p.body)+len(p.buf)) > p.limits.MaxBodySize {
			return false, ErrBodyTooLarge
		}
		p.body = append(p.body, p.buf...)
		p.buf = p.buf[:0]
		return false, nil
	}
	return false, fmt.Errorf("http: parser in unknown state %d", p.state)
}

func (p *parser) startLine(l []byte) error {
	first, rest, ok1 := bytes.Cut(l, []byte{' '})
	second, third, ok2 := bytes.Cut(rest, []byte{' '})
	if p.response {
		return p.statusLine(l, first, second, third, ok1)
	}
	if !ok1 || !ok2 || len(first) == 0 || len(second) == 0 || bytes.IndexByte(third, ' ') >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidStartLine, l)
	}
	method, err := ParseMethod(string(first))
	if err != nil {
		return err
	}
	uri, err := ParseURI(string(second))
	if err != nil {
		return err
	}
	if uri.Path == "" && method != MethodConnect {
		return fmt.Errorf("%w: %s target %q", ErrInvalidStartLine, method, second)
	}
	version, err := ParseVersion(string(third))
	if err != nil {
		return err
	}
	p.method, p.uri, p.version = method, uri, version
	return nil
}

func (p *parser) statusLine(l, first, second, third []byte, ok bool) error {
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStartLine, l)
	}
	version, err := ParseVersion(string(first))
	if err != nil {
		return err
	}
	code, err := strconv.Atoi(string(second))
	if err != nil || len(second) != 3 || code < 100 {
		return fmt.Errorf("%w: status %q", ErrInvalidStartLine, second)
	}
	p.version, p.status, p.reason = version, Status(code), string(third)
	return nil
}

func (p *parser) headerLine(l []byte) error {
	if l[0] == ' ' || l[0] == '\t' {
		return fmt.Errorf("%w: folded line %q", ErrInvalidHeader, l)
	}
	name, value, ok := bytes.Cut(l, []byte{':'})
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidHeader, l)
	}
	n := string(name)
	if !httpguts.ValidHeaderFieldName(n) {
		return fmt.Errorf("%w: name %q", ErrInvalidHeader, n)
	}
	v := string(bytes.Trim(value, " \t"))
	if !httpguts.ValidHeaderFieldValue(v) {
		return fmt.Errorf("%w: value of %q", ErrInvalidHeader, n)
	}

	switch {
	case strings.EqualFold(n, HeaderContentLength):
		if p.contentLen != "" && p.contentLen != v {
			return fmt.Errorf("%w: conflicting values %q and %q", ErrInvalidContentLength, p.contentLen, v)
		}
		p.contentLen = v
	case p.response && strings.EqualFold(n, HeaderSetCookie):
		if c, ok := ParseSetCookie(v); ok {
			p.cookies = append(p.cookies, c)
		}
		return nil
	}
	p.headers.Set(n, v)
	return nil
}

// framing decides how the body is delimited once the header block ends.
func (p *parser) framing() error {
	if p.response && p.bodyless() {
		return p.complete()
	}

	if te, ok := p.headers.Lookup(HeaderTransferEncoding); ok {
		codings := strings.Split(te, ",")
		last := strings.TrimSpace(codings[len(codings)-1])
		if strings.EqualFold(last, "chunked") {
			// chunked is authoritative over Content-Length
			p.headers.Del(HeaderContentLength)
			p.state = stateChunkSize
			return nil
		}
		if !p.response {
			return fmt.Errorf("%w: %q", ErrUnsupportedTransferEncoding, te)
		}
		p.state = stateUntilClose
		return nil
	}

	if p.contentLen != "" {
		n, err := parseContentLength(p.contentLen)
		if err != nil {
			return err
		}
		if p.limits.MaxBodySize > 0 && n > p.limits.MaxBodySize {
			return ErrBodyTooLarge
		}
		p.remaining = n
		p.state = stateFixed
		return nil
	}

	if p.response {
		p.state = stateUntilClose
		return nil
	}
	return p.complete()
}

func (p *parser) bodyless() bool {
	if p.expectHead {
		return true
	}
	return !p.status.AllowsBody()
}

func (p *parser) complete() error {
	if err := p.emit(p); err != nil {
		return err
	}
	p.reset()
	return nil
}

func (p *parser) reset() {
	p.state = stateStart
	p.method, p.uri, p.version = "", URI{}, Version{}
	p.status, p.reason = 0, ""
	p.headers = Headers{}
	p.cookies = nil
	p.headerBytes = 0
	p.contentLen = ""
	p.remaining = 0
	p.body = nil
	if len(p.buf) == 0 {
		p.buf = p.buf[:0:0]
	}
}

func parseContentLength(s string) (int64, error) {
	if s == "" || len(s) > 18 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidContentLength, s)
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidContentLength, s)
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}

func parseChunkSize(l []byte) (int64, error) {
	// chunk extensions are ignored
	if i := bytes.IndexByte(l, ';'); i >= 0 {
		l = l[:i]
	}
	l = bytes.TrimRight(l, " \t")
	if len(l) == 0 || len(l) > 15 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChunkSize, l)
	}
	var n int64
	for _, c := range l {
		var d byte
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		default:
			return 0, fmt.Errorf("%w: %q", ErrInvalidChunkSize, l)
		}
		n = n<<4 | int64(d)
	}
	return n, nil
}

// RequestParser decodes requests from a byte stream fed in arbitrary
// pieces. Errors are sticky.
type RequestParser struct {
	p    parser
	done []*Request
}

// NewRequestParser creates a RequestParser.
func NewRequestParser(limits Limits) *RequestParser {
	rp := &RequestParser{}
	rp.p.limits = limits.normalize()
	rp.p.emit = rp.emit
	return rp
}

// Parse feeds data and returns the requests it completed. An empty data
// signals end of input; a partial message at that point is an error.
func (rp *RequestParser) Parse(data []byte) ([]*Request, error) {
	err := rp.p.feed(data)
	out := rp.done
	rp.done = nil
	return out, err
}

// Buffered returns the number of bytes received but not yet consumed.
func (rp *RequestParser) Buffered() int {
	return len(rp.p.buf)
}

func (rp *RequestParser) emit(p *parser) error {
	rp.done = append(rp.done, &Request{
		Method: p.method,
		URI:    p.uri,
		Message: Message{
			Version: p.version,
			Headers: p.headers,
			Body:    BufferOf(p.body),
		},
	})
	return nil
}

// ResponseParser decodes responses from a byte stream.
type ResponseParser struct {
	p    parser
	done []*Response
}

// NewResponseParser creates a ResponseParser.
func NewResponseParser(limits Limits) *ResponseParser {
	rp := &ResponseParser{}
	rp.p.response = true
	rp.p.limits = limits.normalize()
	rp.p.emit = rp.emit
	return rp
}

// ExpectHead tells the parser that the next response answers a HEAD
// request and so has no body.
func (rp *ResponseParser) ExpectHead(head bool) {
	rp.p.expectHead = head
}

// Parse feeds data and returns the responses it completed. An empty data
// signals end of input, which also ends a body delimited by connection
// close.
func (rp *ResponseParser) Parse(data []byte) ([]*Response, error) {
	err := rp.p.feed(data)
	out := rp.done
	rp.done = nil
	return out, err
}

func (rp *ResponseParser) emit(p *parser) error {
	res := &Response{
		Status:  p.status,
		Cookies: p.cookies,
		Message: Message{
			Version: p.version,
			Headers: p.headers,
			Body:    BufferOf(p.body),
		},
	}
	if p.reason != p.status.Reason() {
		res.Reason = p.reason
	}
	rp.done = append(rp.done, res)
	return nil
}
