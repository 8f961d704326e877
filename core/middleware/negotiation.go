package middleware

import (
	"fmt"

	"github.com/searchktools/coroserve/core/content"
	"github.com/searchktools/coroserve/core/coro"
	"github.com/searchktools/coroserve/core/http"
)

// Mode selects which side of an exchange a middleware serves.
type Mode int

const (
	ServerMode Mode = iota
	ClientMode
)

// ContentNegotiation converts between bodies and structured content.
//
// In server mode the request body is decoded by its Content-Type before
// next runs (415 if no codec matches), and content attached to the response
// with content.Set is encoded with the codec the Accept header prefers
// (406 if none). In client mode outgoing content is encoded, Accept is
// advertised, and the response body is decoded when a codec matches.
func ContentNegotiation(reg *content.Registry, mode Mode, timeout coro.Deadline) Middleware {
	if reg == nil {
		reg = content.DefaultRegistry()
	}
	n := &negotiator{reg: reg, deadline: timeout}
	if mode == ClientMode {
		return Func(n.client)
	}
	return Func(n.server)
}

type negotiator struct {
	reg      *content.Registry
	deadline coro.Deadline
}

func (n *negotiator) server(req *http.Request, next Handler) (*http.Response, error) {
	if req.Body.Len() != 0 || req.Headers.Has(http.HeaderContentType) {
		c, err := n.reg.ForContentType(req.ContentType())
		if err != nil {
			return nil, http.ErrUnsupportedMediaType.Wrap(err)
		}
		var v any
		if req.Body.Len() != 0 {
			if err := content.Decode(&req.Message, c, &v, n.deadline); err != nil {
				return nil, http.ErrBadRequest.Wrap(fmt.Errorf("decode %s: %w", c.MediaType().Essence(), err))
			}
		}
		content.Set(&req.Message, v)
		req.SetValue(content.CodecKey, c)
	}

	res, err := next(req)
	if err != nil || res == nil {
		return res, err
	}
	v, ok := content.Value(&res.Message)
	if !ok || res.Body.Len() != 0 {
		return res, nil
	}
	c, ok := n.reg.Negotiate(req.Headers.Get(http.HeaderAccept))
	if !ok {
		return nil, http.ErrNotAcceptable
	}
	if err := content.Encode(&res.Message, c, v); err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.MediaType().Essence(), err)
	}
	return res, nil
}

func (n *negotiator) client(req *http.Request, next Handler) (*http.Response, error) {
	if v, ok := content.Value(&req.Message); ok && req.Body.Len() == 0 {
		var c content.Codec
		if ct := req.ContentType(); ct != "" {
			var err error
			if c, err = n.reg.ForContentType(ct); err != nil {
				return nil, err
			}
		} else {
			types := n.reg.MediaTypes()
			if len(types) == 0 {
				return nil, content.ErrUnsupportedCodec
			}
			c, _ = n.reg.Lookup(types[0])
		}
		if err := content.Encode(&req.Message, c, v); err != nil {
			return nil, err
		}
	}
	if !req.Headers.Has(http.HeaderAccept) {
		req.Headers.Set(http.HeaderAccept, acceptList(n.reg.MediaTypes()))
	}

	res, err := next(req)
	if err != nil || res == nil || res.Body.Len() == 0 {
		return res, err
	}
	c, cerr := n.reg.ForContentType(res.ContentType())
	if cerr != nil {
		// left as raw bytes
		return res, nil
	}
	var v any
	if err := content.Decode(&res.Message, c, &v, n.deadline); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.MediaType().Essence(), err)
	}
	content.Set(&res.Message, v)
	return res, nil
}

func acceptList(types []content.MediaType) string {
	s := ""
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		s += t.Essence()
	}
	return s
}
