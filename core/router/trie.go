// Package router matches request paths against a segment trie with literal
// and parameter edges, and runs per-node hooks around the matched handler.
//
// Routes are registered before serving starts; the trie is read-only while
// requests are being routed.
package router

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/searchktools/coroserve/core/http"
)

// Responder produces a response for a request.
type Responder interface {
	Respond(req *http.Request) (*http.Response, error)
}

// HandlerFunc adapts a function to Responder.
type HandlerFunc func(req *http.Request) (*http.Response, error)

// Respond implements Responder.
func (f HandlerFunc) Respond(req *http.Request) (*http.Response, error) {
	return f(req)
}

// PreFunc runs before the router descends past its node. A non-nil
// response ends routing with that response.
type PreFunc func(req *http.Request) (*http.Response, error)

// PostFunc runs after everything below its node produced a response.
type PostFunc func(req *http.Request, res *http.Response) (*http.Response, error)

// RecoverFunc converts an error raised below its node into a response, or
// returns an error to pass it to the parent.
type RecoverFunc func(req *http.Request, err error) (*http.Response, error)

type paramEdge struct {
	name  string
	child *node
}

type node struct {
	literals map[string]*node
	param    *paramEdge
	handlers map[http.Method]Responder
	pre      []PreFunc
	post     []PostFunc
	recover  RecoverFunc
}

// Router is a trie of path segments.
type Router struct {
	root *node
}

// New creates an empty router.
func New() *Router {
	return &Router{root: &node{}}
}

// DefaultRecover converts errors implementing http.ResponseRepresentable
// and passes everything else on.
func DefaultRecover(_ *http.Request, err error) (*http.Response, error) {
	if res, ok := http.ResponseFor(err); ok {
		return res, nil
	}
	return nil, err
}

// Handle registers a responder for method at path. Path segments starting
// with ':' capture a parameter. Registering the same method and path twice,
// or two parameter names at one position, panics.
func (r *Router) Handle(method http.Method, path string, h Responder) {
	n := r.root.walk(path)
	if n.handlers == nil {
		n.handlers = make(map[http.Method]Responder)
	}
	if _, exists := n.handlers[method]; exists {
		panic(fmt.Sprintf("router: duplicate route %s %s", method, path))
	}
	n.handlers[method] = h
}

// HandleFunc registers a handler function.
func (r *Router) HandleFunc(method http.Method, path string, fn HandlerFunc) {
	r.Handle(method, path, fn)
}

func (r *Router) Get(path string, fn HandlerFunc)     { r.Handle(http.MethodGet, path, fn) }
func (r *Router) Post(path string, fn HandlerFunc)    { r.Handle(http.MethodPost, path, fn) }
func (r *Router) Put(path string, fn HandlerFunc)     { r.Handle(http.MethodPut, path, fn) }
func (r *Router) Patch(path string, fn HandlerFunc)   { r.Handle(http.MethodPatch, path, fn) }
func (r *Router) Delete(path string, fn HandlerFunc)  { r.Handle(http.MethodDelete, path, fn) }
func (r *Router) Head(path string, fn HandlerFunc)    { r.Handle(http.MethodHead, path, fn) }
func (r *Router) Options(path string, fn HandlerFunc) { r.Handle(http.MethodOptions, path, fn) }

// Before adds a pre-process hook at path. Hooks at one node run in the
// order they were added.
func (r *Router) Before(path string, fn PreFunc) {
	n := r.root.walk(path)
	n.pre = append(n.pre, fn)
}

// After adds a post-process hook at path.
func (r *Router) After(path string, fn PostFunc) {
	n := r.root.walk(path)
	n.post = append(n.post, fn)
}

// Recover sets the recover hook at path, replacing the previous one.
func (r *Router) Recover(path string, fn RecoverFunc) {
	r.root.walk(path).recover = fn
}

// Mount grafts sub at path. The node at path takes over sub's root: its
// routes, hooks and recover. Parent hooks keep wrapping the mounted ones.
// sub must not be used on its own afterwards.
func (r *Router) Mount(path string, sub *Router) {
	n := r.root.walk(path)
	n.merge(sub.root, path)
}

// Respond routes req. Path parameters are decoded into req.URI.Params.
// Errors no recover hook handled go through DefaultRecover, which maps
// representable errors (routing, parsing, negotiation, auth) to responses.
func (r *Router) Respond(req *http.Request) (*http.Response, error) {
	res, err := r.root.respond(req, splitPath(req.URI.Path))
	if err != nil {
		return DefaultRecover(req, err)
	}
	return res, nil
}

// walk returns the node for a route pattern, creating it as needed.
func (n *node) walk(path string) *node {
	if !strings.HasPrefix(path, "/") {
		panic(fmt.Sprintf("router: path %q must begin with '/'", path))
	}
	for _, seg := range splitPath(path) {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			if name == "" {
				panic(fmt.Sprintf("router: unnamed parameter in %q", path))
			}
			if n.param == nil {
				n.param = &paramEdge{name: name, child: &node{}}
			} else if n.param.name != name {
				panic(fmt.Sprintf("router: parameter :%s in %q conflicts with :%s", name, path, n.param.name))
			}
			n = n.param.child
			continue
		}
		lit, err := url.PathUnescape(seg)
		if err != nil {
			panic(fmt.Sprintf("router: segment %q in %q: %v", seg, path, err))
		}
		if n.literals == nil {
			n.literals = make(map[string]*node)
		}
		child, ok := n.literals[lit]
		if !ok {
			child = &node{}
			n.literals[lit] = child
		}
		n = child
	}
	return n
}

// merge folds other into n.
func (n *node) merge(other *node, path string) {
	for method, h := range other.handlers {
		if n.handlers == nil {
			n.handlers = make(map[http.Method]Responder)
		}
		if _, exists := n.handlers[method]; exists {
			panic(fmt.Sprintf("router: mount at %s: duplicate route %s", path, method))
		}
		n.handlers[method] = h
	}
	// the mounted router's hooks nest inside the ones already here
	n.pre = append(n.pre, other.pre...)
	n.post = append(slices.Clone(other.post), n.post...)
	n.recover = chainRecover(other.recover, n.recover)
	for seg, child := range other.literals {
		if n.literals == nil {
			n.literals = make(map[string]*node)
		}
		if existing, ok := n.literals[seg]; ok {
			existing.merge(child, path+"/"+seg)
			continue
		}
		n.literals[seg] = child
	}
	if other.param != nil {
		switch {
		case n.param == nil:
			n.param = other.param
		case n.param.name != other.param.name:
			panic(fmt.Sprintf("router: mount at %s: parameter :%s conflicts with :%s", path, other.param.name, n.param.name))
		default:
			n.param.child.merge(other.param.child, path+"/:"+other.param.name)
		}
	}
}

// chainRecover runs inner first and hands anything it passes on to outer.
func chainRecover(inner, outer RecoverFunc) RecoverFunc {
	switch {
	case inner == nil:
		return outer
	case outer == nil:
		return inner
	}
	return func(req *http.Request, err error) (*http.Response, error) {
		res, err := inner(req, err)
		if err != nil {
			return outer(req, err)
		}
		return res, nil
	}
}

// respond runs this node's hooks around the rest of the match. The recover
// hook sees errors from its own hooks and from every node below.
func (n *node) respond(req *http.Request, segs []string) (*http.Response, error) {
	res, err := n.process(req, segs)
	if err != nil && n.recover != nil {
		return n.recover(req, err)
	}
	return res, err
}

func (n *node) process(req *http.Request, segs []string) (*http.Response, error) {
	for _, pre := range n.pre {
		res, err := pre(req)
		if err != nil || res != nil {
			return res, err
		}
	}

	var (
		res *http.Response
		err error
	)
	if len(segs) == 0 {
		res, err = n.handle(req)
	} else {
		child := n.match(req, segs[0])
		if child == nil {
			return nil, http.ErrNotFound
		}
		res, err = child.respond(req, segs[1:])
	}
	if err != nil {
		return nil, err
	}

	for _, post := range n.post {
		if res, err = post(req, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// match follows the literal edge for seg, else the parameter edge. A
// literal match is final even if the route below it fails.
func (n *node) match(req *http.Request, seg string) *node {
	decoded, err := url.PathUnescape(seg)
	if err != nil {
		decoded = seg
	}
	if child, ok := n.literals[decoded]; ok {
		return child
	}
	if n.param != nil && decoded != "" {
		req.SetParam(n.param.name, decoded)
		return n.param.child
	}
	return nil
}

func (n *node) handle(req *http.Request) (*http.Response, error) {
	if len(n.handlers) == 0 {
		return nil, http.ErrNotFound
	}
	h, ok := n.handlers[req.Method]
	if !ok && req.Method == http.MethodHead {
		h, ok = n.handlers[http.MethodGet]
	}
	if !ok {
		return nil, http.ErrMethodNotAllowed.WithHeader(http.HeaderAllow, n.allow())
	}
	res, err := h.Respond(req)
	if err == nil && res == nil {
		return nil, fmt.Errorf("router: %s %s: handler returned no response", req.Method, req.URI.Path)
	}
	return res, err
}

func (n *node) allow() string {
	methods := make([]string, 0, len(n.handlers)+1)
	for m := range n.handlers {
		methods = append(methods, string(m))
	}
	if _, ok := n.handlers[http.MethodGet]; ok {
		if _, ok := n.handlers[http.MethodHead]; !ok {
			methods = append(methods, string(http.MethodHead))
		}
	}
	slices.Sort(methods)
	return strings.Join(methods, ", ")
}

// splitPath splits an escaped path into segments. A trailing slash is
// ignored.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
