package router

import (
	"errors"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/coroserve/core/http"
)

func text(s string) HandlerFunc {
	return func(*http.Request) (*http.Response, error) {
		return http.Text(http.StatusOK, s), nil
	}
}

func request(t *testing.T, method http.Method, target string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, target, http.Body{})
	require.NoError(t, err)
	return req
}

func body(t *testing.T, res *http.Response) string {
	t.Helper()
	require.NotNil(t, res)
	return string(res.Body.Bytes())
}

func TestRouterStaticRoutes(t *testing.T) {
	r := New()
	r.Get("/", text("root"))
	r.Get("/hello", text("hello"))
	r.Get("/hello/world", text("world"))

	tests := []struct {
		path   string
		want   string
		status http.Status
	}{
		{"/", "root", http.StatusOK},
		{"/hello", "hello", http.StatusOK},
		{"/hello/", "hello", http.StatusOK},
		{"/hello/world", "world", http.StatusOK},
		{"/notfound", "Not Found", http.StatusNotFound},
		{"/hello/world/deeper", "Not Found", http.StatusNotFound},
	}
	for _, tt := range tests {
		res, err := r.Respond(request(t, http.MethodGet, tt.path))
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.status, res.Status, tt.path)
		assert.Equal(t, tt.want, body(t, res), tt.path)
	}
}

func TestRouterLiteralBeatsParameter(t *testing.T) {
	r := New()
	r.Get("/users/:id", func(req *http.Request) (*http.Response, error) {
		id, _ := req.Param("id")
		return http.Text(http.StatusOK, "user "+id), nil
	})
	r.Get("/users/active", text("active"))

	res, err := r.Respond(request(t, http.MethodGet, "/users/active"))
	require.NoError(t, err)
	assert.Equal(t, "active", body(t, res))

	req := request(t, http.MethodGet, "/users/42")
	res, err = r.Respond(req)
	require.NoError(t, err)
	assert.Equal(t, "user 42", body(t, res))

	// parameters are percent-decoded
	res, err = r.Respond(request(t, http.MethodGet, "/users/a%20b"))
	require.NoError(t, err)
	assert.Equal(t, "user a b", body(t, res))
}

func TestRouterNoBacktrackFromLiteral(t *testing.T) {
	r := New()
	r.Get("/files/static/logo", text("logo"))
	r.Get("/files/:name/meta", text("meta"))

	res, err := r.Respond(request(t, http.MethodGet, "/files/static/meta"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.Status)

	res, err = r.Respond(request(t, http.MethodGet, "/files/other/meta"))
	require.NoError(t, err)
	assert.Equal(t, "meta", body(t, res))
}

func TestRouterMethodNotAllowed(t *testing.T) {
	r := New()
	r.Get("/items", text("list"))
	r.Post("/items", text("create"))

	res, err := r.Respond(request(t, http.MethodDelete, "/items"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, res.Status)
	assert.Equal(t, "GET, HEAD, POST", res.Headers.Get(http.HeaderAllow))

	res, err = r.Respond(request(t, http.MethodHead, "/items"))
	require.NoError(t, err)
	assert.Equal(t, "list", body(t, res))
}

func TestRouterTypedParameters(t *testing.T) {
	r := New()
	r.Get("/orders/:n", func(req *http.Request) (*http.Response, error) {
		n, err := req.ParamInt("n")
		if err != nil {
			return nil, err
		}
		return http.Text(http.StatusOK, "order "+strconv.Itoa(n)), nil
	})
	r.Get("/accounts/:id", func(req *http.Request) (*http.Response, error) {
		id, err := req.ParamUUID("id")
		if err != nil {
			return nil, err
		}
		return http.Text(http.StatusOK, id.String()), nil
	})

	res, err := r.Respond(request(t, http.MethodGet, "/orders/12"))
	require.NoError(t, err)
	assert.Equal(t, "order 12", body(t, res))

	res, err = r.Respond(request(t, http.MethodGet, "/orders/twelve"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.Status)

	id := uuid.New()
	res, err = r.Respond(request(t, http.MethodGet, "/accounts/"+id.String()))
	require.NoError(t, err)
	assert.Equal(t, id.String(), body(t, res))
}

func TestRouterHookOrder(t *testing.T) {
	var trace []string
	pre := func(name string) PreFunc {
		return func(*http.Request) (*http.Response, error) {
			trace = append(trace, "pre "+name)
			return nil, nil
		}
	}
	post := func(name string) PostFunc {
		return func(_ *http.Request, res *http.Response) (*http.Response, error) {
			trace = append(trace, "post "+name)
			return res, nil
		}
	}

	r := New()
	r.Before("/", pre("root"))
	r.After("/", post("root"))
	r.Before("/api", pre("api"))
	r.After("/api", post("api"))
	r.Get("/api/ping", func(*http.Request) (*http.Response, error) {
		trace = append(trace, "handler")
		return http.Text(http.StatusOK, "pong"), nil
	})

	_, err := r.Respond(request(t, http.MethodGet, "/api/ping"))
	require.NoError(t, err)
	assert.Equal(t, []string{"pre root", "pre api", "handler", "post api", "post root"}, trace)
}

func TestRouterPreShortCircuits(t *testing.T) {
	r := New()
	r.Before("/admin", func(req *http.Request) (*http.Response, error) {
		if req.Headers.Get("X-Admin") == "" {
			return nil, http.ErrForbidden
		}
		return nil, nil
	})
	r.Get("/admin/panel", text("panel"))

	res, err := r.Respond(request(t, http.MethodGet, "/admin/panel"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, res.Status)

	req := request(t, http.MethodGet, "/admin/panel")
	req.Headers.Set("X-Admin", "1")
	res, err = r.Respond(req)
	require.NoError(t, err)
	assert.Equal(t, "panel", body(t, res))
}

func TestRouterRecoverNesting(t *testing.T) {
	boom := errors.New("boom")
	r := New()
	r.Get("/a/b/fail", func(*http.Request) (*http.Response, error) { return nil, boom })
	r.Get("/a/other", func(*http.Request) (*http.Response, error) { return nil, boom })

	var seen []string
	r.Recover("/a/b", func(_ *http.Request, err error) (*http.Response, error) {
		seen = append(seen, "inner")
		return nil, err
	})
	r.Recover("/a", func(_ *http.Request, err error) (*http.Response, error) {
		seen = append(seen, "outer")
		if errors.Is(err, boom) {
			return http.Text(http.StatusAccepted, "recovered"), nil
		}
		return nil, err
	})

	res, err := r.Respond(request(t, http.MethodGet, "/a/b/fail"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", body(t, res))
	assert.Equal(t, []string{"inner", "outer"}, seen)

	// unrepresentable errors escape the root
	r2 := New()
	r2.Get("/x", func(*http.Request) (*http.Response, error) { return nil, boom })
	_, err = r2.Respond(request(t, http.MethodGet, "/x"))
	assert.ErrorIs(t, err, boom)
}

func TestRouterMount(t *testing.T) {
	var trace []string
	users := New()
	users.Before("/", func(*http.Request) (*http.Response, error) {
		trace = append(trace, "users pre")
		return nil, nil
	})
	users.Get("/", text("list"))
	users.Get("/:id", func(req *http.Request) (*http.Response, error) {
		org, _ := req.Param("org")
		id, _ := req.Param("id")
		return http.Text(http.StatusOK, org+"/"+id), nil
	})

	r := New()
	r.Before("/", func(*http.Request) (*http.Response, error) {
		trace = append(trace, "root pre")
		return nil, nil
	})
	r.Mount("/orgs/:org/users", users)

	res, err := r.Respond(request(t, http.MethodGet, "/orgs/acme/users/7"))
	require.NoError(t, err)
	assert.Equal(t, "acme/7", body(t, res))
	assert.Equal(t, []string{"root pre", "users pre"}, trace)

	res, err = r.Respond(request(t, http.MethodGet, "/orgs/acme/users"))
	require.NoError(t, err)
	assert.Equal(t, "list", body(t, res))
}

func TestRouterMountNestsHooks(t *testing.T) {
	boom := errors.New("boom")
	var trace []string

	admin := New()
	admin.Get("/ok", text("ok"))
	admin.Get("/fail", func(*http.Request) (*http.Response, error) { return nil, boom })
	admin.After("/", func(_ *http.Request, res *http.Response) (*http.Response, error) {
		trace = append(trace, "admin post")
		return res, nil
	})
	admin.Recover("/", func(_ *http.Request, err error) (*http.Response, error) {
		trace = append(trace, "admin recover")
		return nil, err
	})

	r := New()
	r.After("/admin", func(_ *http.Request, res *http.Response) (*http.Response, error) {
		trace = append(trace, "root post")
		return res, nil
	})
	r.Recover("/admin", func(_ *http.Request, err error) (*http.Response, error) {
		trace = append(trace, "root recover")
		if errors.Is(err, boom) {
			return http.Text(http.StatusAccepted, "recovered"), nil
		}
		return nil, err
	})
	r.Mount("/admin", admin)

	res, err := r.Respond(request(t, http.MethodGet, "/admin/ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", body(t, res))
	assert.Equal(t, []string{"admin post", "root post"}, trace)

	trace = nil
	res, err = r.Respond(request(t, http.MethodGet, "/admin/fail"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.Status)
	assert.Equal(t, []string{"admin recover", "root recover"}, trace)
}

func TestRouterConfigurationErrors(t *testing.T) {
	r := New()
	r.Get("/users/:id", text("x"))
	assert.Panics(t, func() { r.Get("/users/:name/posts", text("y")) })
	assert.Panics(t, func() { r.Get("/users/:id", text("dup")) })
	assert.Panics(t, func() { r.Get("users", text("no slash")) })
	assert.Panics(t, func() { r.Get("/x/:", text("unnamed")) })

	sub := New()
	sub.Get("/:other", text("z"))
	assert.Panics(t, func() { r.Mount("/users", sub) })
}

func BenchmarkRouterParam(b *testing.B) {
	r := New()
	r.Get("/api/users/:id/posts", text("x"))
	req, _ := http.NewRequest(http.MethodGet, "/api/users/123/posts", http.Body{})
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = r.Respond(req)
	}
}
