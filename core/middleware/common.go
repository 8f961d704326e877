package middleware

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/searchktools/coroserve/core/http"
	"github.com/searchktools/coroserve/core/observability"
)

// RequestIDKey is the storage key under which RequestID keeps the ID.
const RequestIDKey = "request_id"

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

// IDGenerator returns a fresh identifier on every call.
type IDGenerator func() string

// UUIDGenerator returns random UUIDs.
func UUIDGenerator() IDGenerator {
	return func() string { return uuid.NewString() }
}

// CounterGenerator returns increasing decimal IDs. Each generator owns its
// own counter.
func CounterGenerator() IDGenerator {
	var counter atomic.Uint64
	return func() string {
		return strconv.FormatUint(counter.Add(1), 10)
	}
}

// RequestID tags every request with an ID, keeping one the client sent,
// and echoes it on the response.
func RequestID(gen IDGenerator) Middleware {
	if gen == nil {
		gen = UUIDGenerator()
	}
	return Func(func(req *http.Request, next Handler) (*http.Response, error) {
		id := req.Headers.Get(HeaderRequestID)
		if id == "" {
			id = gen()
		}
		req.SetValue(RequestIDKey, id)
		res, err := next(req)
		if res != nil {
			res.Headers.Set(HeaderRequestID, id)
		}
		return res, err
	})
}

// CORSOptions configures CORS. Zero fields take permissive defaults.
type CORSOptions struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       time.Duration
}

// CORS adds access-control headers and answers preflight OPTIONS requests
// with 204 without calling next.
func CORS(opts CORSOptions) Middleware {
	if opts.AllowOrigin == "" {
		opts.AllowOrigin = "*"
	}
	if len(opts.AllowMethods) == 0 {
		opts.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(opts.AllowHeaders) == 0 {
		opts.AllowHeaders = []string{"Content-Type", "Authorization"}
	}
	methods := strings.Join(opts.AllowMethods, ", ")
	headers := strings.Join(opts.AllowHeaders, ", ")

	decorate := func(h *http.Headers) {
		h.Set("Access-Control-Allow-Origin", opts.AllowOrigin)
		h.Set("Access-Control-Allow-Methods", methods)
		h.Set("Access-Control-Allow-Headers", headers)
		if opts.MaxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(int(opts.MaxAge.Seconds())))
		}
	}

	return Func(func(req *http.Request, next Handler) (*http.Response, error) {
		if req.Method == http.MethodOptions && req.Headers.Has("Access-Control-Request-Method") {
			res := http.NewResponse(http.StatusNoContent, http.Body{})
			decorate(&res.Headers)
			return res, nil
		}
		res, err := next(req)
		if res != nil {
			decorate(&res.Headers)
		}
		return res, err
	})
}

// RateLimiter admits requestsPerSecond on average with bursts up to burst
// and answers 429 beyond that. The limit is shared by all connections.
func RateLimiter(requestsPerSecond float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), max(burst, 1))
	return Func(func(req *http.Request, next Handler) (*http.Response, error) {
		r := limiter.Reserve()
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			return nil, http.ErrTooManyRequests.WithHeader("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
		}
		return next(req)
	})
}

// Metrics records every request in pm under "METHOD path".
func Metrics(pm *observability.PerformanceMonitor) Middleware {
	return Func(func(req *http.Request, next Handler) (*http.Response, error) {
		start := time.Now()
		res, err := next(req)
		failed := err != nil || res != nil && res.Status >= http.StatusInternalServerError
		pm.RecordRequest(string(req.Method)+" "+req.URI.Path, time.Since(start), failed)
		return res, err
	})
}
