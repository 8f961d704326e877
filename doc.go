/*
Package coroserve is an HTTP/1.x server and client built on deadline-aware
streams and coroutine-style concurrency.

Every connection is served by its own coroutine inside a cancellation
group. Reads and writes go through stream.Stream with an explicit deadline,
so a stalled peer costs a timeout, never a stuck goroutine. Requests flow
through a middleware pipeline into a trie router whose nodes carry
pre-process, post-process and recover hooks.

Quick Start

	package main

	import (
		"context"

		"github.com/searchktools/coroserve/app"
		"github.com/searchktools/coroserve/config"
		"github.com/searchktools/coroserve/core/http"
	)

	func main() {
		cfg := config.New()
		application := app.New(cfg)

		application.Engine().GET("/hello/:name", func(req *http.Request) (*http.Response, error) {
			name, _ := req.Param("name")
			return http.Text(http.StatusOK, "Hello, "+name), nil
		})

		if err := application.Run(context.Background()); err != nil {
			application.Logger().Error("server failed", "error", err)
		}
	}

Modules

  - app: lifecycle, logging and signal-driven graceful shutdown
  - config: flags, environment and JSON/TOML/YAML files with live reload
  - core: Engine and Server (accept loop, keep-alive, upgrade, error responses)
  - core/coro: deadlines, groups, channels, select, timers and tickers
  - core/stream: the Stream and Host contract over TCP, pipes and memory
  - core/http: messages, bodies, incremental parser and serializer
  - core/content: media types, codecs and Accept negotiation
  - core/router: trie router with hooks and sub-router mounting
  - core/middleware: recovery, logging, negotiation, auth, sessions, CORS, rate limits
  - core/client: keep-alive HTTP/1.1 client with its own middleware chain
  - core/pools: tiered read buffers
  - core/observability: per-route latency and error counters
*/
package coroserve
