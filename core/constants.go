package core

import (
	"errors"
	"time"
)

// Server defaults
const (
	DefaultReadTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultIdleTimeout    = 60 * time.Second
	DefaultMaxConnections = 10000
)

// Error definitions
var (
	// ErrServerClosed is returned by Serve and Engine.Run after Shutdown.
	ErrServerClosed = errors.New("core: server closed")

	errNoResponse = errors.New("core: handler returned neither response nor error")
)
