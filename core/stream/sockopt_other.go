//go:build !unix

package stream

import (
	"net"
	"syscall"
)

func controlListener(_, _ string, _ syscall.RawConn) error {
	return nil
}

func tuneConn(c *net.TCPConn) error {
	if err := c.SetNoDelay(true); err != nil {
		return err
	}
	return c.SetKeepAlive(true)
}
