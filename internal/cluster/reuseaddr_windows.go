//go:build windows

package cluster

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// setReuseAddr sets SO_REUSEADDR on the replication listener so a restarted
// node can rebind its well-known port while old sockets sit in TIME_WAIT.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
