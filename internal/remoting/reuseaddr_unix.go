//go:build unix

package remoting

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneReuseAddr sets SO_REUSEADDR on conn's underlying file descriptor
// before quic-go takes ownership of it, so a restarted node can rebind its
// address immediately instead of waiting out TIME_WAIT.
func tuneReuseAddr(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
