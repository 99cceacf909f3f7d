//go:build !unix

package remoting

import "net"

func tuneReuseAddr(*net.UDPConn) error { return nil }
