//go:build unix

package inspect

import "golang.org/x/sys/unix"

// AFInet and SockStream are the host values Connection carries for IPv4
// and stream sockets.
const (
	AFInet     = unix.AF_INET
	SockStream = unix.SOCK_STREAM
)
