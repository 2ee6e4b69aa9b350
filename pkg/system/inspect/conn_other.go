//go:build !unix

package inspect

// BSD socket numbering, shared by Windows and the other non-unix ports.
const (
	AFInet     = 2
	SockStream = 1
)
