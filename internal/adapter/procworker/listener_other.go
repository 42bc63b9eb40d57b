//go:build !linux && !darwin

package procworker

import (
	"fmt"
	"net"
)

// Listen opens a plain TCP listener. SO_REUSEPORT pooling is only
// available on linux/darwin; elsewhere a single worker process owns
// the port.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("op=procworker.Listen: %w", err)
	}
	return ln, nil
}
