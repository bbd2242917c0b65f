//go:build !linux

package transport

import (
	"context"
	"net"
)

// listenTCP uses the runtime's listener; the backlog is chosen by the runtime.
func listenTCP(ctx context.Context, local Address, _ int, reuse bool) (net.Listener, error) {
	lc := net.ListenConfig{}
	if reuse {
		lc.Control = reuseControl
	}
	return lc.Listen(ctx, "tcp4", local.String())
}
