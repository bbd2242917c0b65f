//go:build linux

package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

// listenTCP creates the listening socket by hand so the requested backlog is
// passed to listen(2) instead of the system-wide somaxconn.
func listenTCP(_ context.Context, local Address, backlog int, reuse bool) (net.Listener, error) {
	sa := &unix.SockaddrInet4{Port: int(local.Port)}
	if local.IP != "" {
		ip, err := netip.ParseAddr(local.IP)
		if err != nil || !ip.Unmap().Is4() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, local.IP)
		}
		sa.Addr = ip.Unmap().As4()
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if reuse {
		if err := setReuse(fd); err != nil {
			unix.Close(fd)
			return nil, os.NewSyscallError("setsockopt", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	// FileListener dups the descriptor; the original is released with f.
	f := os.NewFile(uintptr(fd), "tcp-listener:"+local.String())
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, err
	}
	return ln, nil
}
