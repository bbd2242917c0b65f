// Package transport provides the TCP socket capabilities used by the NAT
// checker: binding to explicit local addresses, listening, accepting and
// connecting with retries.
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrInvalidAddress is returned when an address cannot be parsed as IPv4 ip:port.
var ErrInvalidAddress = errors.New("transport: invalid address")

// Address is an IPv4 address and TCP port. It is compared by value.
type Address struct {
	IP   string `json:"ip" yaml:"ip"`
	Port uint16 `json:"port" yaml:"port"`
}

// String returns the address in "ip:port" format.
func (a Address) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(int(a.Port)))
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a.IP == "" && a.Port == 0
}

// TCPAddr converts a to a *net.TCPAddr. An empty IP means the unspecified address.
func (a Address) TCPAddr() *net.TCPAddr {
	addr := &net.TCPAddr{Port: int(a.Port)}
	if a.IP != "" {
		addr.IP = net.ParseIP(a.IP)
	}
	return addr
}

// MarshalYAML encodes a as an "ip:port" scalar.
func (a Address) MarshalYAML() (any, error) {
	return a.String(), nil
}

// UnmarshalYAML accepts an "ip:port" scalar or an {ip, port} mapping.
func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseAddress(value.Value)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	var raw struct {
		IP   string `yaml:"ip"`
		Port uint16 `yaml:"port"`
	}
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	*a = Address{IP: raw.IP, Port: raw.Port}
	return nil
}

// ParseAddress parses s as an IPv4 "ip:port" pair.
func ParseAddress(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	ip := ap.Addr().Unmap()
	if !ip.Is4() {
		return Address{}, fmt.Errorf("%w: %q is not IPv4", ErrInvalidAddress, s)
	}
	return Address{IP: ip.String(), Port: ap.Port()}, nil
}

// AddressOf converts a TCP network address into an Address.
// IPv4-mapped IPv6 addresses are unmapped.
func AddressOf(addr net.Addr) (Address, error) {
	if addr == nil {
		return Address{}, fmt.Errorf("%w: nil", ErrInvalidAddress)
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		ap := tcp.AddrPort()
		return Address{IP: ap.Addr().Unmap().String(), Port: ap.Port()}, nil
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr.String(), err)
	}
	return Address{IP: ap.Addr().Unmap().String(), Port: ap.Port()}, nil
}

// PeerAddress returns the remote address of a connected endpoint.
func PeerAddress(conn net.Conn) (Address, error) {
	return AddressOf(conn.RemoteAddr())
}
