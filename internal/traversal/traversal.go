// Package traversal executes NAT traversal commands exchanged as protocol
// messages.
package traversal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/plexsphere/natcheck/internal/message"
	"github.com/plexsphere/natcheck/internal/transport"
)

// TypeConnectDirectly is the TYPE value of a direct-connect command.
const TypeConnectDirectly = 1

// DefaultDelay is the default pause before a direct connect, giving the
// peer time to start its own attempt.
const DefaultDelay = time.Second

// connectRetries is the number of extra connect attempts of a direct connect.
const connectRetries = 1

var (
	// ErrWrongType is returned when a command message has another TYPE.
	ErrWrongType = errors.New("traversal: wrong command type")

	// ErrMissingDestination is returned when DESTINY_IP or DESTINY_PORT is absent.
	ErrMissingDestination = errors.New("traversal: missing destination")
)

// Command establishes a connection to a peer from a local address.
type Command interface {
	Traverse(ctx context.Context, msg *message.Message, local transport.Address) (net.Conn, error)
}

// ConnectDirectlyMessage builds the command message telling a peer to
// connect directly to dest.
func ConnectDirectlyMessage(dest transport.Address) *message.Message {
	return message.New().
		SetInt(message.FieldType, TypeConnectDirectly).
		SetString(message.FieldDestinyIP, dest.IP).
		SetInt(message.FieldDestinyPort, int64(dest.Port))
}

// ConnectDirectly dials the destination named in the message from the
// local address after a fixed delay.
type ConnectDirectly struct {
	network transport.Network
	delay   time.Duration
	logger  *slog.Logger
}

var _ Command = (*ConnectDirectly)(nil)

// NewConnectDirectly creates a ConnectDirectly command. A zero delay
// selects DefaultDelay.
func NewConnectDirectly(network transport.Network, delay time.Duration, logger *slog.Logger) *ConnectDirectly {
	if delay == 0 {
		delay = DefaultDelay
	}
	return &ConnectDirectly{
		network: network,
		delay:   delay,
		logger:  logger.With("component", "traversal"),
	}
}

// Traverse validates msg, waits the configured delay and connects from
// local to the destination with one retry.
func (c *ConnectDirectly) Traverse(ctx context.Context, msg *message.Message, local transport.Address) (net.Conn, error) {
	dest, err := c.destination(msg)
	if err != nil {
		return nil, err
	}

	t := time.NewTimer(c.delay)
	select {
	case <-ctx.Done():
		t.Stop()
		return nil, fmt.Errorf("traversal: connect directly: %w", ctx.Err())
	case <-t.C:
	}

	conn, err := c.network.Dial(ctx, local, dest, connectRetries)
	if err != nil {
		return nil, fmt.Errorf("traversal: connect directly to %s: %w", dest, err)
	}
	c.logger.Info("direct connection established", "local", local.String(), "remote", dest.String())
	return conn, nil
}

func (c *ConnectDirectly) destination(msg *message.Message) (transport.Address, error) {
	if !msg.HasAll(message.FieldDestinyIP, message.FieldDestinyPort) {
		return transport.Address{}, ErrMissingDestination
	}
	typ, err := msg.Int(message.FieldType)
	if err != nil {
		return transport.Address{}, fmt.Errorf("traversal: %w", err)
	}
	if typ != TypeConnectDirectly {
		return transport.Address{}, fmt.Errorf("%w: %d", ErrWrongType, typ)
	}
	ip, err := msg.String(message.FieldDestinyIP)
	if err != nil {
		return transport.Address{}, fmt.Errorf("traversal: %w", err)
	}
	port, err := msg.Port(message.FieldDestinyPort)
	if err != nil {
		return transport.Address{}, fmt.Errorf("traversal: %w", err)
	}
	return transport.ParseAddress(transport.Address{IP: ip, Port: port}.String())
}
