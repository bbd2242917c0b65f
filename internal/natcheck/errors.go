package natcheck

import (
	"errors"
	"io"
	"net"

	"github.com/plexsphere/natcheck/internal/message"
)

// Session abort reasons. None of them produces a record.
var (
	// ErrProtocolViolation means a message was malformed or lacked a required field.
	ErrProtocolViolation = errors.New("natcheck: protocol violation")

	// ErrProbeFailed means a probing socket could not be bound or listened on.
	ErrProbeFailed = errors.New("natcheck: probe failed")

	// ErrPeerClosed means the client went away or stopped following the protocol.
	ErrPeerClosed = errors.New("natcheck: peer closed")
)

// ErrRecordRejected means the record store refused a finished record. It
// indicates broken wiring and is fatal to the server.
var ErrRecordRejected = errors.New("natcheck: record rejected")

// IsFatal reports whether err must stop the server.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRecordRejected)
}

// classifyReadError maps a message read failure onto the abort taxonomy.
func classifyReadError(err error) error {
	var opErr *net.OpError
	switch {
	case errors.Is(err, message.ErrClosed),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.As(err, &opErr):
		return errors.Join(ErrPeerClosed, err)
	default:
		return errors.Join(ErrProtocolViolation, err)
	}
}
