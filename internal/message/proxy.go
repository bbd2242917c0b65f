package message

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

// MaxSize is the largest encoded message accepted, including the newline.
const MaxSize = 4096

var (
	// ErrClosed is returned by Read when the peer closed the connection
	// before a message arrived.
	ErrClosed = errors.New("message: connection closed")

	// ErrTooLarge is returned by Read when a message exceeds MaxSize.
	ErrTooLarge = errors.New("message: message too large")
)

// Proxy frames messages over a connection as newline-terminated JSON objects.
// Each Read returns exactly one message and each Write sends exactly one.
// A Proxy is not safe for concurrent use.
type Proxy struct {
	rw io.ReadWriter
	r  *bufio.Reader
}

// NewProxy returns a Proxy reading from and writing to rw.
func NewProxy(rw io.ReadWriter) *Proxy {
	return &Proxy{rw: rw, r: bufio.NewReaderSize(rw, MaxSize)}
}

// Read blocks until a full message is available. It returns ErrClosed when
// the peer closed the connection without sending one.
func (p *Proxy) Read() (*Message, error) {
	line, err := p.r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, ErrTooLarge
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		if len(bytes.TrimSpace(line)) == 0 {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("message: read: %w", io.ErrUnexpectedEOF)
	case err != nil:
		return nil, fmt.Errorf("message: read: %w", err)
	}

	m := New()
	if err := json.Unmarshal(line, m); err != nil {
		return nil, fmt.Errorf("message: read: %w", err)
	}
	return m, nil
}

// Write sends m as a single frame.
func (p *Proxy) Write(m *Message) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("message: write: %w", err)
	}
	if len(data)+1 > MaxSize {
		return ErrTooLarge
	}
	data = append(data, '\n')
	if _, err := p.rw.Write(data); err != nil {
		return fmt.Errorf("message: write: %w", err)
	}
	return nil
}
