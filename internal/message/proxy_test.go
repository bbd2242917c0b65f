package message

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
)

func TestProxy_WriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	p := NewProxy(&buf)

	first := New().SetString(FieldIdentifier, "client-a").SetInt(FieldLocalPort, 4000)
	second := New().SetBool(FieldContinue, false)
	if err := p.Write(first); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Write(second); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := p.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if id, _ := got.String(FieldIdentifier); id != "client-a" {
		t.Errorf("IDENTIFIER = %q, want client-a", id)
	}

	got, err = p.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if c, err := got.Continue(); err != nil || c {
		t.Errorf("CONTINUE = %v, %v, want false", c, err)
	}

	if _, err := p.Read(); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after last message = %v, want ErrClosed", err)
	}
}

func TestProxy_ReadOnClosedPeer(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	go a.Close()

	if _, err := NewProxy(b).Read(); !errors.Is(err, ErrClosed) {
		t.Errorf("Read = %v, want ErrClosed", err)
	}
}

func TestProxy_ReadTruncatedFrame(t *testing.T) {
	p := NewProxy(bytes.NewBufferString(`{"CONTINUE":tr`))
	_, err := p.Read()
	if err == nil || errors.Is(err, ErrClosed) {
		t.Errorf("Read = %v, want a decode error", err)
	}
}

func TestProxy_ReadTooLarge(t *testing.T) {
	huge := `{"A":"` + strings.Repeat("x", MaxSize) + `"}` + "\n"
	if _, err := NewProxy(bytes.NewBufferString(huge)).Read(); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Read = %v, want ErrTooLarge", err)
	}
}

func TestProxy_WriteTooLarge(t *testing.T) {
	var buf bytes.Buffer
	m := New().SetString("A", strings.Repeat("x", MaxSize))
	if err := NewProxy(&buf).Write(m); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Write = %v, want ErrTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Write wrote %d bytes for an oversized message", buf.Len())
	}
}

func TestProxy_OverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		_ = NewProxy(a).Write(New().SetBool(FieldContinue, true).SetString(FieldChangeIP, "198.51.100.2").SetInt(FieldChangePort, 8888))
	}()

	m, err := NewProxy(b).Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	ip, _ := m.String(FieldChangeIP)
	port, _ := m.Port(FieldChangePort)
	if ip != "198.51.100.2" || port != 8888 {
		t.Errorf("CHANGE = %s:%d, want 198.51.100.2:8888", ip, port)
	}
}
