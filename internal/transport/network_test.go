package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func testNetwork() *TCPNetwork {
	return NewNetwork(Options{Reuse: true, DialTimeout: time.Second, RetryInterval: 10 * time.Millisecond})
}

// freePort returns a loopback port that was free at the time of the call.
func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func TestOptions_ApplyDefaults(t *testing.T) {
	var o Options
	o.ApplyDefaults()
	if o.DialTimeout != DefaultDialTimeout {
		t.Errorf("DialTimeout = %v, want %v", o.DialTimeout, DefaultDialTimeout)
	}
	if o.RetryInterval != DefaultRetryInterval {
		t.Errorf("RetryInterval = %v, want %v", o.RetryInterval, DefaultRetryInterval)
	}
}

func TestTCPNetwork_ListenDialObservesPeerAddress(t *testing.T) {
	n := testNetwork()
	ctx := context.Background()

	ln, err := n.Listen(ctx, Address{IP: "127.0.0.1", Port: 0}, 4)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	server, err := AddressOf(ln.Addr())
	if err != nil {
		t.Fatalf("AddressOf: %v", err)
	}

	local := Address{IP: "127.0.0.1", Port: freePort(t)}
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	conn, err := n.Dial(ctx, local, server, 0)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	peer, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	defer peer.Close()

	got, err := PeerAddress(peer)
	if err != nil {
		t.Fatalf("PeerAddress: %v", err)
	}
	if got != local {
		t.Errorf("PeerAddress = %+v, want %+v", got, local)
	}
}

func TestTCPNetwork_DialRetriesThenFails(t *testing.T) {
	n := testNetwork()
	remote := Address{IP: "127.0.0.1", Port: freePort(t)}

	start := time.Now()
	_, err := n.Dial(context.Background(), Address{IP: "127.0.0.1"}, remote, 2)
	if err == nil {
		t.Fatal("Dial succeeded against a closed port")
	}
	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("error = %v, want ErrConnectFailed", err)
	}
	// Two pauses between three attempts.
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Dial returned after %v, want at least two retry intervals", elapsed)
	}
}

func TestTCPNetwork_DialSucceedsOnceListenerAppears(t *testing.T) {
	n := NewNetwork(Options{Reuse: true, DialTimeout: time.Second, RetryInterval: 50 * time.Millisecond})
	remote := Address{IP: "127.0.0.1", Port: freePort(t)}

	lnCh := make(chan net.Listener, 1)
	go func() {
		time.Sleep(60 * time.Millisecond)
		ln, err := n.Listen(context.Background(), remote, 1)
		if err != nil {
			close(lnCh)
			return
		}
		lnCh <- ln
	}()

	conn, err := n.Dial(context.Background(), Address{IP: "127.0.0.1"}, remote, 20)
	ln, ok := <-lnCh
	if !ok {
		t.Fatal("late Listen failed")
	}
	defer ln.Close()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
}

func TestTCPNetwork_DialContextCancelled(t *testing.T) {
	n := NewNetwork(Options{DialTimeout: time.Second, RetryInterval: time.Hour})
	remote := Address{IP: "127.0.0.1", Port: freePort(t)}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := n.Dial(ctx, Address{IP: "127.0.0.1"}, remote, 5)
	if err == nil {
		t.Fatal("Dial succeeded, want error")
	}
	if errors.Is(err, ErrConnectFailed) {
		t.Errorf("cancelled Dial reported ErrConnectFailed: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTCPNetwork_ListenTwiceWithoutReuseFails(t *testing.T) {
	n := NewNetwork(Options{})
	ctx := context.Background()

	ln, err := n.Listen(ctx, Address{IP: "127.0.0.1"}, 1)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	bound, _ := AddressOf(ln.Addr())

	if ln2, err := n.Listen(ctx, bound, 1); err == nil {
		ln2.Close()
		t.Fatal("second Listen on the same address succeeded without reuse")
	}
}

func TestTCPNetwork_ReuseRebindsAfterClose(t *testing.T) {
	n := testNetwork()
	ctx := context.Background()
	addr := Address{IP: "127.0.0.1", Port: freePort(t)}

	for i := 0; i < 3; i++ {
		ln, err := n.Listen(ctx, addr, 1)
		if err != nil {
			t.Fatalf("Listen round %d: %v", i, err)
		}
		c, err := n.Dial(ctx, Address{IP: "127.0.0.1"}, addr, 0)
		if err != nil {
			ln.Close()
			t.Fatalf("Dial round %d: %v", i, err)
		}
		s, err := ln.Accept()
		if err != nil {
			t.Fatalf("Accept round %d: %v", i, err)
		}
		s.Close()
		c.Close()
		ln.Close()
	}
}

func TestAccept_ContextCancelled(t *testing.T) {
	ln, err := testNetwork().Listen(context.Background(), Address{IP: "127.0.0.1"}, 1)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = Accept(ctx, ln)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Accept error = %v, want context.Canceled", err)
	}
}
