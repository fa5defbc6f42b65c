package server

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pavelsim/gorelay/pkg/protocol"
)

type nopConn struct{}

func (c *nopConn) Read(_ []byte) (int, error)         { return 0, io.EOF }
func (c *nopConn) Write(p []byte) (int, error)        { return len(p), nil }
func (c *nopConn) Close() error                       { return nil }
func (c *nopConn) LocalAddr() net.Addr                { return &net.IPAddr{} }
func (c *nopConn) RemoteAddr() net.Addr               { return &net.IPAddr{} }
func (c *nopConn) SetDeadline(_ time.Time) error      { return nil }
func (c *nopConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *nopConn) SetWriteDeadline(_ time.Time) error { return nil }

// bufferConn records written frames for inspection.
type bufferConn struct {
	nopConn
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *bufferConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *bufferConn) frames(t *testing.T) []*protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Envelope
	r := bytes.NewReader(c.buf.Bytes())
	for {
		env, err := protocol.ReadMessage(r)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("decode recorded frame: %v", err)
		}
		out = append(out, env)
	}
}

// failConn rejects every write.
type failConn struct {
	nopConn
}

func (c *failConn) Write(_ []byte) (int, error) {
	return 0, errors.New("peer gone")
}

func newBoundSession(r *Registry, m *Metrics, id uint64, username string, conn net.Conn) *Session {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	s := newSession(id, conn, r, nil, m, cfg)
	r.Register(s)
	s.bind(username)
	return s
}

func TestRegistryConcurrentRegister(t *testing.T) {
	m := NewMetrics()
	r := NewRegistry(m)
	cfg := DefaultConfig()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.Register(newSession(uint64(id+1), &nopConn{}, r, nil, m, cfg))
		}(i)
	}
	wg.Wait()

	if got := r.Count(); got != n {
		t.Fatalf("Count: want %d got %d", n, got)
	}
}

func TestRegistryDeregisterStopsDelivery(t *testing.T) {
	m := NewMetrics()
	r := NewRegistry(m)

	alice := &bufferConn{}
	bob := &bufferConn{}
	newBoundSession(r, m, 1, "alice", alice)
	sb := newBoundSession(r, m, 2, "bob", bob)

	sb.Close()

	r.Broadcast(&protocol.Envelope{Type: protocol.TypeMessage, Content: "hi"}, []string{"alice", "bob"})

	if got := len(alice.frames(t)); got != 1 {
		t.Fatalf("alice frames: want 1 got %d", got)
	}
	if got := len(bob.frames(t)); got != 0 {
		t.Fatalf("bob frames after close: want 0 got %d", got)
	}
	if r.Online("bob") {
		t.Fatal("bob still online after Close")
	}
}

func TestRegistryBindNewestWins(t *testing.T) {
	m := NewMetrics()
	r := NewRegistry(m)

	oldConn := &bufferConn{}
	newConn := &bufferConn{}
	old := newBoundSession(r, m, 1, "alice", oldConn)
	newer := newBoundSession(r, m, 2, "alice", newConn)

	r.Broadcast(&protocol.Envelope{Type: protocol.TypeMessage, Content: "hi"}, []string{"alice"})

	if got := len(newConn.frames(t)); got != 1 {
		t.Fatalf("new session frames: want 1 got %d", got)
	}
	if got := len(oldConn.frames(t)); got != 0 {
		t.Fatalf("old session frames: want 0 got %d", got)
	}

	// The superseded session going away must not unbind the newer one.
	old.Close()
	if !r.Online("alice") {
		t.Fatal("alice unbound by stale session close")
	}
	newer.Close()
	if r.Online("alice") {
		t.Fatal("alice still bound after owning session close")
	}
}

func TestRegistryBroadcastFailureIsolated(t *testing.T) {
	m := NewMetrics()
	r := NewRegistry(m)

	good := &bufferConn{}
	newBoundSession(r, m, 1, "alice", good)
	newBoundSession(r, m, 2, "bob", &failConn{})
	newBoundSession(r, m, 3, "carol", good)

	r.Broadcast(&protocol.Envelope{Type: protocol.TypeMessage, Content: "hi"}, []string{"alice", "bob", "carol"})

	// alice and carol share the recording conn: both deliveries landed.
	if got := len(good.frames(t)); got != 2 {
		t.Fatalf("deliveries past failing peer: want 2 got %d", got)
	}
	if got := m.BroadcastFailures.Load(); got != 1 {
		t.Fatalf("BroadcastFailures: want 1 got %d", got)
	}

	// The failing session is torn down asynchronously.
	deadline := time.Now().Add(time.Second)
	for r.Online("bob") {
		if time.Now().After(deadline) {
			t.Fatal("failing session never deregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDirectTargets(t *testing.T) {
	r := NewRegistry(NewMetrics())

	if got := r.DirectTargets("alice", "bob"); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("DirectTargets(alice,bob) = %v", got)
	}
	if got := r.DirectTargets("alice", "alice"); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("DirectTargets(alice,alice) = %v", got)
	}
}
