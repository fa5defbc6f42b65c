package server

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pavelsim/gorelay/pkg/crypto"
	"github.com/pavelsim/gorelay/pkg/datastore"
	"github.com/pavelsim/gorelay/pkg/model"
	"github.com/pavelsim/gorelay/pkg/protocol"
	"github.com/pavelsim/gorelay/pkg/store"
)

type testEnv struct {
	srv    *Server
	store  datastore.DataStore
	nextID atomic.Uint64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemory()
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	cfg.WriteTimeout = time.Second
	return &testEnv{srv: New(cfg, Dependencies{Store: st}), store: st}
}

// dial wires a client end of a pipe to a running session.
func (e *testEnv) dial(t *testing.T) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	sess := newSession(e.nextID.Add(1), server, e.srv.registry, e.store, e.srv.metrics, e.srv.cfg)
	go sess.run()
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func sendEnv(t *testing.T, c net.Conn, env *protocol.Envelope) {
	t.Helper()
	_ = c.SetWriteDeadline(time.Now().Add(time.Second))
	if err := protocol.WriteMessage(c, env); err != nil {
		t.Fatalf("write %s: %v", env.Type, err)
	}
}

func readEnv(t *testing.T, c net.Conn) *protocol.Envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	env, err := protocol.ReadMessage(c)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return env
}

func (e *testEnv) register(t *testing.T, username string) string {
	t.Helper()
	digest := crypto.DigestPassword("pw-" + username)
	outcome, err := e.store.RegisterUser(username, digest)
	if err != nil || !outcome.OK() {
		t.Fatalf("register %s: outcome=%v err=%v", username, outcome, err)
	}
	return digest
}

// login registers (once) and authenticates a fresh connection.
func (e *testEnv) login(t *testing.T, username string) net.Conn {
	t.Helper()
	digest := crypto.DigestPassword("pw-" + username)
	if outcome, err := e.store.RegisterUser(username, digest); err != nil ||
		(!outcome.OK() && outcome != model.RegisterDuplicate) {
		t.Fatalf("register %s: outcome=%v err=%v", username, outcome, err)
	}

	c := e.dial(t)
	sendEnv(t, c, &protocol.Envelope{
		Type:         protocol.TypeAuth,
		Username:     username,
		PasswordHash: digest,
	})
	reply := readEnv(t, c)
	if reply.Type != protocol.TypeAuthResponse || reply.Status != protocol.StatusSuccess {
		t.Fatalf("login %s: %+v", username, reply)
	}
	return c
}

func TestAuthSuccessAndFailure(t *testing.T) {
	env := newTestEnv(t)
	digest := env.register(t, "alice")

	c := env.dial(t)
	sendEnv(t, c, &protocol.Envelope{
		Type:         protocol.TypeAuth,
		Username:     "alice",
		PasswordHash: crypto.DigestPassword("wrong"),
	})
	reply := readEnv(t, c)
	if reply.Status != protocol.StatusFailure {
		t.Fatalf("bad digest accepted: %+v", reply)
	}
	if reply.Message != "invalid username or password" {
		t.Fatalf("failure message: %q", reply.Message)
	}

	// Same connection may retry and succeed.
	sendEnv(t, c, &protocol.Envelope{
		Type:         protocol.TypeAuth,
		Username:     "alice",
		PasswordHash: digest,
	})
	reply = readEnv(t, c)
	if reply.Status != protocol.StatusSuccess || reply.Username != "alice" {
		t.Fatalf("auth retry: %+v", reply)
	}

	if got := env.srv.metrics.FailedAuths.Load(); got != 1 {
		t.Fatalf("FailedAuths: want 1 got %d", got)
	}
	if got := env.srv.metrics.SuccessfulAuths.Load(); got != 1 {
		t.Fatalf("SuccessfulAuths: want 1 got %d", got)
	}
}

func TestRegisterOverWire(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	req := &protocol.Envelope{
		Type:         protocol.TypeRegister,
		Username:     "bob",
		PasswordHash: crypto.DigestPassword("secret"),
	}
	sendEnv(t, c, req)
	reply := readEnv(t, c)
	if reply.Type != protocol.TypeRegisterResponse || reply.Status != protocol.StatusSuccess {
		t.Fatalf("register: %+v", reply)
	}
	if reply.Message != "Registration successful" {
		t.Fatalf("register message: %q", reply.Message)
	}

	// Duplicate on the same, still unauthenticated, connection.
	sendEnv(t, c, req)
	reply = readEnv(t, c)
	if reply.Status != protocol.StatusFailure || reply.Message != "The user already exists" {
		t.Fatalf("duplicate register: %+v", reply)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	c := env.dial(t)

	sendEnv(t, c, &protocol.Envelope{
		Type:    protocol.TypeMessage,
		To:      "alice",
		Content: "sneaky",
	})
	reply := readEnv(t, c)
	if reply.Type != protocol.TypeError || reply.Message != "authentication required" {
		t.Fatalf("unauthenticated message: %+v", reply)
	}

	// Nothing reached the store.
	msgs, err := env.store.GetChatMessages("alice", "alice", false)
	if err != nil {
		t.Fatalf("GetChatMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("message persisted without auth: %v", msgs)
	}
	if got := env.srv.metrics.RejectedUnauthed.Load(); got != 1 {
		t.Fatalf("RejectedUnauthed: want 1 got %d", got)
	}
}

func TestDirectMessageDelivery(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	sendEnv(t, alice, &protocol.Envelope{
		Type:    protocol.TypeMessage,
		To:      "bob",
		Content: "  hello bob\x00  ",
	})

	// Delivery order is sender echo first, then the recipient copy, and
	// the pipe is synchronous, so read in that order.
	for _, peer := range []struct {
		name string
		conn net.Conn
	}{{"alice", alice}, {"bob", bob}} {
		got := readEnv(t, peer.conn)
		want := &protocol.Envelope{
			Type:    protocol.TypeMessage,
			From:    "alice",
			To:      "bob",
			Content: "hello bob",
		}
		if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(protocol.Envelope{}, "Timestamp")); diff != "" {
			t.Fatalf("%s copy mismatch (-want +got):\n%s", peer.name, diff)
		}
		if got.Timestamp == 0 {
			t.Fatalf("%s copy missing timestamp", peer.name)
		}
	}

	// Delivery also persisted.
	msgs, err := env.store.GetChatMessages("alice", "bob", false)
	if err != nil {
		t.Fatalf("GetChatMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello bob" {
		t.Fatalf("persisted history: %v", msgs)
	}
}

func TestGroupMessageDelivery(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	dave := env.login(t, "dave")

	sendEnv(t, alice, &protocol.Envelope{Type: protocol.TypeCreateGroup, GroupName: "ops"})
	if reply := readEnv(t, alice); reply.Type != protocol.TypeGroupCreated {
		t.Fatalf("create_group: %+v", reply)
	}
	sendEnv(t, alice, &protocol.Envelope{Type: protocol.TypeInviteToGroup, GroupName: "ops", User: "bob"})
	if reply := readEnv(t, alice); reply.Type != protocol.TypeUserAdded {
		t.Fatalf("invite: %+v", reply)
	}
	// bob receives the membership notification.
	if note := readEnv(t, bob); note.Type != protocol.TypeUserAdded || note.GroupName != "ops" {
		t.Fatalf("invitee notification: %+v", note)
	}

	sendEnv(t, bob, &protocol.Envelope{Type: protocol.TypeGroupMessage, To: "ops", Content: "standup?"})

	// Members are broadcast in sorted order: alice before bob.
	for _, peer := range []struct {
		name string
		conn net.Conn
	}{{"alice", alice}, {"bob", bob}} {
		got := readEnv(t, peer.conn)
		if got.Type != protocol.TypeGroupMessage || got.From != "bob" ||
			got.To != "ops" || got.Content != "standup?" || !got.IsGroup {
			t.Fatalf("%s group copy: %+v", peer.name, got)
		}
	}

	// dave is not a member and must stay silent.
	_ = dave.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if env2, err := protocol.ReadMessage(dave); err == nil {
		t.Fatalf("non-member received group message: %+v", env2)
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "alice")

	sendEnv(t, c, &protocol.Envelope{Type: "self_destruct"})
	reply := readEnv(t, c)
	if reply.Type != protocol.TypeError || reply.Message != "unknown message type: self_destruct" {
		t.Fatalf("unknown type: %+v", reply)
	}
}

func TestChatHistoryOverWire(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	for _, content := range []string{"one", "two"} {
		sendEnv(t, alice, &protocol.Envelope{Type: protocol.TypeMessage, To: "bob", Content: content})
		readEnv(t, alice) // sender echo
		readEnv(t, bob)
	}

	sendEnv(t, bob, &protocol.Envelope{Type: protocol.TypeGetChatMessages, ChatID: "alice"})
	reply := readEnv(t, bob)
	if reply.Type != protocol.TypeChatMessages || reply.ChatID != "alice" || reply.IsGroup {
		t.Fatalf("history reply: %+v", reply)
	}
	if len(reply.Messages) != 2 || reply.Messages[0].Content != "one" || reply.Messages[1].Content != "two" {
		t.Fatalf("history messages: %v", reply.Messages)
	}
	for _, m := range reply.Messages {
		if m.From != "alice" || m.Timestamp == 0 {
			t.Fatalf("history entry: %+v", m)
		}
	}
}

func TestChatListExcludesRequester(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	env.register(t, "bob")
	env.register(t, "carol")

	sendEnv(t, alice, &protocol.Envelope{Type: protocol.TypeCreateGroup, GroupName: "ops"})
	readEnv(t, alice)

	sendEnv(t, alice, &protocol.Envelope{Type: protocol.TypeGetChatList})
	reply := readEnv(t, alice)
	if reply.Type != protocol.TypeChatList || reply.Data == nil {
		t.Fatalf("chat_list reply: %+v", reply)
	}
	if diff := cmp.Diff([]string{"bob", "carol"}, reply.Data.Users); diff != "" {
		t.Fatalf("users (-want +got):\n%s", diff)
	}
	if len(reply.Data.Groups) != 1 || reply.Data.Groups[0].GroupName != "ops" {
		t.Fatalf("groups: %v", reply.Data.Groups)
	}
	if reply.Data.Groups[0].CreatedAt == "" {
		t.Fatal("group missing created_at")
	}
}

// failingStore forces store faults on selected calls.
type failingStore struct {
	datastore.DataStore
}

func (f *failingStore) Authenticate(_, _ string) (bool, error) {
	return false, errors.New("credential backend down")
}

func TestStoreFaultSurfacesAsServerError(t *testing.T) {
	st := &failingStore{DataStore: store.NewMemory()}
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	cfg.WriteTimeout = time.Second
	srv := New(cfg, Dependencies{Store: st})

	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	sess := newSession(1, server, srv.registry, st, srv.metrics, cfg)
	go sess.run()

	sendEnv(t, client, &protocol.Envelope{
		Type:         protocol.TypeAuth,
		Username:     "alice",
		PasswordHash: crypto.DigestPassword("pw"),
	})
	reply := readEnv(t, client)
	if reply.Type != protocol.TypeAuthResponse || reply.Status != protocol.StatusFailure {
		t.Fatalf("store fault auth: %+v", reply)
	}
	if reply.Message != "server error" {
		t.Fatalf("store fault message: %q", reply.Message)
	}
}
