// Package client implements the relay client networking.
package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/pavelsim/gorelay/pkg/crypto"
	"github.com/pavelsim/gorelay/pkg/protocol"
)

// EventHandler is a callback for incoming server messages.
type EventHandler func(env *protocol.Envelope)

// Client manages the TCP connection to the relay server.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	handler EventHandler
	done    chan struct{}
}

// Dial connects to the relay server.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}
	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// SetEventHandler sets the callback for incoming messages. Must be set
// before StartReceiving.
func (c *Client) SetEventHandler(handler EventHandler) {
	c.handler = handler
}

// Send writes one message to the server.
func (c *Client) Send(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WriteMessage(c.conn, env)
}

// roundTrip sends a request and synchronously reads the next server
// frame. Only valid before StartReceiving owns the read side.
func (c *Client) roundTrip(req *protocol.Envelope) (*protocol.Envelope, error) {
	if err := c.Send(req); err != nil {
		return nil, fmt.Errorf("client: send %s: %w", req.Type, err)
	}
	reply, err := protocol.ReadMessage(c.conn)
	if err != nil {
		return nil, fmt.Errorf("client: read %s reply: %w", req.Type, err)
	}
	return reply, nil
}

// Authenticate hashes the password and performs the auth exchange. Call
// before StartReceiving.
func (c *Client) Authenticate(username, password string) error {
	reply, err := c.roundTrip(&protocol.Envelope{
		Type:         protocol.TypeAuth,
		Username:     username,
		PasswordHash: crypto.DigestPassword(password),
	})
	if err != nil {
		return err
	}
	if reply.Type == protocol.TypeError {
		return fmt.Errorf("auth failed: %s", reply.Message)
	}
	if reply.Type != protocol.TypeAuthResponse {
		return fmt.Errorf("client: unexpected %s response", reply.Type)
	}
	if reply.Status != protocol.StatusSuccess {
		return fmt.Errorf("auth failed: %s", reply.Message)
	}
	return nil
}

// Register creates an account and returns the server's outcome text.
// Call before StartReceiving.
func (c *Client) Register(username, password string) (string, error) {
	reply, err := c.roundTrip(&protocol.Envelope{
		Type:         protocol.TypeRegister,
		Username:     username,
		PasswordHash: crypto.DigestPassword(password),
	})
	if err != nil {
		return "", err
	}
	if reply.Type != protocol.TypeRegisterResponse {
		return "", fmt.Errorf("client: unexpected %s response", reply.Type)
	}
	if reply.Status != protocol.StatusSuccess {
		return reply.Message, fmt.Errorf("register failed: %s", reply.Message)
	}
	return reply.Message, nil
}

// SendDirect sends a direct message to another user.
func (c *Client) SendDirect(to, content string) error {
	return c.Send(&protocol.Envelope{
		Type:    protocol.TypeMessage,
		To:      to,
		Content: content,
	})
}

// SendGroup sends a message to a group.
func (c *Client) SendGroup(group, content string) error {
	return c.Send(&protocol.Envelope{
		Type:    protocol.TypeGroupMessage,
		To:      group,
		Content: content,
	})
}

// CreateGroup asks the server to create a group owned by this user.
func (c *Client) CreateGroup(name string) error {
	return c.Send(&protocol.Envelope{
		Type:      protocol.TypeCreateGroup,
		GroupName: name,
	})
}

// Invite adds another user to a group.
func (c *Client) Invite(group, user string) error {
	return c.Send(&protocol.Envelope{
		Type:      protocol.TypeInviteToGroup,
		GroupName: group,
		User:      user,
	})
}

// RequestHistory asks for the stored messages of one conversation.
// chatID is a username for direct chats and a group name for groups.
func (c *Client) RequestHistory(chatID string, isGroup bool) error {
	return c.Send(&protocol.Envelope{
		Type:    protocol.TypeGetChatMessages,
		ChatID:  chatID,
		IsGroup: isGroup,
	})
}

// RequestChatList asks for the visible users and this user's groups.
func (c *Client) RequestChatList() error {
	return c.Send(&protocol.Envelope{Type: protocol.TypeGetChatList})
}

// StartReceiving starts a goroutine that reads incoming messages and
// dispatches them to the event handler.
func (c *Client) StartReceiving() {
	go func() {
		defer close(c.done)
		for {
			env, err := protocol.ReadMessage(c.conn)
			if err != nil {
				if isClosedErr(err) {
					slog.Debug("connection closed")
					return
				}
				slog.Error("read error", "err", err)
				return
			}
			if c.handler != nil {
				c.handler(env)
			}
		}
	}()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
