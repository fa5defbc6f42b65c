package server

import (
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/pavelsim/gorelay/pkg/model"
	"github.com/pavelsim/gorelay/pkg/protocol"
)

// dispatch routes one decoded frame to its handler. Handlers run on the
// session's read goroutine, so requests from one client are processed
// strictly in arrival order.
func (s *Session) dispatch(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAuth:
		s.handleAuth(env)
	case protocol.TypeRegister:
		s.handleRegister(env)
	case protocol.TypeMessage:
		if s.requireAuth() {
			s.handleDirectMessage(env)
		}
	case protocol.TypeGroupMessage:
		if s.requireAuth() {
			s.handleGroupMessage(env)
		}
	case protocol.TypeCreateGroup:
		if s.requireAuth() {
			s.handleCreateGroup(env)
		}
	case protocol.TypeInviteToGroup:
		if s.requireAuth() {
			s.handleInvite(env)
		}
	case protocol.TypeGetChatMessages:
		if s.requireAuth() {
			s.handleGetChatMessages(env)
		}
	case protocol.TypeGetChatList:
		if s.requireAuth() {
			s.handleGetChatList(env)
		}
	default:
		s.sendError("unknown message type: " + env.Type)
	}
}

// requireAuth rejects the request unless the session has authenticated.
func (s *Session) requireAuth() bool {
	if s.authenticated() {
		return true
	}
	s.metrics.RejectedUnauthed.Add(1)
	s.sendError("authentication required")
	return false
}

func (s *Session) handleAuth(env *protocol.Envelope) {
	fail := func(msg string) {
		s.metrics.FailedAuths.Add(1)
		_ = s.Send(&protocol.Envelope{
			Type:    protocol.TypeAuthResponse,
			Status:  protocol.StatusFailure,
			Message: msg,
		})
	}

	if env.Username == "" || env.PasswordHash == "" {
		fail("username and password_hash are required")
		return
	}
	if err := model.ValidateUsername(env.Username); err != nil {
		fail(err.Error())
		return
	}

	ok, err := s.store.Authenticate(env.Username, env.PasswordHash)
	if err != nil {
		slog.Error("auth lookup failed", "session", s.id, "user", env.Username, "err", err)
		fail("server error")
		return
	}
	if !ok {
		slog.Info("auth rejected", "session", s.id, "user", env.Username)
		fail("invalid username or password")
		return
	}

	s.bind(env.Username)
	s.metrics.SuccessfulAuths.Add(1)
	slog.Info("auth accepted", "session", s.id, "user", env.Username)
	_ = s.Send(&protocol.Envelope{
		Type:     protocol.TypeAuthResponse,
		Status:   protocol.StatusSuccess,
		Username: env.Username,
	})
}

func (s *Session) handleRegister(env *protocol.Envelope) {
	respond := func(outcome model.RegisterOutcome) {
		status := protocol.StatusFailure
		if outcome.OK() {
			status = protocol.StatusSuccess
		}
		_ = s.Send(&protocol.Envelope{
			Type:    protocol.TypeRegisterResponse,
			Status:  status,
			Message: outcome.Message(),
		})
	}

	if env.Username == "" || env.PasswordHash == "" {
		respond(model.RegisterFailed)
		return
	}
	if err := model.ValidateUsername(env.Username); err != nil {
		slog.Info("register rejected", "session", s.id, "user", env.Username, "err", err)
		respond(model.RegisterFailed)
		return
	}

	outcome, err := s.store.RegisterUser(env.Username, env.PasswordHash)
	if err != nil {
		slog.Error("register failed", "session", s.id, "user", env.Username, "err", err)
		respond(model.RegisterFailed)
		return
	}
	if outcome.OK() {
		s.metrics.Registrations.Add(1)
		slog.Info("user registered", "session", s.id, "user", env.Username)
	}
	respond(outcome)
}

func (s *Session) handleDirectMessage(env *protocol.Envelope) {
	from := s.Username()
	if env.To == "" {
		s.sendError("recipient is required")
		return
	}
	content := strings.TrimSpace(sanitizeText(env.Content))
	if err := model.ValidateContent(content); err != nil {
		s.sendError(err.Error())
		return
	}

	// Delivery to connected peers proceeds even if persistence fails;
	// the message is live traffic first and history second.
	if err := s.store.SaveMessage(from, env.To, content, false); err != nil {
		slog.Error("direct message not persisted",
			"session", s.id, "from", from, "to", env.To, "err", err)
	}

	out := &protocol.Envelope{
		Type:      protocol.TypeMessage,
		From:      from,
		To:        env.To,
		Content:   content,
		Timestamp: time.Now().Unix(),
	}
	s.registry.Broadcast(out, s.registry.DirectTargets(from, env.To))
	s.metrics.DirectMessages.Add(1)
}

func (s *Session) handleGroupMessage(env *protocol.Envelope) {
	from := s.Username()
	if env.To == "" {
		s.sendError("group name is required")
		return
	}
	content := strings.TrimSpace(sanitizeText(env.Content))
	if err := model.ValidateContent(content); err != nil {
		s.sendError(err.Error())
		return
	}

	members, err := s.store.GetGroupMembers(env.To)
	if err != nil {
		slog.Error("group member lookup failed",
			"session", s.id, "group", env.To, "err", err)
		s.sendError("server error")
		return
	}

	if err := s.store.SaveMessage(from, env.To, content, true); err != nil {
		slog.Error("group message not persisted",
			"session", s.id, "from", from, "group", env.To, "err", err)
	}

	out := &protocol.Envelope{
		Type:      protocol.TypeGroupMessage,
		From:      from,
		To:        env.To,
		Content:   content,
		IsGroup:   true,
		Timestamp: time.Now().Unix(),
	}
	s.registry.Broadcast(out, members)
	s.metrics.GroupMessages.Add(1)
}

func (s *Session) handleCreateGroup(env *protocol.Envelope) {
	creator := s.Username()
	name := strings.TrimSpace(env.GroupName)
	if err := model.ValidateGroupName(name); err != nil {
		s.sendError(err.Error())
		return
	}

	ok, err := s.store.CreateGroup(name, creator)
	if err != nil {
		slog.Error("group create failed", "session", s.id, "group", name, "err", err)
		s.sendError("server error")
		return
	}
	if !ok {
		s.sendError("group already exists: " + name)
		return
	}

	// The creator joins their own group immediately.
	if _, err := s.store.AddUserToGroup(creator, name); err != nil {
		slog.Error("creator membership failed",
			"session", s.id, "group", name, "user", creator, "err", err)
	}

	s.metrics.GroupsCreated.Add(1)
	slog.Info("group created", "session", s.id, "group", name, "creator", creator)
	_ = s.Send(&protocol.Envelope{
		Type:      protocol.TypeGroupCreated,
		GroupName: name,
		Status:    protocol.StatusSuccess,
	})
}

func (s *Session) handleInvite(env *protocol.Envelope) {
	if env.GroupName == "" || env.User == "" {
		s.sendError("group_name and user are required")
		return
	}

	// Failed invites are a logged no-op; only success produces a
	// user_added frame.
	ok, err := s.store.AddUserToGroup(env.User, env.GroupName)
	if err != nil {
		slog.Error("invite failed",
			"session", s.id, "group", env.GroupName, "user", env.User, "err", err)
		return
	}
	if !ok {
		slog.Info("invite ignored",
			"session", s.id, "group", env.GroupName, "user", env.User)
		return
	}

	s.metrics.InvitesSent.Add(1)
	out := &protocol.Envelope{
		Type:      protocol.TypeUserAdded,
		GroupName: env.GroupName,
		User:      env.User,
	}
	_ = s.Send(out)
	// The invitee learns about their new group right away if online.
	s.registry.Broadcast(out, []string{env.User})
}

func (s *Session) handleGetChatMessages(env *protocol.Envelope) {
	requester := s.Username()
	if env.ChatID == "" {
		s.sendError("chat_id is required")
		return
	}

	stored, err := s.store.GetChatMessages(requester, env.ChatID, env.IsGroup)
	if err != nil {
		slog.Error("history lookup failed",
			"session", s.id, "chat", env.ChatID, "err", err)
		s.sendError("server error")
		return
	}

	history := make([]protocol.HistoryMessage, 0, len(stored))
	for _, m := range stored {
		history = append(history, protocol.HistoryMessage{
			From:      m.From,
			Content:   m.Content,
			Timestamp: m.CreatedAt.Unix(),
		})
	}

	s.metrics.HistoryRequests.Add(1)
	_ = s.Send(&protocol.Envelope{
		Type:     protocol.TypeChatMessages,
		ChatID:   env.ChatID,
		IsGroup:  env.IsGroup,
		Messages: history,
	})
}

func (s *Session) handleGetChatList(_ *protocol.Envelope) {
	requester := s.Username()

	users, err := s.store.ListUsers()
	if err != nil {
		slog.Error("user list failed", "session", s.id, "err", err)
		s.sendError("server error")
		return
	}
	groups, err := s.store.GetUserGroups(requester)
	if err != nil {
		slog.Error("group list failed", "session", s.id, "user", requester, "err", err)
		s.sendError("server error")
		return
	}

	data := &protocol.ChatListData{
		Users:  make([]string, 0, len(users)),
		Groups: make([]protocol.GroupInfo, 0, len(groups)),
	}
	for _, u := range users {
		if u != requester {
			data.Users = append(data.Users, u)
		}
	}
	for _, g := range groups {
		data.Groups = append(data.Groups, protocol.GroupInfo{
			GroupID:   g.ID,
			GroupName: g.Name,
			CreatedAt: g.CreatedAt.Format(time.RFC3339),
		})
	}

	s.metrics.ChatListRequests.Add(1)
	_ = s.Send(&protocol.Envelope{
		Type: protocol.TypeChatList,
		Data: data,
	})
}

// sanitizeText strips control characters from message bodies, keeping
// newlines and dropping carriage returns.
func sanitizeText(in string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if r == '\r' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, in)
}
