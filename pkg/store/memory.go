// Package store provides an in-memory DataStore implementation for tests
// and throwaway servers. It mirrors the SQLite store's validation and
// error behavior.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pavelsim/gorelay/pkg/crypto"
	"github.com/pavelsim/gorelay/pkg/datastore"
	"github.com/pavelsim/gorelay/pkg/model"
)

// Compile-time check: *Memory implements DataStore.
var _ datastore.DataStore = (*Memory)(nil)

// Memory is a map-backed DataStore guarded by one mutex.
type Memory struct {
	mu sync.RWMutex

	now func() time.Time

	nextUserID    int64
	nextGroupID   int64
	nextMessageID int64

	credentials map[string]string // username -> stored credential
	users       map[string]*model.User
	groups      map[string]*model.Group
	members     map[string]map[string]bool // group name -> set of usernames
	messages    []model.Message
}

// NewMemory creates a Memory store using time.Now().UTC().
func NewMemory() *Memory {
	return NewMemoryWithClock(nil)
}

// NewMemoryWithClock creates a Memory store with a custom clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Memory{
		now:           now,
		nextUserID:    1,
		nextGroupID:   1,
		nextMessageID: 1,
		credentials:   make(map[string]string),
		users:         make(map[string]*model.User),
		groups:        make(map[string]*model.Group),
		members:       make(map[string]map[string]bool),
	}
}

// Close is a no-op.
func (s *Memory) Close() error {
	return nil
}

// Authenticate verifies a username/digest pair.
func (s *Memory) Authenticate(username, passwordHash string) (bool, error) {
	s.mu.RLock()
	stored, ok := s.credentials[username]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return crypto.VerifyCredential(stored, passwordHash), nil
}

// RegisterUser creates a new account from the wire credential digest.
func (s *Memory) RegisterUser(username, passwordHash string) (model.RegisterOutcome, error) {
	if err := model.ValidateUsername(username); err != nil {
		return model.RegisterFailed, fmt.Errorf("store: register user: %w", err)
	}
	stored, err := crypto.HashCredential(passwordHash)
	if err != nil {
		return model.RegisterFailed, fmt.Errorf("store: register user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return model.RegisterDuplicate, nil
	}
	s.users[username] = &model.User{
		ID:        s.nextUserID,
		Username:  username,
		CreatedAt: s.now(),
	}
	s.nextUserID++
	s.credentials[username] = stored
	return model.RegisterOK, nil
}

// ListUsers returns all registered usernames, sorted.
func (s *Memory) ListUsers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.users))
	for name := range s.users {
		users = append(users, name)
	}
	sort.Strings(users)
	return users, nil
}

// SaveMessage appends one message.
func (s *Memory) SaveMessage(from, to, content string, isGroup bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[from]; !ok {
		return fmt.Errorf("store: save message: unknown user %q", from)
	}
	if isGroup {
		if _, ok := s.groups[to]; !ok {
			return fmt.Errorf("store: save message: unknown group %q", to)
		}
	} else if _, ok := s.users[to]; !ok {
		return fmt.Errorf("store: save message: unknown user %q", to)
	}

	s.messages = append(s.messages, model.Message{
		ID:        s.nextMessageID,
		From:      from,
		To:        to,
		Content:   content,
		IsGroup:   isGroup,
		CreatedAt: s.now(),
	})
	s.nextMessageID++
	return nil
}

// GetChatMessages returns one conversation, oldest first.
func (s *Memory) GetChatMessages(requester, chatID string, isGroup bool) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Message
	for _, m := range s.messages {
		if m.IsGroup != isGroup {
			continue
		}
		if isGroup {
			if m.To == chatID {
				out = append(out, m)
			}
			continue
		}
		if (m.From == requester && m.To == chatID) || (m.From == chatID && m.To == requester) {
			out = append(out, m)
		}
	}
	return out, nil
}

// CreateGroup creates a named group owned by creator.
func (s *Memory) CreateGroup(groupName, creator string) (bool, error) {
	if err := model.ValidateGroupName(groupName); err != nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[creator]; !ok {
		return false, fmt.Errorf("store: create group: unknown user %q", creator)
	}
	if _, exists := s.groups[groupName]; exists {
		return false, nil
	}
	s.groups[groupName] = &model.Group{
		ID:        s.nextGroupID,
		Name:      groupName,
		CreatedBy: creator,
		CreatedAt: s.now(),
	}
	s.nextGroupID++
	s.members[groupName] = make(map[string]bool)
	return true, nil
}

// AddUserToGroup adds a user to a group.
func (s *Memory) AddUserToGroup(username, groupName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return false, nil
	}
	if _, ok := s.groups[groupName]; !ok {
		return false, nil
	}
	s.members[groupName][username] = true
	return true, nil
}

// GetGroupMembers returns a group's member usernames, sorted.
func (s *Memory) GetGroupMembers(groupName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.members[groupName]
	members := make([]string, 0, len(set))
	for name := range set {
		members = append(members, name)
	}
	sort.Strings(members)
	return members, nil
}

// GetUserGroups returns the groups a user belongs to, oldest first.
func (s *Memory) GetUserGroups(username string) ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var groups []model.Group
	for name, set := range s.members {
		if set[username] {
			groups = append(groups, *s.groups[name])
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

// ListGroups returns all groups, oldest first.
func (s *Memory) ListGroups() ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]model.Group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}
