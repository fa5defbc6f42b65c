package datastore

import (
	"github.com/pavelsim/gorelay/pkg/model"
)

// DataStore defines the persistence interface consumed by the relay core.
// The default implementation is SQLite; pkg/store provides an in-memory
// variant for tests and throwaway servers. Every call is synchronous and
// may fail; callers treat the store as a possibly-remote collaborator.
type DataStore interface {
	UserReadProvider
	UserWriteProvider

	MessageReadProvider
	MessageWriteProvider

	GroupReadProvider
	GroupWriteProvider

	Close() error
}

// Compile-time check: *SQLStore implements DataStore.
var _ DataStore = (*SQLStore)(nil)

type UserReadProvider interface {
	// Authenticate verifies a username/digest pair. A failed match is
	// (false, nil); errors are reserved for store faults.
	Authenticate(username, passwordHash string) (bool, error)
	ListUsers() ([]string, error)
}

type UserWriteProvider interface {
	RegisterUser(username, passwordHash string) (model.RegisterOutcome, error)
}

type MessageReadProvider interface {
	// GetChatMessages returns the requester's view of one conversation,
	// oldest first. chatID is a username for direct chats and a group
	// name for group chats.
	GetChatMessages(requester, chatID string, isGroup bool) ([]model.Message, error)
}

type MessageWriteProvider interface {
	SaveMessage(from, to, content string, isGroup bool) error
}

type GroupReadProvider interface {
	GetGroupMembers(groupName string) ([]string, error)
	GetUserGroups(username string) ([]model.Group, error)
	ListGroups() ([]model.Group, error)
}

type GroupWriteProvider interface {
	CreateGroup(groupName, creator string) (bool, error)
	AddUserToGroup(username, groupName string) (bool, error)
}
