package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pavelsim/gorelay/pkg/crypto"
	"github.com/pavelsim/gorelay/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLStore is the SQLite-backed DataStore.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (or creates) a SQLite database and runs migrations.
func NewSQLStore(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open db: %w", err)
	}

	ctx := context.Background()

	// WAL mode for better concurrent read performance.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Busy timeout avoids "database is locked" under concurrent sessions.
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		password_hash TEXT    NOT NULL,
		created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS chat_groups (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT    NOT NULL UNIQUE CHECK(length(name) > 0 AND length(name) <= 64),
		created_by INTEGER,
		created_at TEXT    NOT NULL DEFAULT (datetime('now')),
		FOREIGN KEY(created_by) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id INTEGER NOT NULL,
		user_id  INTEGER NOT NULL,
		added_at TEXT    NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY(group_id, user_id),
		FOREIGN KEY(group_id) REFERENCES chat_groups(id),
		FOREIGN KEY(user_id)  REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id   INTEGER NOT NULL,
		receiver_id INTEGER,
		group_id    INTEGER,
		content     TEXT    NOT NULL,
		created_at  TEXT    NOT NULL DEFAULT (datetime('now')),
		FOREIGN KEY(sender_id)   REFERENCES users(id),
		FOREIGN KEY(receiver_id) REFERENCES users(id),
		FOREIGN KEY(group_id)    REFERENCES chat_groups(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_direct ON messages(sender_id, receiver_id);
	CREATE INDEX IF NOT EXISTS idx_messages_group  ON messages(group_id);
	`

	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: apply migration %d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Users ----

// Authenticate verifies a username/digest pair against the stored
// Argon2id credential.
func (s *SQLStore) Authenticate(username, passwordHash string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(context.Background(),
		"SELECT password_hash FROM users WHERE username = ?", username).Scan(&stored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("datastore: authenticate: %w", err)
	}
	return crypto.VerifyCredential(stored, passwordHash), nil
}

// RegisterUser creates a new account from the wire credential digest.
func (s *SQLStore) RegisterUser(username, passwordHash string) (model.RegisterOutcome, error) {
	if err := model.ValidateUsername(username); err != nil {
		return model.RegisterFailed, fmt.Errorf("datastore: register user: %w", err)
	}

	stored, err := crypto.HashCredential(passwordHash)
	if err != nil {
		return model.RegisterFailed, fmt.Errorf("datastore: register user: %w", err)
	}

	_, err = s.db.ExecContext(context.Background(),
		"INSERT INTO users (username, password_hash) VALUES (?, ?)", username, stored)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return model.RegisterDuplicate, nil
		}
		return model.RegisterFailed, fmt.Errorf("datastore: register user: %w", err)
	}
	return model.RegisterOK, nil
}

// ListUsers returns all registered usernames, sorted.
func (s *SQLStore) ListUsers() ([]string, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT username FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		users = append(users, name)
	}
	return users, rows.Err()
}

func (s *SQLStore) userID(ctx context.Context, username string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM users WHERE username = ?", username).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("datastore: unknown user %q", username)
	}
	if err != nil {
		return 0, fmt.Errorf("datastore: lookup user: %w", err)
	}
	return id, nil
}

func (s *SQLStore) groupID(ctx context.Context, groupName string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM chat_groups WHERE name = ?", groupName).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("datastore: unknown group %q", groupName)
	}
	if err != nil {
		return 0, fmt.Errorf("datastore: lookup group: %w", err)
	}
	return id, nil
}

// ---- Messages ----

// SaveMessage appends one message. For direct messages to is a username;
// for group messages it is a group name.
func (s *SQLStore) SaveMessage(from, to, content string, isGroup bool) error {
	ctx := context.Background()
	senderID, err := s.userID(ctx, from)
	if err != nil {
		return fmt.Errorf("datastore: save message: %w", err)
	}

	if isGroup {
		groupID, err := s.groupID(ctx, to)
		if err != nil {
			return fmt.Errorf("datastore: save message: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO messages (sender_id, group_id, content) VALUES (?, ?, ?)",
			senderID, groupID, content)
		if err != nil {
			return fmt.Errorf("datastore: save message: %w", err)
		}
		return nil
	}

	receiverID, err := s.userID(ctx, to)
	if err != nil {
		return fmt.Errorf("datastore: save message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO messages (sender_id, receiver_id, content) VALUES (?, ?, ?)",
		senderID, receiverID, content)
	if err != nil {
		return fmt.Errorf("datastore: save message: %w", err)
	}
	return nil
}

// GetChatMessages returns one conversation, oldest first.
func (s *SQLStore) GetChatMessages(requester, chatID string, isGroup bool) ([]model.Message, error) {
	ctx := context.Background()

	var rows *sql.Rows
	var err error
	if isGroup {
		rows, err = s.db.QueryContext(ctx, `
			SELECT m.id, su.username, g.name, m.content, m.created_at
			FROM messages m
			JOIN users su       ON su.id = m.sender_id
			JOIN chat_groups g  ON g.id  = m.group_id
			WHERE g.name = ?
			ORDER BY m.id`, chatID)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT m.id, su.username, ru.username, m.content, m.created_at
			FROM messages m
			JOIN users su ON su.id = m.sender_id
			JOIN users ru ON ru.id = m.receiver_id
			WHERE (su.username = ? AND ru.username = ?)
			   OR (su.username = ? AND ru.username = ?)
			ORDER BY m.id`, requester, chatID, chatID, requester)
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		m.IsGroup = isGroup
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		m.CreatedAt = parsed
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ---- Groups ----

// CreateGroup creates a named group owned by creator. Returns false if
// the name is taken or invalid.
func (s *SQLStore) CreateGroup(groupName, creator string) (bool, error) {
	if err := model.ValidateGroupName(groupName); err != nil {
		return false, nil
	}
	ctx := context.Background()
	creatorID, err := s.userID(ctx, creator)
	if err != nil {
		return false, fmt.Errorf("datastore: create group: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO chat_groups (name, created_by) VALUES (?, ?)", groupName, creatorID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return false, nil
		}
		return false, fmt.Errorf("datastore: create group: %w", err)
	}
	return true, nil
}

// AddUserToGroup adds a user to a group. Returns false without error if
// the user or group does not exist; adding an existing member succeeds.
func (s *SQLStore) AddUserToGroup(username, groupName string) (bool, error) {
	ctx := context.Background()
	userID, err := s.userID(ctx, username)
	if err != nil {
		return false, nil
	}
	groupID, err := s.groupID(ctx, groupName)
	if err != nil {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)", groupID, userID)
	if err != nil {
		return false, fmt.Errorf("datastore: add user to group: %w", err)
	}
	return true, nil
}

// GetGroupMembers returns the usernames of a group's members, sorted.
// An unknown group resolves to an empty set.
func (s *SQLStore) GetGroupMembers(groupName string) ([]string, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT u.username
		FROM group_members gm
		JOIN chat_groups g ON g.id = gm.group_id
		JOIN users u       ON u.id = gm.user_id
		WHERE g.name = ?
		ORDER BY u.username`, groupName)
	if err != nil {
		return nil, fmt.Errorf("datastore: get group members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("datastore: scan member: %w", err)
		}
		members = append(members, name)
	}
	return members, rows.Err()
}

// GetUserGroups returns the groups a user belongs to, oldest first.
func (s *SQLStore) GetUserGroups(username string) ([]model.Group, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT g.id, g.name, COALESCE(cu.username, ''), g.created_at
		FROM chat_groups g
		JOIN group_members gm ON gm.group_id = g.id
		JOIN users u          ON u.id = gm.user_id
		LEFT JOIN users cu    ON cu.id = g.created_by
		WHERE u.username = ?
		ORDER BY g.id`, username)
	if err != nil {
		return nil, fmt.Errorf("datastore: get user groups: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanGroups(rows)
}

// ListGroups returns all groups, oldest first.
func (s *SQLStore) ListGroups() ([]model.Group, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT g.id, g.name, COALESCE(cu.username, ''), g.created_at
		FROM chat_groups g
		LEFT JOIN users cu ON cu.id = g.created_by
		ORDER BY g.id`)
	if err != nil {
		return nil, fmt.Errorf("datastore: list groups: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanGroups(rows)
}

func scanGroups(rows *sql.Rows) ([]model.Group, error) {
	var groups []model.Group
	for rows.Next() {
		var g model.Group
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan group: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan group: %w", err)
		}
		g.CreatedAt = parsed
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
