package protocol

// Message types sent by clients.
const (
	TypeAuth            = "auth"
	TypeRegister        = "register"
	TypeMessage         = "message"
	TypeGroupMessage    = "group_message"
	TypeCreateGroup     = "create_group"
	TypeInviteToGroup   = "invite_to_group"
	TypeGetChatMessages = "get_chat_messages"
	TypeGetChatList     = "get_chat_list"
)

// Message types sent by the server.
const (
	TypeAuthResponse     = "auth_response"
	TypeRegisterResponse = "register_response"
	TypeGroupCreated     = "group_created"
	TypeUserAdded        = "user_added"
	TypeChatMessages     = "chat_messages"
	TypeChatList         = "chat_list"
	TypeError            = "error"
)

// Status values carried in auth_response and register_response.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Envelope is the single wire message shape. Type selects which of the
// optional fields are meaningful; receivers ignore fields they do not
// expect for the given type.
type Envelope struct {
	Type string `json:"type"`

	// Routed chat messages.
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Content   string `json:"content,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// Credentials (auth, register).
	Username     string `json:"username,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`

	// Group administration (create_group, invite_to_group).
	GroupName string `json:"group_name,omitempty"`
	User      string `json:"user,omitempty"`

	// History requests and responses. IsGroup is never omitted so
	// clients can key response routing off it directly.
	ChatID   string           `json:"chat_id,omitempty"`
	IsGroup  bool             `json:"is_group"`
	Messages []HistoryMessage `json:"messages,omitempty"`

	// Outcome reporting (auth_response, register_response, error).
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	// Chat list response.
	Data *ChatListData `json:"data,omitempty"`
}

// HistoryMessage is one stored message in a chat_messages response.
type HistoryMessage struct {
	From      string `json:"from"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// ChatListData is the payload of a chat_list response.
type ChatListData struct {
	Users  []string    `json:"users"`
	Groups []GroupInfo `json:"groups"`
}

// GroupInfo describes one group the requester belongs to.
type GroupInfo struct {
	GroupID   int64  `json:"group_id"`
	GroupName string `json:"group_name"`
	CreatedAt string `json:"created_at"`
}

// ErrorEnvelope builds an error response with the given message.
func ErrorEnvelope(message string) *Envelope {
	return &Envelope{Type: TypeError, Message: message}
}
