package hub

import "encoding/json"

// Frame type tags. Inbound frames carry auth, message, or list_users; everything the
// hub emits is error, user_list, user_status, or message. Unknown inbound tags get an
// error frame without closing the connection.
const (
	frameAuth       = "auth"
	frameMessage    = "message"
	frameListUsers  = "list_users"
	frameError      = "error"
	frameUserList   = "user_list"
	frameUserStatus = "user_status"
)

// Pub/sub event kinds carried on the broker channels.
const (
	eventMessage  = "message"
	eventPresence = "presence"
)

// ErrorFrame reports a per-frame or auth failure to the client.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorFrame builds an error frame with the given message.
func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: frameError, Message: message}
}

// UserEntry is one row of a user_list frame.
type UserEntry struct {
	Email  string `json:"email"`
	Online bool   `json:"online"`
}

// UserListFrame is a point-in-time snapshot of online identities.
type UserListFrame struct {
	Type  string      `json:"type"`
	Users []UserEntry `json:"users"`
}

// NewUserListFrame builds a user_list frame from the given identities. All listed
// users are online by construction.
func NewUserListFrame(emails []string) UserListFrame {
	users := make([]UserEntry, len(emails))
	for i, email := range emails {
		users[i] = UserEntry{Email: email, Online: true}
	}
	return UserListFrame{Type: frameUserList, Users: users}
}

// UserStatusFrame announces a presence transition.
type UserStatusFrame struct {
	Type   string `json:"type"`
	Email  string `json:"email"`
	Online bool   `json:"online"`
}

// NewUserStatusFrame builds a user_status frame.
func NewUserStatusFrame(email string, online bool) UserStatusFrame {
	return UserStatusFrame{Type: frameUserStatus, Email: email, Online: online}
}

// MessageFrame is a directed chat message as delivered to the recipient. The same
// shape travels inside the broker's message events.
type MessageFrame struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewMessageFrame builds an outbound message frame. Content must already be trimmed
// and the timestamp formatted by the caller.
func NewMessageFrame(from, to, content, timestamp string) MessageFrame {
	return MessageFrame{Type: frameMessage, From: from, To: to, Content: content, Timestamp: timestamp}
}

// pubSubEvent is the envelope published on the broker channels. Origin is set only
// for presence events so nodes can suppress their own echo; message events are
// consumed by every node including the publisher.
type pubSubEvent struct {
	Event   string          `json:"event"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// presencePayload is the payload of a presence pub/sub event.
type presencePayload struct {
	Email  string `json:"email"`
	Online bool   `json:"online"`
}

// authToken extracts the token from a first-frame auth message. It returns "" when
// the frame is not a well-formed auth frame with a string token; the caller treats
// that the same as no token at all.
func authToken(raw []byte) string {
	var f struct {
		Type  string `json:"type"`
		Token any    `json:"token"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return ""
	}
	if f.Type != frameAuth {
		return ""
	}
	token, ok := f.Token.(string)
	if !ok {
		return ""
	}
	return token
}
