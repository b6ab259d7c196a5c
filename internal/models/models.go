package models

import (
	"time"
)

// Role identifies which side of a conversation a client instance represents.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// ChatSession represents one conversation between a customer and support.
type ChatSession struct {
	ID               string    `json:"id"`
	ParticipantRole  Role      `json:"participant_role"`
	LastActivityTime time.Time `json:"last_activity_time"`
	Preview          string    `json:"preview"`
}

// Message is a single chat line. Provisional messages carry a locally minted
// id and Provisional=true until the server echo confirms them.
type Message struct {
	ID          string     `json:"id"`
	ChatID      string     `json:"chat_id"`
	SenderID    string     `json:"sender_id"`
	Text        string     `json:"message"`
	SentAt      time.Time  `json:"time_to_send"`
	ReadStatus  bool       `json:"read_status"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
	Deleted     bool       `json:"deleted"`
	Provisional bool       `json:"-"`
}

// DeletedPlaceholder is shown in place of the text of a soft-deleted message.
const DeletedPlaceholder = "This message was deleted"

// Fragment is a server-delivered grouping of historical messages belonging to
// one thread-slice of a chat (e.g. an order-linked exchange). Immutable once
// received; never created locally.
type Fragment struct {
	ID       string    `json:"id"`
	Color    string    `json:"color"`
	Messages []Message `json:"messages"`
}

// Envelope is the framing for every tagged event on the wire, both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Wire event names, client -> server.
const (
	EventJoin          = "join"
	EventAdminJoin     = "admin-join"
	EventMessage       = "message-event"
	EventMarkAsRead    = "mark-as-read"
	EventEditMessage   = "edit-message"
	EventDeleteMessage = "delete-message"
)

// Wire event names only ever seen server -> client.
const (
	EventNewChat        = "new-chat"
	EventMessageUpdated = "message-updated"
	EventMessageDeleted = "message-deleted"
)
