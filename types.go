package lockbox

import "time"

// DeliveryStatus tracks a sent message through its lifecycle.
type DeliveryStatus string

const (
	// StatusSending is the optimistic local state before the backend
	// accepted the message.
	StatusSending DeliveryStatus = "sending"
	// StatusSent means the backend accepted the message and assigned it
	// a server id.
	StatusSent DeliveryStatus = "sent"
	// StatusDelivered means the server id was observed in a later server
	// snapshot, confirming the message is durably stored and routable.
	StatusDelivered DeliveryStatus = "delivered"
	// StatusFailed means transmission failed. Failed messages stay in the
	// conversation for inspection and retry; they are never auto-removed.
	StatusFailed DeliveryStatus = "failed"
)

// Message is one entry in a conversation. For inbound messages Body holds
// the decrypted plaintext, or a placeholder when decryption degraded.
type Message struct {
	// ID is the server-assigned id, empty while the message is optimistic.
	ID string
	// ClientID is the locally generated id that keys an optimistic entry
	// until the server id arrives.
	ClientID       string
	SenderID       string
	SenderUsername string
	RecipientID    string
	Body           string
	// Own marks messages sent by the local user.
	Own    bool
	Status DeliveryStatus
	// Verified reports whether the envelope signature checked out. An
	// unverified message was still decrypted; see ErrSignatureInvalid.
	Verified bool
	// Degraded marks a message whose ciphertext could not be decrypted;
	// Body holds a placeholder instead of plaintext.
	Degraded  bool
	CreatedAt time.Time
}

// ContactStatus is the lifecycle state of a contact.
type ContactStatus string

const (
	ContactPending ContactStatus = "pending"
	ContactActive  ContactStatus = "active"
	ContactBlocked ContactStatus = "blocked"
)

// Contact is one conversation partner. Only active contacts are valid
// message-send targets.
type Contact struct {
	ID            string
	Username      string
	Status        ContactStatus
	UnreadCount   int
	LastMessage   string
	LastMessageAt time.Time
}

// ChatRequest is a pending incoming request from another user.
type ChatRequest struct {
	ID           string
	FromUserID   string
	FromUsername string
	Message      string
	CreatedAt    time.Time
}
