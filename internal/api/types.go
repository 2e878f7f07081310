package api

import "time"

// PublishKeysRequest uploads the local identity's public key halves.
// Key fields are base64url-encoded raw key bytes.
type PublishKeysRequest struct {
	UserID       string `json:"user_id"`
	KemPublicKey string `json:"kyber_public_key"`
	SigPublicKey string `json:"mldsa_public_key"`
}

// PeerKeys is the published key material of one user, as returned by the
// key-lookup endpoint. Fields are base64url-encoded; either may be empty if
// the peer never published.
type PeerKeys struct {
	KemPublicKey string `json:"kyber_public_key"`
	SigPublicKey string `json:"mldsa_public_key"`
}

// ContactRecord is one contact as the backend stores it.
type ContactRecord struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	LastMessage string `json:"last_message"`
	Timestamp   string `json:"timestamp"`
	IsOnline    bool   `json:"is_online"`
	UnreadCount int    `json:"unread_count"`
}

// ChatRequestRecord is one pending incoming chat request.
type ChatRequestRecord struct {
	ID            string    `json:"id"`
	FromUserID    string    `json:"from_user_id"`
	FromUsername  string    `json:"from_username"`
	FromPublicKey string    `json:"from_public_key"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// SendChatRequestPayload starts a chat request to another user.
type SendChatRequestPayload struct {
	RecipientID string `json:"recipient_id"`
	Message     string `json:"message"`
}

// RespondChatRequestPayload accepts or declines a pending request.
// Action is "accept" or "decline".
type RespondChatRequestPayload struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
}

// MessageRecord is one stored message as the backend returns it. Content is
// ciphertext only; the backend never sees plaintext.
type MessageRecord struct {
	ID              string    `json:"id"`
	SenderID        string    `json:"sender_id"`
	SenderUsername  string    `json:"sender_username"`
	RecipientID     string    `json:"recipient_id"`
	EncryptedBlob   string    `json:"encrypted_blob"`
	Signature       string    `json:"signature"`
	SenderPublicKey string    `json:"sender_public_key"`
	CreatedAt       time.Time `json:"created_at"`
}

// SendMessagePayload transmits one encrypted message.
type SendMessagePayload struct {
	RecipientID     string `json:"recipient_id"`
	EncryptedBlob   string `json:"encrypted_blob"`
	Signature       string `json:"signature"`
	SenderPublicKey string `json:"sender_public_key"`
}

// SendMessageResult carries the server-assigned message id.
type SendMessageResult struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
}

// ServerID returns the assigned id regardless of which field the backend
// populated.
func (r *SendMessageResult) ServerID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.MessageID
}
