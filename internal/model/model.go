// Package model defines the domain types shared across the chatwire server:
// accounts with their verification state and the chat message forms exchanged
// over the wire and recorded durably.
package model

import "time"

// Account is a registered user record. PasswordHash holds the stored form of
// the password; the clear form is never persisted. A freshly created account
// is unverified and carries a one-time verification token with an absolute
// expiry. Verification clears the token and flips Verified.
type Account struct {
	ID           string    `json:"id"`
	PasswordHash []byte    `json:"password_hash"`
	Email        string    `json:"email"`
	Verified     bool      `json:"verified"`
	Token        string    `json:"token,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry,omitempty"`
}

// IncomingMessage is the inbound wire form produced by a connected client.
// The sender is implied by the connection it arrives on.
type IncomingMessage struct {
	To      string `json:"to"`
	Payload string `json:"payload"`
}

// ChatMessage is the durable, delivered form of a message. It is the unit of
// both persistence and distribution and is immutable once stamped.
type ChatMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Payload string `json:"payload"`
	SentAt  int64  `json:"sentAtEpochSeconds"`
}

// Stamp builds the durable form of an incoming message, recording the sender
// and the send instant in epoch seconds.
func Stamp(from string, in IncomingMessage, at time.Time) ChatMessage {
	return ChatMessage{
		From:    from,
		To:      in.To,
		Payload: in.Payload,
		SentAt:  at.Unix(),
	}
}
