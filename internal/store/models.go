package store

import "time"

const DefaultChatTitle = "New Chat"

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"created_at"`
}

type Chat struct {
	ID        string    `json:"id"` // UUID
	UserID    int64     `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID           string    `json:"id"` // UUID
	ChatID       string    `json:"-"`
	Content      string    `json:"content"`
	IsAIResponse bool      `json:"is_ai_response"`
	CreatedAt    time.Time `json:"created_at"`
}

type Feedback struct {
	ID           int64     `json:"-"`
	MessageID    string    `json:"message_id"`
	Rating       int       `json:"rating"`
	FeedbackType string    `json:"feedback_type"`
	Comment      *string   `json:"comment"` // Nullable
	CreatedAt    time.Time `json:"created_at"`
}

// MessageOwner is a message together with the owner of its chat, used for
// authorization checks on message-level operations.
type MessageOwner struct {
	Message
	OwnerID int64
}
