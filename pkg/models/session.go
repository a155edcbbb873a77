package models

import "time"

// SessionMeta is the first entry of every session transcript.
type SessionMeta struct {
	Title     string `json:"title,omitempty"`
	Model     string `json:"model,omitempty"`
	CreatedAt int64  `json:"created_at"` // unix milliseconds
}

// SessionListItem is the derived listing view of one session file.
type SessionListItem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}
