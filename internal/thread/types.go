// Package thread owns conversation threads and their message history.
//
// Responsibilities: thread lifecycle (create, list, delete, expire), atomic
// exchange appends, history reads, substring search, and feedback
// annotation. The Store interface decouples callers from the backing
// implementation so the in-memory store can be swapped for Postgres without
// touching the orchestrator.
package thread

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// TitleLimit is the number of runes of the first user message used as the
// thread title. Set once, immutable afterwards.
const TitleLimit = 50

// Thread is a persistent ordered conversation between one user and the
// assistant.
type Thread struct {
	ID           string            `json:"thread_id"`
	UserID       string            `json:"user_id"`
	Title        string            `json:"title,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	MessageCount int               `json:"message_count"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Message is a single conversation message. Messages are immutable once
// appended, except for attaching feedback afterwards.
type Message struct {
	ID        string    `json:"message_id"`
	ThreadID  string    `json:"thread_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int       `json:"sequence"`
	Feedback  *Feedback `json:"feedback,omitempty"`
}

// Feedback is a post-hoc rating attached to a message.
type Feedback struct {
	Rating    int       `json:"rating"` // 1..5
	Comment   string    `json:"comment,omitempty"`
	RaterID   string    `json:"rater_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Draft is the caller-supplied part of a message; the store assigns
// identity, timestamp, and sequence at append time.
type Draft struct {
	Content string
	UserID  string
}

// MessageQuery narrows a GetMessages call. The zero value returns the most
// recent DefaultMessageLimit messages. Before/After filters compose by
// intersection and are strict (< Before, > After).
type MessageQuery struct {
	Limit  int
	Before time.Time
	After  time.Time
}

// SearchHit is one match from a substring search over a user's threads.
type SearchHit struct {
	ThreadID    string    `json:"thread_id"`
	MessageID   string    `json:"message_id"`
	Content     string    `json:"content"`
	Role        string    `json:"role"`
	Timestamp   time.Time `json:"timestamp"`
	ThreadTitle string    `json:"thread_title,omitempty"`
}

// Summary aggregates statistics for one thread.
type Summary struct {
	ThreadID            string    `json:"thread_id"`
	Title               string    `json:"title,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	MessageCount        int       `json:"message_count"`
	UserMessages        int       `json:"user_message_count"`
	AssistantMessages   int       `json:"assistant_message_count"`
	LastMessagePreview  string    `json:"last_message,omitempty"`
}
