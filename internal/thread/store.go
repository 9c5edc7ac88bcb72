package thread

import "context"

// Store is the thread persistence contract. Implementations must serialize
// AppendExchange calls on the same thread (timestamps and sequence numbers
// strictly increase) while letting appends on different threads proceed in
// parallel, and must never expose a half-appended exchange to readers.
type Store interface {
	// CreateThread creates a thread for userID. explicitID may be empty, in
	// which case an ID is generated. Returns ErrDuplicateThread if
	// explicitID already exists.
	CreateThread(ctx context.Context, userID, explicitID string, metadata map[string]string) (*Thread, error)

	// GetThread returns the thread or ErrThreadNotFound.
	GetThread(ctx context.Context, threadID string) (*Thread, error)

	// ListThreads returns the user's threads ordered by UpdatedAt
	// descending, paginated by limit/offset. Pagination is not stable
	// across concurrent appends.
	ListThreads(ctx context.Context, userID string, limit, offset int) ([]*Thread, error)

	// AppendExchange atomically appends a user message and the assistant
	// reply. Both become visible together or not at all. Returns the
	// persisted messages, or ErrThreadNotFound / ErrEmptyContent.
	AppendExchange(ctx context.Context, threadID string, user, assistant Draft) (*Message, *Message, error)

	// GetMessages returns messages ordered by sequence ascending. With only
	// a limit it returns the most recent limit messages; Before/After
	// window filters intersect.
	GetMessages(ctx context.Context, threadID string, q MessageQuery) ([]*Message, error)

	// DeleteThread removes the thread and all its messages. Deleting a
	// missing thread is a no-op, not an error.
	DeleteThread(ctx context.Context, threadID string) error

	// Search performs a case-insensitive substring match over all messages
	// in threads owned by userID. Results follow thread-insertion order,
	// not relevance.
	Search(ctx context.Context, userID, query string, limit int) ([]SearchHit, error)

	// AttachFeedback attaches a rating to a message. Returns
	// ErrThreadNotFound, ErrMessageNotFound, or ErrInvalidRating.
	AttachFeedback(ctx context.Context, threadID, messageID string, fb Feedback) error

	// Summary returns aggregate statistics for a thread, or
	// ErrThreadNotFound.
	Summary(ctx context.Context, threadID string) (*Summary, error)

	// ExpireOlderThan deletes threads whose UpdatedAt precedes
	// now - days*24h and returns the number deleted.
	ExpireOlderThan(ctx context.Context, days int) (int, error)
}
