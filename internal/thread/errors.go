package thread

import "errors"

// Sentinel errors for store operations. Check with errors.Is.
var (
	// ErrThreadNotFound indicates the requested thread does not exist.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrMessageNotFound indicates the requested message does not exist in
	// its thread.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDuplicateThread indicates an explicit thread ID is already taken.
	ErrDuplicateThread = errors.New("thread already exists")

	// ErrEmptyContent indicates a message draft with no content.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrInvalidRating indicates a feedback rating outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// Pagination defaults and bounds.
const (
	DefaultThreadLimit  = 20
	DefaultMessageLimit = 50
	DefaultSearchLimit  = 20
	MaxLimit            = 1000
)

// NormalizeLimit clamps a caller-supplied limit, substituting def for
// zero/negative values and MaxLimit as the upper bound.
func NormalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ValidateRating checks a feedback rating is within 1..5.
func ValidateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	return nil
}
