package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beaconai/beacon/internal/log"
)

// PostgresStore persists threads and messages in PostgreSQL. Appends to a
// thread are serialized with a row-level lock so message timestamps and
// sequence numbers stay strictly increasing under concurrent writers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger log.Logger) *PostgresStore {
	if logger == nil {
		logger = log.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) CreateThread(ctx context.Context, userID, explicitID string, metadata map[string]string) (*Thread, error) {
	id := explicitID
	if id == "" {
		id = uuid.NewString()
	}

	meta, err := marshalMeta(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO threads (id, user_id, title, created_at, updated_at, message_count, metadata)
		VALUES ($1, $2, '', $3, $3, 0, $4)`,
		id, userID, now, meta)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateThread
		}
		return nil, fmt.Errorf("insert thread: %w", err)
	}

	s.logger.Debug("created thread", "thread_id", id, "user_id", userID)
	return &Thread{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, created_at, updated_at, message_count, metadata
		FROM threads WHERE id = $1`, threadID)
	return scanThread(row)
}

func (s *PostgresStore) ListThreads(ctx context.Context, userID string, limit, offset int) ([]*Thread, error) {
	limit = NormalizeLimit(limit, DefaultThreadLimit)
	if offset < 0 {
		offset = 0
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, created_at, updated_at, message_count, metadata
		FROM threads
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	threads := make([]*Thread, 0, limit)
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, th)
	}
	return threads, rows.Err()
}

func (s *PostgresStore) AppendExchange(ctx context.Context, threadID string, user, assistant Draft) (*Message, *Message, error) {
	if strings.TrimSpace(user.Content) == "" || strings.TrimSpace(assistant.Content) == "" {
		return nil, nil, ErrEmptyContent
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock serializes concurrent appends to the same thread.
	var (
		count  int
		title  string
		lastTS time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT message_count, title, updated_at
		FROM threads WHERE id = $1 FOR UPDATE`, threadID).Scan(&count, &title, &lastTS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrThreadNotFound
		}
		return nil, nil, fmt.Errorf("lock thread: %w", err)
	}

	var maxSeq int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = $1`, threadID).Scan(&maxSeq)
	if err != nil {
		return nil, nil, fmt.Errorf("read sequence: %w", err)
	}

	userTS := time.Now().UTC()
	if !userTS.After(lastTS) {
		userTS = lastTS.Add(time.Microsecond)
	}
	asstTS := userTS.Add(time.Microsecond)

	userMsg := &Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      RoleUser,
		Content:   user.Content,
		UserID:    user.UserID,
		Timestamp: userTS,
		Sequence:  maxSeq + 1,
	}
	asstMsg := &Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      RoleAssistant,
		Content:   assistant.Content,
		UserID:    assistant.UserID,
		Timestamp: asstTS,
		Sequence:  maxSeq + 2,
	}

	for _, m := range []*Message{userMsg, asstMsg} {
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (id, thread_id, role, content, user_id, ts, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, m.ThreadID, m.Role, m.Content, m.UserID, m.Timestamp, m.Sequence)
		if err != nil {
			return nil, nil, fmt.Errorf("insert message: %w", err)
		}
	}

	if title == "" && count == 0 {
		title = truncateRunes(user.Content, TitleLimit)
	}
	_, err = tx.Exec(ctx, `
		UPDATE threads
		SET title = $2, message_count = message_count + 2, updated_at = $3
		WHERE id = $1`, threadID, title, asstTS)
	if err != nil {
		return nil, nil, fmt.Errorf("update thread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit append: %w", err)
	}
	return userMsg, asstMsg, nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, threadID string, q MessageQuery) ([]*Message, error) {
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}

	limit := NormalizeLimit(q.Limit, DefaultMessageLimit)

	// Newest-first inner query keeps the tail of the window, then the outer
	// query restores chronological order.
	sb := strings.Builder{}
	sb.WriteString(`
		SELECT id, thread_id, role, content, user_id, ts, seq, feedback FROM (
			SELECT id, thread_id, role, content, user_id, ts, seq, feedback
			FROM messages WHERE thread_id = $1`)
	args := []any{threadID}
	if !q.Before.IsZero() {
		args = append(args, q.Before)
		fmt.Fprintf(&sb, " AND ts < $%d", len(args))
	}
	if !q.After.IsZero() {
		args = append(args, q.After)
		fmt.Fprintf(&sb, " AND ts > $%d", len(args))
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY seq DESC LIMIT $%d) sub ORDER BY seq ASC", len(args))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]*Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) DeleteThread(ctx context.Context, threadID string) error {
	// Messages go with the thread via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Debug("deleted thread", "thread_id", threadID)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, userID, query string, limit int) ([]SearchHit, error) {
	limit = NormalizeLimit(limit, DefaultSearchLimit)
	if strings.TrimSpace(query) == "" {
		return []SearchHit{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.thread_id, m.id, m.content, m.role, m.ts, t.title
		FROM messages m
		JOIN threads t ON t.id = m.thread_id
		WHERE t.user_id = $1 AND m.content ILIKE $2
		ORDER BY t.created_at ASC, m.seq ASC
		LIMIT $3`, userID, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	hits := make([]SearchHit, 0, limit)
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ThreadID, &h.MessageID, &h.Content, &h.Role, &h.Timestamp, &h.ThreadTitle); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PostgresStore) AttachFeedback(ctx context.Context, threadID, messageID string, fb Feedback) error {
	if err := ValidateRating(fb.Rating); err != nil {
		return err
	}
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return err
	}

	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET feedback = $3
		WHERE id = $1 AND thread_id = $2`, messageID, threadID, payload)
	if err != nil {
		return fmt.Errorf("attach feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *PostgresStore) Summary(ctx context.Context, threadID string) (*Summary, error) {
	th, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		ThreadID:  th.ID,
		Title:     th.Title,
		CreatedAt: th.CreatedAt,
		UpdatedAt: th.UpdatedAt,
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE role = 'user'),
		       COUNT(*) FILTER (WHERE role = 'assistant')
		FROM messages WHERE thread_id = $1`, threadID).
		Scan(&sum.MessageCount, &sum.UserMessages, &sum.AssistantMessages)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	var last string
	err = s.pool.QueryRow(ctx, `
		SELECT content FROM messages
		WHERE thread_id = $1 ORDER BY seq DESC LIMIT 1`, threadID).Scan(&last)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No messages yet.
	case err != nil:
		return nil, fmt.Errorf("last message: %w", err)
	default:
		sum.LastMessagePreview = truncateRunes(last, 100)
	}
	return sum, nil
}

func (s *PostgresStore) ExpireOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	tag, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire threads: %w", err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		s.logger.Info("expired stale threads", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func scanThread(row pgx.Row) (*Thread, error) {
	var (
		th   Thread
		meta []byte
	)
	err := row.Scan(&th.ID, &th.UserID, &th.Title, &th.CreatedAt, &th.UpdatedAt, &th.MessageCount, &meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("scan thread: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &th.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &th, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		m  Message
		fb []byte
	)
	err := row.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.UserID, &m.Timestamp, &m.Sequence, &fb)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if len(fb) > 0 {
		m.Feedback = &Feedback{}
		if err := json.Unmarshal(fb, m.Feedback); err != nil {
			return nil, fmt.Errorf("unmarshal feedback: %w", err)
		}
	}
	return &m, nil
}

func marshalMeta(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// escapeLike neutralizes LIKE metacharacters in user-supplied queries.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
