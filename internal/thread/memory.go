package thread

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beaconai/beacon/internal/log"
)

// MemoryStore is the in-process Store implementation. Thread state lives in
// a map guarded by an RWMutex; each thread additionally carries its own
// mutex so appends on different threads never contend.
//
// State is lost on process exit. The Postgres store provides durability with
// identical semantics.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*memThread
	// byUser preserves thread-insertion order per user; Search iterates it
	// so result ordering matches thread creation order.
	byUser map[string][]string
	logger log.Logger

	// now is swappable in tests.
	now func() time.Time
}

// memThread bundles one thread's metadata and messages under a private lock.
type memThread struct {
	mu       sync.Mutex
	thread   Thread
	messages []*Message
	lastTS   time.Time
	nextSeq  int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger log.Logger) *MemoryStore {
	if logger == nil {
		logger = log.NewNop()
	}
	return &MemoryStore{
		threads: make(map[string]*memThread),
		byUser:  make(map[string][]string),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateThread creates a thread for userID.
func (s *MemoryStore) CreateThread(_ context.Context, userID, explicitID string, metadata map[string]string) (*Thread, error) {
	id := explicitID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[id]; exists {
		return nil, ErrDuplicateThread
	}

	now := s.now()
	mt := &memThread{
		thread: Thread{
			ID:        id,
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
			Metadata:  copyMeta(metadata),
		},
		lastTS:  now,
		nextSeq: 1,
	}
	s.threads[id] = mt
	s.byUser[userID] = append(s.byUser[userID], id)

	s.logger.Debug("created thread", "thread_id", id, "user_id", userID)
	t := mt.thread
	t.Metadata = copyMeta(mt.thread.Metadata)
	return &t, nil
}

// GetThread returns a copy of the thread.
func (s *MemoryStore) GetThread(_ context.Context, threadID string) (*Thread, error) {
	mt, err := s.lookup(threadID)
	if err != nil {
		return nil, err
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()
	t := mt.thread
	t.Metadata = copyMeta(mt.thread.Metadata)
	return &t, nil
}

// ListThreads returns the user's threads ordered by UpdatedAt descending.
func (s *MemoryStore) ListThreads(_ context.Context, userID string, limit, offset int) ([]*Thread, error) {
	limit = NormalizeLimit(limit, DefaultThreadLimit)
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	ids := make([]string, len(s.byUser[userID]))
	copy(ids, s.byUser[userID])
	s.mu.RUnlock()

	threads := make([]*Thread, 0, len(ids))
	for _, id := range ids {
		mt, err := s.lookup(id)
		if err != nil {
			continue // deleted concurrently
		}
		mt.mu.Lock()
		t := mt.thread
		t.Metadata = copyMeta(mt.thread.Metadata)
		mt.mu.Unlock()
		threads = append(threads, &t)
	}

	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})

	if offset >= len(threads) {
		return []*Thread{}, nil
	}
	end := offset + limit
	if end > len(threads) {
		end = len(threads)
	}
	return threads[offset:end], nil
}

// AppendExchange atomically appends the user message and assistant reply.
func (s *MemoryStore) AppendExchange(_ context.Context, threadID string, user, assistant Draft) (*Message, *Message, error) {
	if strings.TrimSpace(user.Content) == "" || strings.TrimSpace(assistant.Content) == "" {
		return nil, nil, ErrEmptyContent
	}

	mt, err := s.lookup(threadID)
	if err != nil {
		return nil, nil, err
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()

	userMsg := mt.append(s.now(), RoleUser, user)
	asstMsg := mt.append(s.now(), RoleAssistant, assistant)

	// First user message of the thread fixes the title.
	if mt.thread.Title == "" && mt.thread.MessageCount == 0 {
		mt.thread.Title = truncateRunes(user.Content, TitleLimit)
	}

	mt.thread.MessageCount += 2
	mt.thread.UpdatedAt = asstMsg.Timestamp

	u, a := *userMsg, *asstMsg
	return &u, &a, nil
}

// append assigns identity, a strictly increasing timestamp, and the next
// sequence number. Caller holds mt.mu.
func (mt *memThread) append(now time.Time, role string, d Draft) *Message {
	if !now.After(mt.lastTS) {
		now = mt.lastTS.Add(time.Microsecond)
	}
	mt.lastTS = now

	msg := &Message{
		ID:        uuid.NewString(),
		ThreadID:  mt.thread.ID,
		Role:      role,
		Content:   d.Content,
		UserID:    d.UserID,
		Timestamp: now,
		Sequence:  mt.nextSeq,
	}
	mt.nextSeq++
	mt.messages = append(mt.messages, msg)
	return msg
}

// GetMessages returns messages matching q in sequence order.
func (s *MemoryStore) GetMessages(_ context.Context, threadID string, q MessageQuery) ([]*Message, error) {
	mt, err := s.lookup(threadID)
	if err != nil {
		return nil, err
	}

	limit := NormalizeLimit(q.Limit, DefaultMessageLimit)

	mt.mu.Lock()
	defer mt.mu.Unlock()

	filtered := make([]*Message, 0, len(mt.messages))
	for _, m := range mt.messages {
		if !q.Before.IsZero() && !m.Timestamp.Before(q.Before) {
			continue
		}
		if !q.After.IsZero() && !m.Timestamp.After(q.After) {
			continue
		}
		filtered = append(filtered, m)
	}

	// Most-recent-limit semantics: keep the tail.
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	out := make([]*Message, len(filtered))
	for i, m := range filtered {
		c := *m
		out[i] = &c
	}
	return out, nil
}

// DeleteThread removes the thread and its messages. Idempotent.
func (s *MemoryStore) DeleteThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mt, exists := s.threads[threadID]
	if !exists {
		return nil
	}

	delete(s.threads, threadID)

	userID := mt.thread.UserID
	ids := s.byUser[userID]
	for i, id := range ids {
		if id == threadID {
			s.byUser[userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}

	s.logger.Debug("deleted thread", "thread_id", threadID)
	return nil
}

// Search scans the user's threads in insertion order for a case-insensitive
// substring match. Deliberately not relevance-ranked.
func (s *MemoryStore) Search(_ context.Context, userID, query string, limit int) ([]SearchHit, error) {
	limit = NormalizeLimit(limit, DefaultSearchLimit)
	needle := strings.ToLower(query)
	if needle == "" {
		return []SearchHit{}, nil
	}

	s.mu.RLock()
	ids := make([]string, len(s.byUser[userID]))
	copy(ids, s.byUser[userID])
	s.mu.RUnlock()

	hits := make([]SearchHit, 0, limit)
	for _, id := range ids {
		mt, err := s.lookup(id)
		if err != nil {
			continue
		}

		mt.mu.Lock()
		title := mt.thread.Title
		for _, m := range mt.messages {
			if !strings.Contains(strings.ToLower(m.Content), needle) {
				continue
			}
			hits = append(hits, SearchHit{
				ThreadID:    id,
				MessageID:   m.ID,
				Content:     m.Content,
				Role:        m.Role,
				Timestamp:   m.Timestamp,
				ThreadTitle: title,
			})
			if len(hits) >= limit {
				break
			}
		}
		mt.mu.Unlock()

		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

// AttachFeedback attaches a rating to the message, replacing any existing
// feedback. Unknown messages report ErrMessageNotFound.
func (s *MemoryStore) AttachFeedback(_ context.Context, threadID, messageID string, fb Feedback) error {
	if err := ValidateRating(fb.Rating); err != nil {
		return err
	}

	mt, err := s.lookup(threadID)
	if err != nil {
		return err
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()

	for _, m := range mt.messages {
		if m.ID == messageID {
			if fb.CreatedAt.IsZero() {
				fb.CreatedAt = s.now()
			}
			m.Feedback = &fb
			s.logger.Debug("attached feedback",
				"thread_id", threadID, "message_id", messageID, "rating", fb.Rating)
			return nil
		}
	}
	return ErrMessageNotFound
}

// Summary returns the thread's aggregate statistics.
func (s *MemoryStore) Summary(_ context.Context, threadID string) (*Summary, error) {
	mt, err := s.lookup(threadID)
	if err != nil {
		return nil, err
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()

	sum := &Summary{
		ThreadID:     mt.thread.ID,
		Title:        mt.thread.Title,
		CreatedAt:    mt.thread.CreatedAt,
		UpdatedAt:    mt.thread.UpdatedAt,
		MessageCount: len(mt.messages),
	}
	for _, m := range mt.messages {
		switch m.Role {
		case RoleUser:
			sum.UserMessages++
		case RoleAssistant:
			sum.AssistantMessages++
		}
	}
	if n := len(mt.messages); n > 0 {
		sum.LastMessagePreview = truncateRunes(mt.messages[n-1].Content, 100)
	}
	return sum, nil
}

// ExpireOlderThan sweeps threads whose UpdatedAt precedes the cutoff.
func (s *MemoryStore) ExpireOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := s.now().AddDate(0, 0, -days)

	s.mu.RLock()
	var stale []string
	for id, mt := range s.threads {
		mt.mu.Lock()
		if mt.thread.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
		mt.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, id := range stale {
		if err := s.DeleteThread(ctx, id); err != nil {
			return 0, err
		}
	}

	if len(stale) > 0 {
		s.logger.Info("expired stale threads", "count", len(stale), "cutoff", cutoff)
	}
	return len(stale), nil
}

// lookup fetches the thread holder under the map read lock.
func (s *MemoryStore) lookup(threadID string) (*memThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mt, exists := s.threads[threadID]
	if !exists {
		return nil, ErrThreadNotFound
	}
	return mt, nil
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
