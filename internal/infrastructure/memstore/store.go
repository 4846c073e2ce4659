// Package memstore is an in-process document store that emits change events
// the way the hosted document triggers do. It backs local runs and tests.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/ports"
)

type contentDoc struct {
	item    domain.ContentItem
	counted bool
}

// Store keeps every collection in maps guarded by one mutex.
type Store struct {
	mu        sync.Mutex
	content   map[string]*contentDoc
	users     map[string]domain.UserProfile
	threads   map[string]domain.Thread
	messages  map[string]domain.Message
	daily     map[string]domain.DailyContent
	config    map[string]string
	publisher ports.EventPublisher
	logger    *slog.Logger
}

var (
	_ ports.ContentRepository      = (*Store)(nil)
	_ ports.ConfigRepository       = (*Store)(nil)
	_ ports.UserRepository         = userView{}
	_ ports.ThreadRepository       = threadView{}
	_ ports.DailyContentRepository = dailyView{}
)

type userView struct{ *Store }

type threadView struct{ *Store }

type dailyView struct{ *Store }

// Users exposes the user profiles collection.
func (s *Store) Users() ports.UserRepository { return userView{s} }

// Threads exposes threads and their messages.
func (s *Store) Threads() ports.ThreadRepository { return threadView{s} }

// Daily exposes the daily content collection.
func (s *Store) Daily() ports.DailyContentRepository { return dailyView{s} }

// New builds an empty store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		content:  map[string]*contentDoc{},
		users:    map[string]domain.UserProfile{},
		threads:  map[string]domain.Thread{},
		messages: map[string]domain.Message{},
		daily:    map[string]domain.DailyContent{},
		config:   map[string]string{},
		logger:   logger,
	}
}

// SetPublisher routes change events to p. A nil publisher disables events.
func (s *Store) SetPublisher(p ports.EventPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

func (s *Store) emit(ctx context.Context, event domain.Event) {
	s.mu.Lock()
	p := s.publisher
	s.mu.Unlock()
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		s.logger.Error("publish change event", "type", event.Type, "event_id", event.ID, "error", err)
	}
}

// CreateContent writes a new content item the way the mobile client does and
// emits content.created. Missing ids and timestamps are filled in; a missing
// status is pending.
func (s *Store) CreateContent(ctx context.Context, item domain.ContentItem) (domain.ContentItem, error) {
	if item.Ref.ID == "" {
		item.Ref.ID = uuid.NewString()
	}
	if err := item.Ref.Validate(); err != nil {
		return domain.ContentItem{}, err
	}
	if item.Status == "" {
		item.Status = domain.StatusPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	key := item.Ref.String()
	if _, exists := s.content[key]; exists {
		s.mu.Unlock()
		return domain.ContentItem{}, fmt.Errorf("%s already exists", key)
	}
	if item.Ref.Kind.HasParent() {
		parent := parentRef(item.Ref)
		if _, ok := s.content[parent.String()]; !ok {
			s.mu.Unlock()
			return domain.ContentItem{}, fmt.Errorf("parent %s: %w", parent, domain.ErrNotFound)
		}
	}
	s.content[key] = &contentDoc{item: item}
	s.mu.Unlock()

	s.emit(ctx, domain.ContentCreated(item.Ref, item.Status))
	return item, nil
}

// Get returns a copy of the content item.
func (s *Store) Get(_ context.Context, ref domain.ContentRef) (domain.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.content[ref.String()]
	if !ok {
		return domain.ContentItem{}, fmt.Errorf("%s: %w", ref, domain.ErrNotFound)
	}
	return doc.item, nil
}

// Settle applies the terminal write only when the item is still pending and
// emits content.status_changed after a transition.
func (s *Store) Settle(ctx context.Context, ref domain.ContentRef, st domain.Settlement) (bool, error) {
	if !st.Status.Terminal() {
		return false, fmt.Errorf("settle %s: %s is not terminal", ref, st.Status)
	}

	s.mu.Lock()
	doc, ok := s.content[ref.String()]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%s: %w", ref, domain.ErrNotFound)
	}
	if doc.item.Status.Terminal() {
		s.mu.Unlock()
		return false, nil
	}

	previous := doc.item.Status
	doc.item.Status = st.Status
	doc.item.RejectionReason = st.Reason
	if st.InitUnreadEncouragements && ref.Kind == domain.KindPlea {
		doc.item.UnreadEncouragementCount = 0
	}
	if st.IncrementParentComments && ref.Kind == domain.KindComment {
		if parent, ok := s.content[parentRef(ref).String()]; ok {
			parent.item.CommentCount++
		}
	}
	s.mu.Unlock()

	s.emit(ctx, domain.StatusChanged(ref, previous, st.Status))
	return true, nil
}

// MarkEncouragementCounted increments the parent plea once per approved encouragement.
func (s *Store) MarkEncouragementCounted(_ context.Context, ref domain.ContentRef) (bool, error) {
	if ref.Kind != domain.KindEncouragement {
		return false, fmt.Errorf("%s is not an encouragement", ref)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.content[ref.String()]
	if !ok {
		return false, fmt.Errorf("%s: %w", ref, domain.ErrNotFound)
	}
	if doc.counted || doc.item.Status != domain.StatusApproved {
		return false, nil
	}
	plea, ok := s.content[parentRef(ref).String()]
	if !ok {
		return false, fmt.Errorf("plea %s: %w", ref.ParentID, domain.ErrNotFound)
	}
	doc.counted = true
	plea.item.UnreadEncouragementCount++
	return true, nil
}

func parentRef(ref domain.ContentRef) domain.ContentRef {
	switch ref.Kind {
	case domain.KindEncouragement:
		return domain.ContentRef{Kind: domain.KindPlea, ID: ref.ParentID}
	case domain.KindComment:
		return domain.ContentRef{Kind: domain.KindPost, ID: ref.ParentID}
	}
	return domain.ContentRef{}
}

// Users

// RegisterPushToken merges the token into the profile, creating it with
// default preferences when absent.
func (s *Store) RegisterPushToken(_ context.Context, userID, token string) error {
	if userID == "" {
		return fmt.Errorf("register push token: empty user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.users[userID]
	if !ok {
		profile = domain.UserProfile{UserID: userID, Preferences: domain.DefaultPreferences()}
	}
	profile.PushToken = strings.TrimSpace(token)
	s.users[userID] = profile
	return nil
}

// UpdatePreferences replaces the flags, creating the profile when absent.
func (s *Store) UpdatePreferences(_ context.Context, userID string, prefs domain.NotificationPreferences) error {
	if userID == "" {
		return fmt.Errorf("update preferences: empty user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := s.users[userID]
	profile.UserID = userID
	profile.Preferences = prefs
	s.users[userID] = profile
	return nil
}

func (v userView) Get(_ context.Context, userID string) (domain.UserProfile, error) {
	s := v.Store
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.users[userID]
	if !ok {
		return domain.UserProfile{}, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	return profile, nil
}

// ListPleaAudience returns opted-in users with a token, sorted by id.
func (s *Store) ListPleaAudience(_ context.Context, excludeUserID string) ([]domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.UserProfile
	for id, p := range s.users {
		if id == excludeUserID || p.PushToken == "" || !p.Preferences.Pleas {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Threads

// PutThread stores a thread.
func (s *Store) PutThread(thread domain.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[thread.ID] = thread
}

// CreateMessage stores a message and emits message.created.
func (s *Store) CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	if _, ok := s.threads[msg.ThreadID]; !ok {
		s.mu.Unlock()
		return domain.Message{}, fmt.Errorf("thread %s: %w", msg.ThreadID, domain.ErrNotFound)
	}
	s.messages[msg.ThreadID+"/"+msg.ID] = msg
	s.mu.Unlock()

	s.emit(ctx, domain.MessageCreated(msg.ThreadID, msg.ID))
	return msg, nil
}

func (v threadView) Get(_ context.Context, threadID string) (domain.Thread, error) {
	s := v.Store
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return domain.Thread{}, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return t, nil
}

// GetMessage returns one message of a thread.
func (s *Store) GetMessage(_ context.Context, threadID, messageID string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[threadID+"/"+messageID]
	if !ok {
		return domain.Message{}, fmt.Errorf("message %s/%s: %w", threadID, messageID, domain.ErrNotFound)
	}
	return m, nil
}

// Daily content

// Recent returns up to limit records, newest date first.
func (s *Store) Recent(_ context.Context, limit int) ([]domain.DailyContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.DailyContent, 0, len(s.daily))
	for _, d := range s.daily {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Upsert replaces the record for content.Date.
func (s *Store) Upsert(_ context.Context, content domain.DailyContent) error {
	if _, err := time.Parse(domain.DateLayout, content.Date); err != nil {
		return fmt.Errorf("daily content date %q: %w", content.Date, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.daily[content.Date] = content
	return nil
}

func (v dailyView) Get(_ context.Context, date string) (domain.DailyContent, error) {
	s := v.Store
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.daily[date]
	if !ok {
		return domain.DailyContent{}, fmt.Errorf("daily content %s: %w", date, domain.ErrNotFound)
	}
	return d, nil
}

// DailyCount reports how many dates have content.
func (s *Store) DailyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.daily)
}

// Config

// GetText returns a config document.
func (s *Store) GetText(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.config[key]
	if !ok {
		return "", fmt.Errorf("config %s: %w", key, domain.ErrNotFound)
	}
	return v, nil
}

// PutText replaces a config document.
func (s *Store) PutText(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}
