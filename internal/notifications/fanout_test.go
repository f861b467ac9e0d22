package notifications

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegram/backend/internal/events"
	"github.com/pulsegram/backend/internal/models"
	"github.com/pulsegram/backend/internal/repositories"
)

type memoryStore struct {
	mu         sync.Mutex
	items      []models.Notification
	known      map[string]bool
	createErr  error
	createHits int
}

func newMemoryStore(accounts ...string) *memoryStore {
	known := make(map[string]bool)
	for _, id := range accounts {
		known[id] = true
	}
	return &memoryStore{known: known}
}

func (s *memoryStore) Create(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createHits++
	if s.createErr != nil {
		return s.createErr
	}
	if !s.known[n.RecipientID] {
		return repositories.ErrNotFound
	}
	s.items = append(s.items, n)
	return nil
}

func (s *memoryStore) ListForRecipient(_ context.Context, recipientID string, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.items {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) CountUnread(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, item := range s.items {
		if item.RecipientID == recipientID && !item.Read {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.items {
		if s.items[i].RecipientID == recipientID && !s.items[i].Read {
			s.items[i].Read = true
			n++
		}
	}
	return n, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return p.err
}

func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func TestNotifySkipsSelfEvents(t *testing.T) {
	store := newMemoryStore("alice")
	fanout := NewFanout(store)

	err := fanout.Notify(context.Background(), Event{RecipientID: "alice", ActorID: "alice", Kind: models.NotificationLike})
	require.NoError(t, err)
	assert.Equal(t, 0, store.createHits)
}

func TestNotifyCountsEveryQualifyingEvent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore("alice")
	pub := &recordingPublisher{}
	fanout := NewFanout(store, WithPublisher(pub), WithClock(steppingClock(time.Unix(0, 0))))

	for i := 0; i < 3; i++ {
		require.NoError(t, fanout.Notify(ctx, Event{RecipientID: "alice", ActorID: "bob", Kind: models.NotificationLike, ContentRef: "post-1"}))
	}
	require.NoError(t, fanout.Notify(ctx, Event{RecipientID: "alice", ActorID: "carol", Kind: models.NotificationComment, ContentRef: "post-1"}))

	unread, err := fanout.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 4, unread)
	assert.Len(t, pub.subjects, 4)
	assert.Equal(t, events.NotificationSubject("alice"), pub.subjects[0])

	list, err := fanout.List(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, models.NotificationComment, list[0].Kind, "newest first")
	assert.False(t, list[0].Read)
}

func TestNotifyIgnoresMissingRecipient(t *testing.T) {
	store := newMemoryStore()
	fanout := NewFanout(store)

	err := fanout.Notify(context.Background(), Event{RecipientID: "ghost", ActorID: "bob", Kind: models.NotificationFollow})
	assert.NoError(t, err)
}

func TestNotifyPropagatesStoreFailure(t *testing.T) {
	store := newMemoryStore("alice")
	store.createErr = errors.New("db down")
	fanout := NewFanout(store)

	err := fanout.Notify(context.Background(), Event{RecipientID: "alice", ActorID: "bob", Kind: models.NotificationFollow})
	assert.Error(t, err)
}

func TestNotifyToleratesPublishFailure(t *testing.T) {
	store := newMemoryStore("alice")
	fanout := NewFanout(store, WithPublisher(&recordingPublisher{err: errors.New("bus down")}))

	err := fanout.Notify(context.Background(), Event{RecipientID: "alice", ActorID: "bob", Kind: models.NotificationFollowRequest})
	require.NoError(t, err)
	assert.Len(t, store.items, 1)
}

func TestMarkAllReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore("alice")
	fanout := NewFanout(store)

	for i := 0; i < 2; i++ {
		require.NoError(t, fanout.Notify(ctx, Event{RecipientID: "alice", ActorID: "bob", Kind: models.NotificationLike}))
	}

	updated, err := fanout.MarkAllRead(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated)

	updated, err = fanout.MarkAllRead(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 0, updated)

	unread, err := fanout.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 0, unread)

	list, err := fanout.List(ctx, "alice", 10)
	require.NoError(t, err)
	for _, n := range list {
		assert.True(t, n.Read)
	}
}
