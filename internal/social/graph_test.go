package social

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegram/backend/internal/models"
	"github.com/pulsegram/backend/internal/notifications"
	"github.com/pulsegram/backend/internal/repositories"
)

type pairKey struct{ follower, followee string }

type memoryEdges struct {
	mu    sync.Mutex
	edges map[pairKey]models.FollowEdge

	// conflictOnce makes the next Toggle behave as if another writer won the insert.
	conflictOnce bool
}

func newMemoryEdges() *memoryEdges {
	return &memoryEdges{edges: make(map[pairKey]models.FollowEdge)}
}

func (s *memoryEdges) Toggle(_ context.Context, edge models.FollowEdge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{edge.FollowerID, edge.FolloweeID}
	if s.conflictOnce {
		s.conflictOnce = false
		s.edges[key] = edge
		return false, repositories.ErrConflict
	}
	if _, ok := s.edges[key]; ok {
		delete(s.edges, key)
		return false, nil
	}
	s.edges[key] = edge
	return true, nil
}

func (s *memoryEdges) Delete(_ context.Context, followerID, followeeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{followerID, followeeID}
	_, ok := s.edges[key]
	delete(s.edges, key)
	return ok, nil
}

func (s *memoryEdges) Get(_ context.Context, followerID, followeeID string) (models.FollowEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edge, ok := s.edges[pairKey{followerID, followeeID}]
	if !ok {
		return models.FollowEdge{}, repositories.ErrNotFound
	}
	return edge, nil
}

func (s *memoryEdges) Accept(_ context.Context, followerID, followeeID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{followerID, followeeID}
	edge, ok := s.edges[key]
	if !ok || edge.Status != models.FollowPending {
		return false, nil
	}
	edge.Status = models.FollowAccepted
	edge.RespondedAt = &at
	s.edges[key] = edge
	return true, nil
}

func (s *memoryEdges) DeletePending(_ context.Context, followerID, followeeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{followerID, followeeID}
	edge, ok := s.edges[key]
	if !ok || edge.Status != models.FollowPending {
		return false, nil
	}
	delete(s.edges, key)
	return true, nil
}

func (s *memoryEdges) list(match func(models.FollowEdge) bool) []models.FollowEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FollowEdge
	for _, edge := range s.edges {
		if match(edge) {
			out = append(out, edge)
		}
	}
	return out
}

func (s *memoryEdges) ListFollowers(_ context.Context, accountID string) ([]models.FollowEdge, error) {
	return s.list(func(e models.FollowEdge) bool {
		return e.FolloweeID == accountID && e.Status == models.FollowAccepted
	}), nil
}

func (s *memoryEdges) ListFollowing(_ context.Context, accountID string) ([]models.FollowEdge, error) {
	return s.list(func(e models.FollowEdge) bool {
		return e.FollowerID == accountID && e.Status == models.FollowAccepted
	}), nil
}

func (s *memoryEdges) ListPending(_ context.Context, followeeID string) ([]models.FollowEdge, error) {
	return s.list(func(e models.FollowEdge) bool {
		return e.FolloweeID == followeeID && e.Status == models.FollowPending
	}), nil
}

type memoryAccounts map[string]models.Account

func (m memoryAccounts) Get(_ context.Context, id string) (models.Account, error) {
	acct, ok := m[id]
	if !ok {
		return models.Account{}, repositories.ErrNotFound
	}
	return acct, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev notifications.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ev.RecipientID == ev.ActorID {
		return nil
	}
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) kinds() []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.NotificationKind
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestGraph() (*Graph, *memoryEdges, *recordingNotifier) {
	edges := newMemoryEdges()
	accounts := memoryAccounts{
		"alice":   {ID: "alice"},
		"bob":     {ID: "bob"},
		"private": {ID: "private", Private: true},
		"banned":  {ID: "banned", Suspended: true},
	}
	notifier := &recordingNotifier{}
	return NewGraph(edges, accounts, notifier, nil), edges, notifier
}

func TestRequestFollowPublicAccountToggles(t *testing.T) {
	ctx := context.Background()
	graph, _, notifier := newTestGraph()

	status, err := graph.RequestFollow(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.FollowAccepted, status)

	following, err := graph.IsFollowing(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, following)

	status, err = graph.RequestFollow(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.FollowUnfollowed, status)

	following, err = graph.IsFollowing(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, following)

	assert.Equal(t, []models.NotificationKind{models.NotificationFollow}, notifier.kinds())
}

func TestRequestFollowPrivateAccountThenAccept(t *testing.T) {
	ctx := context.Background()
	graph, _, notifier := newTestGraph()

	status, err := graph.RequestFollow(ctx, "alice", "private")
	require.NoError(t, err)
	assert.Equal(t, models.FollowPending, status)

	following, err := graph.IsFollowing(ctx, "alice", "private")
	require.NoError(t, err)
	assert.False(t, following, "pending edges do not count")

	pending, err := graph.PendingRequests(ctx, "private")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].FollowerID)

	require.NoError(t, graph.Respond(ctx, "alice", "private", DecisionAccept))

	following, err = graph.IsFollowing(ctx, "alice", "private")
	require.NoError(t, err)
	assert.True(t, following)

	followers, err := graph.Followers(ctx, "private")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, followers)

	assert.Equal(t, []models.NotificationKind{
		models.NotificationFollowRequest,
		models.NotificationFollow,
	}, notifier.kinds())

	require.NoError(t, graph.Respond(ctx, "alice", "private", DecisionAccept))
	assert.Len(t, notifier.kinds(), 2, "accepting twice changes nothing")
}

func TestRespondRejectDeletesPendingOnly(t *testing.T) {
	ctx := context.Background()
	graph, edges, notifier := newTestGraph()

	_, err := graph.RequestFollow(ctx, "alice", "private")
	require.NoError(t, err)
	require.NoError(t, graph.Respond(ctx, "alice", "private", DecisionReject))

	_, err = edges.Get(ctx, "alice", "private")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	_, err = graph.RequestFollow(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, graph.Respond(ctx, "alice", "bob", DecisionReject))

	following, err := graph.IsFollowing(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, following, "reject leaves accepted edges alone")

	assert.Equal(t, []models.NotificationKind{
		models.NotificationFollowRequest,
		models.NotificationFollow,
	}, notifier.kinds())
}

func TestPendingRequestCanBeWithdrawn(t *testing.T) {
	ctx := context.Background()
	graph, _, _ := newTestGraph()

	_, err := graph.RequestFollow(ctx, "alice", "private")
	require.NoError(t, err)

	status, err := graph.RequestFollow(ctx, "alice", "private")
	require.NoError(t, err)
	assert.Equal(t, models.FollowUnfollowed, status)

	pending, err := graph.PendingRequests(ctx, "private")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRequestFollowValidation(t *testing.T) {
	ctx := context.Background()
	graph, edges, notifier := newTestGraph()

	_, err := graph.RequestFollow(ctx, "alice", "alice")
	assert.ErrorIs(t, err, ErrSelfFollow)

	_, err = graph.RequestFollow(ctx, "alice", "ghost")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	_, err = graph.RequestFollow(ctx, "alice", "banned")
	assert.ErrorIs(t, err, ErrAccountSuspended)

	_, err = graph.RequestFollow(ctx, "", "bob")
	assert.ErrorIs(t, err, ErrMissingAccount)

	assert.Empty(t, edges.edges)
	assert.Empty(t, notifier.kinds())
}

func TestRespondRejectsUnknownDecision(t *testing.T) {
	graph, _, _ := newTestGraph()
	err := graph.Respond(context.Background(), "alice", "private", Decision("maybe"))
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestConcurrentInsertConflictBecomesUnfollow(t *testing.T) {
	ctx := context.Background()
	graph, edges, notifier := newTestGraph()
	edges.conflictOnce = true

	status, err := graph.RequestFollow(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.FollowUnfollowed, status)

	_, err = edges.Get(ctx, "alice", "bob")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.Empty(t, notifier.kinds())
}

func TestNotifierFailureDoesNotFailFollow(t *testing.T) {
	graph, _, notifier := newTestGraph()
	notifier.err = errors.New("notification store down")

	status, err := graph.RequestFollow(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.FollowAccepted, status)
}

func TestConcurrentTogglesKeepSingleEdge(t *testing.T) {
	ctx := context.Background()
	graph, edges, _ := newTestGraph()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := graph.RequestFollow(ctx, "alice", "bob")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Empty(t, edges.edges, "an even number of toggles leaves no edge")
}

func TestCanView(t *testing.T) {
	ctx := context.Background()
	graph, _, _ := newTestGraph()

	ok, err := graph.CanView(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = graph.CanView(ctx, "alice", "private")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = graph.CanView(ctx, "private", "private")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = graph.RequestFollow(ctx, "alice", "private")
	require.NoError(t, err)
	require.NoError(t, graph.Respond(ctx, "alice", "private", DecisionAccept))

	ok, err = graph.CanView(ctx, "alice", "private")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("accept")
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, d)

	_, err = ParseDecision("ACCEPT")
	assert.ErrorIs(t, err, ErrInvalidDecision)
}
