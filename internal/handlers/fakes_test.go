package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/pulsegram/backend/internal/models"
	"github.com/pulsegram/backend/internal/social"
)

type fakeGraph struct {
	mu        sync.Mutex
	status    models.FollowStatus
	err       error
	responded []social.Decision
	followers map[string][]string
	pending   []models.FollowEdge
}

func (g *fakeGraph) RequestFollow(_ context.Context, followerID, followeeID string) (models.FollowStatus, error) {
	if followerID == followeeID {
		return "", social.ErrSelfFollow
	}
	return g.status, g.err
}

func (g *fakeGraph) Respond(_ context.Context, _, _ string, decision social.Decision) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responded = append(g.responded, decision)
	return g.err
}

func (g *fakeGraph) Followers(_ context.Context, accountID string) ([]string, error) {
	return g.followers[accountID], g.err
}

func (g *fakeGraph) Following(context.Context, string) ([]string, error) {
	return nil, g.err
}

func (g *fakeGraph) PendingRequests(context.Context, string) ([]models.FollowEdge, error) {
	return g.pending, g.err
}

type fakeEngagement struct {
	liked    bool
	comments []models.Comment
	err      error
}

func (e *fakeEngagement) CreatePost(_ context.Context, authorID, content string) (models.Post, error) {
	return models.Post{ID: "post-1", AuthorID: authorID, Content: content}, e.err
}

func (e *fakeEngagement) ToggleLike(context.Context, string, string) (bool, error) {
	return e.liked, e.err
}

func (e *fakeEngagement) Comment(_ context.Context, postID, accountID, content string) (models.Comment, error) {
	return models.Comment{ID: "comment-1", PostID: postID, AuthorID: accountID, Content: content}, e.err
}

func (e *fakeEngagement) ListComments(context.Context, string, string) ([]models.Comment, error) {
	return e.comments, e.err
}

type fakeFeed struct {
	items  []models.Notification
	unread int64
	marked []string
}

func (f *fakeFeed) List(_ context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit > 0 && limit < len(f.items) {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func (f *fakeFeed) UnreadCount(context.Context, string) (int64, error) {
	return f.unread, nil
}

func (f *fakeFeed) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	f.marked = append(f.marked, recipientID)
	n := f.unread
	f.unread = 0
	return n, nil
}

type fakeConversations struct {
	msgs      []models.Message
	updated   int64
	lastLimit int
}

func (c *fakeConversations) History(_ context.Context, _, _ string, limit int) ([]models.Message, error) {
	c.lastLimit = limit
	return c.msgs, nil
}

func (c *fakeConversations) MarkConversationRead(context.Context, string, string) (int64, error) {
	return c.updated, nil
}

type recordingCache struct {
	invalidated []string
}

func (c *recordingCache) Invalidate(id string) {
	c.invalidated = append(c.invalidated, id)
}

type tokenTable map[string]string

func (t tokenTable) Verify(token string) (string, error) {
	if id, ok := t[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func newTestMux(deps Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return mux
}
