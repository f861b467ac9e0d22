// Package engagement handles posts and the likes and comments attached to them.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegram/backend/internal/keylock"
	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/models"
	"github.com/pulsegram/backend/internal/notifications"
)

var (
	// ErrEmptyContent is returned for posts or comments without visible text.
	ErrEmptyContent = errors.New("content is required")
	// ErrForbidden is returned when the account may not see the post.
	ErrForbidden = errors.New("post is not visible to this account")
)

// PostStore persists posts.
type PostStore interface {
	Create(ctx context.Context, post models.Post) error
	Get(ctx context.Context, id string) (models.Post, error)
}

// LikeStore persists likes. Toggle removes an existing like or adds one and
// reports whether the account now likes the post.
type LikeStore interface {
	Toggle(ctx context.Context, postID, accountID string, at time.Time) (bool, error)
}

// CommentStore persists comments. ListForPost returns them oldest first.
type CommentStore interface {
	Create(ctx context.Context, comment models.Comment) error
	ListForPost(ctx context.Context, postID string) ([]models.Comment, error)
}

// Visibility decides whether a viewer may interact with an owner's content.
type Visibility interface {
	CanView(ctx context.Context, viewerID, ownerID string) (bool, error)
}

// Notifier receives like and comment events.
type Notifier interface {
	Notify(ctx context.Context, ev notifications.Event) error
}

// Service coordinates posts, likes and comments. Build it with NewService.
type Service struct {
	Posts      PostStore
	Likes      LikeStore
	Comments   CommentStore
	Visibility Visibility
	Notifier   Notifier
	NowFunc    func() time.Time

	locks *keylock.Locker
}

// NewService wires a Service.
func NewService(posts PostStore, likes LikeStore, comments CommentStore, visibility Visibility, notifier Notifier) *Service {
	return &Service{
		Posts:      posts,
		Likes:      likes,
		Comments:   comments,
		Visibility: visibility,
		Notifier:   notifier,
		locks:      keylock.New(),
	}
}

// CreatePost stores a new post authored by authorID.
func (s *Service) CreatePost(ctx context.Context, authorID, content string) (models.Post, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Post{}, ErrEmptyContent
	}
	post := models.Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.Posts.Create(ctx, post); err != nil {
		return models.Post{}, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}

// ToggleLike likes or unlikes the post for accountID. A new like notifies the
// post's author.
func (s *Service) ToggleLike(ctx context.Context, postID, accountID string) (bool, error) {
	post, err := s.visiblePost(ctx, postID, accountID)
	if err != nil {
		return false, err
	}

	unlock := s.locks.Lock(keylock.Pair(accountID, postID))
	defer unlock()

	liked, err := s.Likes.Toggle(ctx, postID, accountID, s.now())
	if err != nil {
		return false, fmt.Errorf("toggle like: %w", err)
	}
	if liked {
		s.notify(ctx, notifications.Event{
			RecipientID: post.AuthorID,
			ActorID:     accountID,
			Kind:        models.NotificationLike,
			ContentRef:  post.ID,
		})
	}
	return liked, nil
}

// Comment adds a comment to the post and notifies its author.
func (s *Service) Comment(ctx context.Context, postID, accountID, content string) (models.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Comment{}, ErrEmptyContent
	}

	post, err := s.visiblePost(ctx, postID, accountID)
	if err != nil {
		return models.Comment{}, err
	}

	comment := models.Comment{
		ID:        uuid.NewString(),
		PostID:    post.ID,
		AuthorID:  accountID,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.Comments.Create(ctx, comment); err != nil {
		return models.Comment{}, fmt.Errorf("create comment: %w", err)
	}

	s.notify(ctx, notifications.Event{
		RecipientID: post.AuthorID,
		ActorID:     accountID,
		Kind:        models.NotificationComment,
		ContentRef:  post.ID,
	})
	return comment, nil
}

// ListComments returns the post's comments when viewerID may see the post.
func (s *Service) ListComments(ctx context.Context, postID, viewerID string) ([]models.Comment, error) {
	post, err := s.visiblePost(ctx, postID, viewerID)
	if err != nil {
		return nil, err
	}
	comments, err := s.Comments.ListForPost(ctx, post.ID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

func (s *Service) visiblePost(ctx context.Context, postID, accountID string) (models.Post, error) {
	post, err := s.Posts.Get(ctx, postID)
	if err != nil {
		return models.Post{}, fmt.Errorf("load post: %w", err)
	}
	if s.Visibility == nil {
		return post, nil
	}
	ok, err := s.Visibility.CanView(ctx, accountID, post.AuthorID)
	if err != nil {
		return models.Post{}, fmt.Errorf("check visibility: %w", err)
	}
	if !ok {
		return models.Post{}, ErrForbidden
	}
	return post, nil
}

func (s *Service) notify(ctx context.Context, ev notifications.Event) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, ev); err != nil {
		logging.FromContext(ctx).Error("engagement notification failed", "kind", ev.Kind, "recipient_id", ev.RecipientID, "error", err)
	}
}

func (s *Service) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now().UTC()
}
