package handlers

import (
	"context"
	"time"

	"github.com/pulsegram/backend/internal/models"
	"github.com/pulsegram/backend/internal/social"
)

// AccountStore captures the persistence operations required by the auth and
// account handlers.
type AccountStore interface {
	Create(ctx context.Context, account models.Account) error
	FindByEmail(ctx context.Context, email string) (models.Account, error)
	FindByHandle(ctx context.Context, handle string) (models.Account, error)
	SetPrivate(ctx context.Context, id string, private bool, at time.Time) error
}

// SessionManager issues and refreshes authentication tokens for accounts.
type SessionManager interface {
	Issue(ctx context.Context, accountID string) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
}

// FollowGraph applies follow transitions.
type FollowGraph interface {
	RequestFollow(ctx context.Context, followerID, followeeID string) (models.FollowStatus, error)
	Respond(ctx context.Context, followerID, followeeID string, decision social.Decision) error
	Followers(ctx context.Context, accountID string) ([]string, error)
	Following(ctx context.Context, accountID string) ([]string, error)
	PendingRequests(ctx context.Context, accountID string) ([]models.FollowEdge, error)
}

// Engagement creates posts and applies likes and comments.
type Engagement interface {
	CreatePost(ctx context.Context, authorID, content string) (models.Post, error)
	ToggleLike(ctx context.Context, postID, accountID string) (bool, error)
	Comment(ctx context.Context, postID, accountID, content string) (models.Comment, error)
	ListComments(ctx context.Context, postID, viewerID string) ([]models.Comment, error)
}

// NotificationFeed reads and acknowledges notifications.
type NotificationFeed interface {
	List(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

// Conversations reads message history and read receipts.
type Conversations interface {
	History(ctx context.Context, a, b string, limit int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, readerID, peerID string) (int64, error)
}

// AccountCache drops cached account records after a write.
type AccountCache interface {
	Invalidate(id string)
}

// PresenceCounter reports how many accounts are online.
type PresenceCounter interface {
	Count() int
}
