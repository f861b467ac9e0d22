package models

import "time"

// Account represents a member of the pulsegram platform.
type Account struct {
	ID           string    `json:"id"`
	Handle       string    `json:"handle"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Private      bool      `json:"private"`
	Verified     bool      `json:"verified"`
	Suspended    bool      `json:"suspended"`
	Admin        bool      `json:"-"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FollowStatus is the state of a follow edge, or the outcome of a toggle.
type FollowStatus string

const (
	FollowPending  FollowStatus = "pending"
	FollowAccepted FollowStatus = "accepted"
	// FollowUnfollowed is only ever returned as a toggle outcome; it is never stored.
	FollowUnfollowed FollowStatus = "unfollowed"
)

// FollowEdge is a directed relationship from follower to followee.
type FollowEdge struct {
	FollowerID  string       `json:"follower_id"`
	FolloweeID  string       `json:"following_id"`
	Status      FollowStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	RespondedAt *time.Time   `json:"responded_at,omitempty"`
}

// NotificationKind enumerates the events that produce notifications.
type NotificationKind string

const (
	NotificationLike          NotificationKind = "like"
	NotificationComment       NotificationKind = "comment"
	NotificationFollow        NotificationKind = "follow"
	NotificationFollowRequest NotificationKind = "follow_request"
)

// Notification is a per-recipient record of a social or content event.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	ActorID     string           `json:"actor_id"`
	Kind        NotificationKind `json:"type"`
	ContentRef  string           `json:"content_ref,omitempty"`
	Read        bool             `json:"is_read"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Message is a direct message between two accounts. Only Read ever changes.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"receiver_id"`
	Content     string    `json:"content"`
	Read        bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
	Seq         int64     `json:"seq"`
}

// Post is a piece of feed content that can be liked and commented on.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is a reply attached to a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionTokens groups the bearer credentials issued to authenticated accounts.
type SessionTokens struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
