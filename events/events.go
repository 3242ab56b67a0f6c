package events

import (
	"time"
)

const (
	UserCreated    = "user.created"
	UserFollowed   = "user.followed"
	UserUnfollowed = "user.unfollowed"
	PostCreated    = "post.created"
	PostLiked      = "post.liked"
	PostUnliked    = "post.unliked"
	CommentAdded   = "post.comment.added"
	MessageSent    = "message.sent"
	LiveStarted    = "live.started"
	LiveEnded      = "live.ended"
)

// Subjects lists every subject published, for stream configuration.
var Subjects = []string{"user.>", "post.>", "message.>", "live.>"}

// Event payloads
type UserCreatedEvent struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type FollowEvent struct {
	FollowerID  string    `json:"follower_id"`
	FollowingID string    `json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type PostCreatedEvent struct {
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type PostLikedEvent struct {
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type CommentAddedEvent struct {
	CommentID string    `json:"comment_id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type MessageSentEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientIDs   []string  `json:"recipient_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

type LiveSessionEvent struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
