package publisher

import (
	"time"

	"go.uber.org/zap"

	"social-service/events"
)

// Sink delivers an encoded event to a subject. *nats.Client is one.
type Sink interface {
	Publish(subject string, data interface{}) error
}

type discard struct{}

func (discard) Publish(string, interface{}) error { return nil }

// Discard drops every event; used when no broker is configured.
var Discard Sink = discard{}

// EventPublisher announces successful writes. Publishing is best effort:
// the write has already happened, so failures are logged and returned for
// the caller to ignore or surface.
type EventPublisher struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

func NewEventPublisher(sink Sink, logger *zap.Logger) *EventPublisher {
	if sink == nil {
		sink = Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{sink: sink, logger: logger, now: time.Now}
}

func (p *EventPublisher) publish(subject, key string, event interface{}) error {
	if err := p.sink.Publish(subject, event); err != nil {
		p.logger.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.String("id", key),
			zap.Error(err),
		)
		return err
	}

	p.logger.Debug("Published event", zap.String("subject", subject), zap.String("id", key))
	return nil
}

func (p *EventPublisher) PublishUserCreated(userID, username string) error {
	return p.publish(events.UserCreated, userID, events.UserCreatedEvent{
		UserID:    userID,
		Username:  username,
		CreatedAt: p.now(),
	})
}

func (p *EventPublisher) PublishFollow(followerID, followingID string, follow bool) error {
	subject := events.UserFollowed
	if !follow {
		subject = events.UserUnfollowed
	}
	return p.publish(subject, followingID, events.FollowEvent{
		FollowerID:  followerID,
		FollowingID: followingID,
		CreatedAt:   p.now(),
	})
}

func (p *EventPublisher) PublishPostCreated(event events.PostCreatedEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = p.now()
	}
	return p.publish(events.PostCreated, event.PostID, event)
}

func (p *EventPublisher) PublishPostLiked(postID, userID string, liked bool) error {
	subject := events.PostLiked
	if !liked {
		subject = events.PostUnliked
	}
	return p.publish(subject, postID, events.PostLikedEvent{
		PostID:    postID,
		UserID:    userID,
		CreatedAt: p.now(),
	})
}

func (p *EventPublisher) PublishCommentAdded(event events.CommentAddedEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = p.now()
	}
	return p.publish(events.CommentAdded, event.CommentID, event)
}

func (p *EventPublisher) PublishMessageSent(event events.MessageSentEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = p.now()
	}
	return p.publish(events.MessageSent, event.MessageID, event)
}

func (p *EventPublisher) PublishLiveStarted(event events.LiveSessionEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = p.now()
	}
	return p.publish(events.LiveStarted, event.SessionID, event)
}

func (p *EventPublisher) PublishLiveEnded(sessionID string) error {
	return p.publish(events.LiveEnded, sessionID, events.LiveSessionEvent{
		SessionID: sessionID,
		CreatedAt: p.now(),
	})
}
