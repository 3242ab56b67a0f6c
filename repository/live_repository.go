package repository

import (
	"context"
	"errors"
	"strings"

	"social-service/docstore"
	"social-service/model"
)

type LiveSessionRepository interface {
	StartSession(ctx context.Context, input models.LiveSessionInput) (*models.LiveSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.LiveSession, error)
	ListActiveSessions(ctx context.Context) ([]models.LiveSession, error)
	EndSession(ctx context.Context, sessionID string) error
	WatchActiveSessions(ctx context.Context, onSnapshot func([]models.LiveSession), onError func(error)) (docstore.Unsubscribe, error)
}

type liveSessionRepository struct {
	store docstore.Store
	opts  options
}

func NewLiveSessionRepository(store docstore.Store, opts ...Option) LiveSessionRepository {
	return &liveSessionRepository{store: store, opts: buildOptions(opts)}
}

func (r *liveSessionRepository) StartSession(ctx context.Context, input models.LiveSessionInput) (*models.LiveSession, error) {
	if input.UserID == "" {
		return nil, invalid("userId", "is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, invalid("title", "cannot be empty")
	}

	session := &models.LiveSession{
		ID:              docstore.NewID(),
		UserID:          input.UserID,
		UserDisplayName: strings.TrimSpace(input.DisplayName),
		UserAvatarURL:   input.AvatarURL,
		Title:           title,
		Thumbnail:       input.Thumbnail,
		Timestamp:       r.opts.clock.Now(),
	}
	if session.UserDisplayName == "" {
		session.UserDisplayName = models.DefaultDisplayName
	}
	if session.UserAvatarURL == "" {
		session.UserAvatarURL = models.DefaultPhotoURL
	}
	if session.Thumbnail == "" {
		session.Thumbnail = models.DefaultThumbnail
	}
	session.Viewers = r.opts.viewers.Viewers(ctx, session.ID)

	data, err := docstore.FromStruct(session)
	if err != nil {
		return nil, err
	}
	if err := r.store.Commit(ctx, docstore.NewBatch().Create(liveSessionsCollection, session.ID, data)); err != nil {
		return nil, mapStoreError(err)
	}
	return session, nil
}

func (r *liveSessionRepository) GetSession(ctx context.Context, sessionID string) (*models.LiveSession, error) {
	doc, err := r.store.Get(ctx, liveSessionsCollection, sessionID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, mapStoreError(err)
	}
	return decodeSession(*doc)
}

func (r *liveSessionRepository) activeQuery() docstore.Query {
	return docstore.From(liveSessionsCollection).OrderBy("timestamp", docstore.Desc)
}

func (r *liveSessionRepository) ListActiveSessions(ctx context.Context) ([]models.LiveSession, error) {
	docs, err := r.store.Query(ctx, r.activeQuery())
	if err != nil {
		return nil, mapStoreError(err)
	}
	sessions := make([]models.LiveSession, 0, len(docs))
	for _, d := range docs {
		s, err := decodeSession(d)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

// EndSession removes the session. Ending an unknown session is not an error.
func (r *liveSessionRepository) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return invalid("sessionId", "is required")
	}
	return mapStoreError(r.store.Delete(ctx, liveSessionsCollection, sessionID))
}

func (r *liveSessionRepository) WatchActiveSessions(ctx context.Context, onSnapshot func([]models.LiveSession), onError func(error)) (docstore.Unsubscribe, error) {
	return watch(ctx, r.store, r.activeQuery(), func(d docstore.Document) (models.LiveSession, error) {
		s, err := decodeSession(d)
		if err != nil {
			return models.LiveSession{}, err
		}
		return *s, nil
	}, onSnapshot, onError)
}

func decodeSession(doc docstore.Document) (*models.LiveSession, error) {
	var s models.LiveSession
	if err := doc.DataTo(&s); err != nil {
		return nil, err
	}
	s.ID = doc.ID
	return &s, nil
}
