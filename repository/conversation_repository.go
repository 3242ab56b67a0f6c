package repository

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"social-service/docstore"
	"social-service/model"
)

const (
	maxMessageLength  = 2000
	lookupConcurrency = 8
)

type ConversationRepository interface {
	CreateConversation(ctx context.Context, conversationID, participantA, participantB string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error)
	WatchConversations(ctx context.Context, userID string, onSnapshot func([]models.Conversation), onError func(error)) (docstore.Unsubscribe, error)
	WatchMessages(ctx context.Context, conversationID string, onSnapshot func([]models.Message), onError func(error)) (docstore.Unsubscribe, error)
}

type conversationRepository struct {
	store    docstore.Store
	profiles ProfileLookup
	opts     options
}

// NewConversationRepository resolves participant summaries through profiles.
// A nil lookup leaves the stored summaries as they are.
func NewConversationRepository(store docstore.Store, profiles ProfileLookup, opts ...Option) ConversationRepository {
	return &conversationRepository{store: store, profiles: profiles, opts: buildOptions(opts)}
}

func messagesPath(conversationID string) string {
	return docstore.Path(conversationsCollection, conversationID, messagesCollection)
}

// CreateConversation provisions a two-person conversation. An empty id gets
// a store-assigned one; an existing id is a ConflictError.
func (r *conversationRepository) CreateConversation(ctx context.Context, conversationID, participantA, participantB string) (*models.Conversation, error) {
	if participantA == "" || participantB == "" {
		return nil, invalid("participantIds", "two participants are required")
	}
	if participantA == participantB {
		return nil, invalid("participantIds", "participants must differ")
	}
	if conversationID == "" {
		conversationID = docstore.NewID()
	}

	ids := []string{participantA, participantB}
	participants := make([]models.ParticipantSummary, len(ids))
	for i, id := range ids {
		participants[i] = models.ParticipantSummary{ID: id}
		if r.profiles == nil {
			continue
		}
		summary, err := r.profiles.LookupSummary(ctx, id)
		if err != nil {
			return nil, err
		}
		participants[i] = *summary
	}

	conv := &models.Conversation{
		ID:             conversationID,
		ParticipantIDs: ids,
		Participants:   participants,
		Timestamp:      r.opts.clock.Now(),
	}
	data, err := docstore.FromStruct(conv)
	if err != nil {
		return nil, err
	}
	if err := r.store.Commit(ctx, docstore.NewBatch().Create(conversationsCollection, conversationID, data)); err != nil {
		return nil, mapStoreError(err)
	}
	return conv, nil
}

// GetConversation returns nil without error when the conversation does not
// exist.
func (r *conversationRepository) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	doc, err := r.store.Get(ctx, conversationsCollection, conversationID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, mapStoreError(err)
	}
	return decodeConversation(*doc)
}

func (r *conversationRepository) byParticipant(userID string) docstore.Query {
	return docstore.From(conversationsCollection).
		Where("participantIds", docstore.OpArrayContains, userID).
		OrderBy("timestamp", docstore.Desc)
}

// ListConversations returns the user's conversations, most recent activity
// first, with participant summaries refreshed from current profiles.
func (r *conversationRepository) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	if userID == "" {
		return nil, invalid("userId", "is required")
	}
	docs, err := r.store.Query(ctx, r.byParticipant(userID))
	if err != nil {
		return nil, mapStoreError(err)
	}

	convs := make([]models.Conversation, 0, len(docs))
	for _, d := range docs {
		c, err := decodeConversation(d)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}

	if err := r.resolveParticipants(ctx, convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// resolveParticipants looks every distinct participant up concurrently. A
// participant without a profile keeps the stored summary.
func (r *conversationRepository) resolveParticipants(ctx context.Context, convs []models.Conversation) error {
	if r.profiles == nil || len(convs) == 0 {
		return nil
	}

	var ids []string
	seen := make(map[string]bool)
	for _, c := range convs {
		for _, id := range c.ParticipantIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	summaries := make([]*models.ParticipantSummary, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			summary, err := r.profiles.LookupSummary(gctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	resolved := make(map[string]models.ParticipantSummary, len(ids))
	for i, id := range ids {
		if summaries[i] != nil {
			resolved[id] = *summaries[i]
		}
	}

	for i := range convs {
		stored := make(map[string]models.ParticipantSummary, len(convs[i].Participants))
		for _, p := range convs[i].Participants {
			stored[p.ID] = p
		}
		participants := make([]models.ParticipantSummary, 0, len(convs[i].ParticipantIDs))
		for _, id := range convs[i].ParticipantIDs {
			if s, ok := resolved[id]; ok {
				participants = append(participants, s)
			} else if s, ok := stored[id]; ok {
				participants = append(participants, s)
			} else {
				participants = append(participants, models.ParticipantSummary{ID: id})
			}
		}
		convs[i].Participants = participants
	}
	return nil
}

func (r *conversationRepository) messagesQuery(conversationID string) docstore.Query {
	return docstore.From(messagesPath(conversationID)).OrderBy("timestamp", docstore.Asc)
}

// ListMessages returns the messages of an existing conversation, oldest
// first.
func (r *conversationRepository) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if _, err := r.mustGet(ctx, conversationID); err != nil {
		return nil, err
	}
	docs, err := r.store.Query(ctx, r.messagesQuery(conversationID))
	if err != nil {
		return nil, mapStoreError(err)
	}
	messages := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		m, err := decodeMessage(d)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// SendMessage appends a message and updates the conversation summary in one
// atomic batch.
func (r *conversationRepository) SendMessage(ctx context.Context, conversationID, senderID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("text", "cannot be empty")
	}
	if len([]rune(text)) > maxMessageLength {
		return nil, invalid("text", "exceeds %d characters", maxMessageLength)
	}

	conv, err := r.mustGet(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, invalid("senderId", "is not a participant of conversation %s", conversationID)
	}

	msg := &models.Message{
		ID:        docstore.NewID(),
		SenderID:  senderID,
		Text:      text,
		Timestamp: r.opts.clock.Now(),
	}
	data, err := docstore.FromStruct(msg)
	if err != nil {
		return nil, err
	}

	// The summary only moves forward: a send that commits after a newer one
	// still stores its message but leaves the newer summary in place.
	newer := docstore.Filter{Path: "timestamp", Op: docstore.OpLessEqual, Value: msg.Timestamp}
	batch := docstore.NewBatch().
		Create(messagesPath(conversationID), msg.ID, data).
		UpdateWhen(conversationsCollection, conversationID, newer,
			docstore.Update{Path: "lastMessage", Value: msg.Text},
			docstore.Update{Path: "lastSenderId", Value: msg.SenderID},
			docstore.Update{Path: "timestamp", Value: msg.Timestamp},
		)
	if err := r.store.Commit(ctx, batch); err != nil {
		return nil, mapStoreError(err)
	}
	return msg, nil
}

// WatchConversations pushes the user's conversation list on every change.
// Summaries are the stored ones; profiles are not looked up per push.
func (r *conversationRepository) WatchConversations(ctx context.Context, userID string, onSnapshot func([]models.Conversation), onError func(error)) (docstore.Unsubscribe, error) {
	if userID == "" {
		return nil, invalid("userId", "is required")
	}
	return watch(ctx, r.store, r.byParticipant(userID), func(d docstore.Document) (models.Conversation, error) {
		c, err := decodeConversation(d)
		if err != nil {
			return models.Conversation{}, err
		}
		return *c, nil
	}, onSnapshot, onError)
}

func (r *conversationRepository) WatchMessages(ctx context.Context, conversationID string, onSnapshot func([]models.Message), onError func(error)) (docstore.Unsubscribe, error) {
	if _, err := r.mustGet(ctx, conversationID); err != nil {
		return nil, err
	}
	return watch(ctx, r.store, r.messagesQuery(conversationID), decodeMessage, onSnapshot, onError)
}

func (r *conversationRepository) mustGet(ctx context.Context, conversationID string) (*models.Conversation, error) {
	c, err := r.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &NotFoundError{Kind: "conversation", ID: conversationID}
	}
	return c, nil
}

func decodeConversation(doc docstore.Document) (*models.Conversation, error) {
	var c models.Conversation
	if err := doc.DataTo(&c); err != nil {
		return nil, err
	}
	c.ID = doc.ID
	return &c, nil
}

func decodeMessage(doc docstore.Document) (models.Message, error) {
	var m models.Message
	if err := doc.DataTo(&m); err != nil {
		return models.Message{}, err
	}
	m.ID = doc.ID
	return m, nil
}
