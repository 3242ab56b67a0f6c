package repository

import (
	"context"
	"errors"
	"strings"

	"social-service/docstore"
	"social-service/model"
)

const maxCommentLength = 2000

type PostRepository interface {
	CreatePost(ctx context.Context, input models.PostInput) (*models.Post, error)
	GetPost(ctx context.Context, postID string) (*models.Post, error)
	ListPosts(ctx context.Context, page models.PageRequest) (*models.PostConnection, error)
	ListUserPosts(ctx context.Context, userID string, page models.PageRequest) (*models.PostConnection, error)
	UpdatePost(ctx context.Context, postID string, patch models.PostPatch) (*models.Post, error)
	AddComment(ctx context.Context, postID string, input models.CommentInput) (*models.Comment, error)
	LikePost(ctx context.Context, postID string) error
	UnlikePost(ctx context.Context, postID string) error
	WatchPosts(ctx context.Context, onSnapshot func([]models.Post), onError func(error)) (docstore.Unsubscribe, error)
}

type postRepository struct {
	store docstore.Store
	opts  options
}

func NewPostRepository(store docstore.Store, opts ...Option) PostRepository {
	return &postRepository{store: store, opts: buildOptions(opts)}
}

func (r *postRepository) CreatePost(ctx context.Context, input models.PostInput) (*models.Post, error) {
	if input.UserID == "" {
		return nil, invalid("userId", "is required")
	}
	if input.Type == "" {
		input.Type = models.PostTypeText
	}
	if !input.Type.Valid() {
		return nil, invalid("type", "must be text, image or video")
	}
	content := strings.TrimSpace(input.Content)
	if input.Type != models.PostTypeText && input.MediaURL == "" {
		return nil, invalid("mediaUrl", "is required for %s posts", input.Type)
	}
	if content == "" && input.MediaURL == "" {
		return nil, invalid("content", "cannot be empty")
	}

	post := &models.Post{
		ID:           docstore.NewID(),
		Author:       authorSnapshot(input.Author),
		UserID:       input.UserID,
		Content:      content,
		Type:         input.Type,
		MediaURL:     input.MediaURL,
		MediaAIHint:  input.MediaAIHint,
		CommentsData: []models.Comment{},
		Timestamp:    r.opts.clock.Now(),
	}

	data, err := docstore.FromStruct(post)
	if err != nil {
		return nil, err
	}
	if err := r.store.Commit(ctx, docstore.NewBatch().Create(postsCollection, post.ID, data)); err != nil {
		return nil, mapStoreError(err)
	}
	return post, nil
}

func authorSnapshot(a models.Author) models.Author {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		a.Name = models.DefaultDisplayName
	}
	if a.AvatarURL == "" {
		a.AvatarURL = models.DefaultPhotoURL
	}
	if a.Handle == "" {
		a.Handle = models.HandleFor(a.Name)
	}
	return a
}

// GetPost returns nil without error when the post does not exist.
func (r *postRepository) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	doc, err := r.store.Get(ctx, postsCollection, postID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, mapStoreError(err)
	}
	return decodePost(*doc)
}

// ListPosts returns posts newest first. A zero First returns every post.
func (r *postRepository) ListPosts(ctx context.Context, page models.PageRequest) (*models.PostConnection, error) {
	return r.list(ctx, docstore.From(postsCollection), page)
}

func (r *postRepository) ListUserPosts(ctx context.Context, userID string, page models.PageRequest) (*models.PostConnection, error) {
	if userID == "" {
		return nil, invalid("userId", "is required")
	}
	return r.list(ctx, docstore.From(postsCollection).Where("userId", docstore.OpEqual, userID), page)
}

func (r *postRepository) list(ctx context.Context, q docstore.Query, page models.PageRequest) (*models.PostConnection, error) {
	if page.First < 0 {
		return nil, invalid("first", "cannot be negative")
	}
	q = q.OrderBy("timestamp", docstore.Desc)

	after := page.After != nil && *page.After != ""
	if after {
		cursor, err := decodeCursor(*page.After)
		if err != nil {
			return nil, invalid("after", "malformed cursor")
		}
		q = q.StartAfter(cursor.ID, cursor.Timestamp)
	}
	if page.First > 0 {
		q = q.WithLimit(int(page.First) + 1)
	}

	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, mapStoreError(err)
	}

	hasNextPage := page.First > 0 && len(docs) > int(page.First)
	if hasNextPage {
		docs = docs[:page.First]
	}

	edges := make([]models.PostEdge, 0, len(docs))
	for _, d := range docs {
		post, err := decodePost(d)
		if err != nil {
			return nil, err
		}
		edges = append(edges, models.PostEdge{
			Cursor: encodeCursor(post.Timestamp, post.ID),
			Node:   *post,
		})
	}

	var endCursor *string
	if len(edges) > 0 {
		endCursor = &edges[len(edges)-1].Cursor
	}

	return &models.PostConnection{
		Edges: edges,
		PageInfo: models.PageInfo{
			EndCursor:   endCursor,
			HasNextPage: hasNextPage,
		},
	}, nil
}

// UpdatePost merge-patches a post. Concurrent patches of the same field are
// last-write-wins. The comments count is derived from CommentsData and
// cannot be set directly.
func (r *postRepository) UpdatePost(ctx context.Context, postID string, patch models.PostPatch) (*models.Post, error) {
	if patch.Comments != nil {
		return nil, invalid("comments", "is derived from commentsData")
	}

	var updates []docstore.Update
	if patch.Content != nil {
		updates = append(updates, docstore.Update{Path: "content", Value: strings.TrimSpace(*patch.Content)})
	}
	if patch.MediaURL != nil {
		updates = append(updates, docstore.Update{Path: "mediaUrl", Value: *patch.MediaURL})
	}
	if patch.MediaAIHint != nil {
		updates = append(updates, docstore.Update{Path: "mediaAiHint", Value: *patch.MediaAIHint})
	}
	if patch.Likes != nil {
		if *patch.Likes < 0 {
			return nil, invalid("likes", "cannot be negative")
		}
		updates = append(updates, docstore.Update{Path: "likes", Value: *patch.Likes})
	}
	if patch.Shares != nil {
		if *patch.Shares < 0 {
			return nil, invalid("shares", "cannot be negative")
		}
		updates = append(updates, docstore.Update{Path: "shares", Value: *patch.Shares})
	}
	if patch.CommentsData != nil {
		comments := *patch.CommentsData
		if comments == nil {
			comments = []models.Comment{}
		}
		updates = append(updates,
			docstore.Update{Path: "commentsData", Value: comments},
			docstore.Update{Path: "comments", Value: int64(len(comments))},
		)
	}
	if len(updates) == 0 {
		return nil, invalid("patch", "no fields to update")
	}

	if err := r.store.Update(ctx, postsCollection, postID, updates...); err != nil {
		return nil, mapStoreError(err)
	}
	return r.mustGet(ctx, postID)
}

// AddComment appends a comment and bumps the count in one update so the two
// never disagree.
func (r *postRepository) AddComment(ctx context.Context, postID string, input models.CommentInput) (*models.Comment, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, invalid("content", "cannot be empty")
	}
	if len([]rune(content)) > maxCommentLength {
		return nil, invalid("content", "exceeds %d characters", maxCommentLength)
	}

	comment := &models.Comment{
		ID:        docstore.NewID(),
		Author:    authorSnapshot(input.Author),
		Content:   content,
		Timestamp: r.opts.clock.Now(),
	}
	data, err := docstore.FromStruct(comment)
	if err != nil {
		return nil, err
	}

	err = r.store.Update(ctx, postsCollection, postID,
		docstore.Update{Path: "commentsData", Value: docstore.ArrayUnion(data)},
		docstore.Update{Path: "comments", Value: docstore.Increment(1)},
	)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return comment, nil
}

// LikePost increments the like counter. Nothing records who liked a post,
// so repeated likes by one user all count.
func (r *postRepository) LikePost(ctx context.Context, postID string) error {
	err := r.store.Update(ctx, postsCollection, postID, docstore.Update{Path: "likes", Value: docstore.Increment(1)})
	return mapStoreError(err)
}

// UnlikePost decrements the like counter. The counter never goes below
// zero; unliking a post with no likes is a validation error.
func (r *postRepository) UnlikePost(ctx context.Context, postID string) error {
	positive := docstore.Filter{Path: "likes", Op: docstore.OpGreater, Value: int64(0)}
	err := r.store.Commit(ctx, docstore.NewBatch().
		UpdateIf(postsCollection, postID, positive, docstore.Update{Path: "likes", Value: docstore.Increment(-1)}))
	if errors.Is(err, docstore.ErrFailedPrecondition) {
		return invalid("likes", "cannot be negative")
	}
	return mapStoreError(err)
}

// WatchPosts delivers the full feed, newest first, on every change.
func (r *postRepository) WatchPosts(ctx context.Context, onSnapshot func([]models.Post), onError func(error)) (docstore.Unsubscribe, error) {
	q := docstore.From(postsCollection).OrderBy("timestamp", docstore.Desc)
	return watch(ctx, r.store, q, func(d docstore.Document) (models.Post, error) {
		p, err := decodePost(d)
		if err != nil {
			return models.Post{}, err
		}
		return *p, nil
	}, onSnapshot, onError)
}

func (r *postRepository) mustGet(ctx context.Context, postID string) (*models.Post, error) {
	p, err := r.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NotFoundError{Kind: "post", ID: postID}
	}
	return p, nil
}

func decodePost(doc docstore.Document) (*models.Post, error) {
	var p models.Post
	if err := doc.DataTo(&p); err != nil {
		return nil, err
	}
	p.ID = doc.ID
	if p.CommentsData == nil {
		p.CommentsData = []models.Comment{}
	}
	return &p, nil
}
