package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"social-service/events"
	"social-service/interceptor"
	models "social-service/model"
	"social-service/publisher"
	"social-service/repository"
)

type CreatePostRequest struct {
	Author      *models.Author  `json:"author,omitempty"`
	Content     string          `json:"content"`
	Type        models.PostType `json:"type,omitempty"`
	MediaURL    string          `json:"mediaUrl,omitempty"`
	MediaAIHint string          `json:"mediaAiHint,omitempty"`
}

// ListPostsRequest pages the global feed, or one user's posts when UserID
// is set.
type ListPostsRequest struct {
	UserID string  `json:"userId,omitempty"`
	First  int32   `json:"first"`
	After  *string `json:"after,omitempty"`
}

type PostRequest struct {
	PostID string `json:"postId"`
}

type UpdatePostRequest struct {
	PostID string           `json:"postId"`
	Patch  models.PostPatch `json:"patch"`
}

type AddCommentRequest struct {
	PostID  string         `json:"postId"`
	Author  *models.Author `json:"author,omitempty"`
	Content string         `json:"content"`
}

type WatchPostsRequest struct{}

type PostsSnapshot struct {
	Posts []models.Post `json:"posts"`
}

type PostServiceServer interface {
	CreatePost(context.Context, *CreatePostRequest) (*models.Post, error)
	ListPosts(context.Context, *ListPostsRequest) (*models.PostConnection, error)
	GetPost(context.Context, *PostRequest) (*models.Post, error)
	UpdatePost(context.Context, *UpdatePostRequest) (*models.Post, error)
	AddComment(context.Context, *AddCommentRequest) (*models.Comment, error)
	LikePost(context.Context, *PostRequest) (*Empty, error)
	UnlikePost(context.Context, *PostRequest) (*Empty, error)
	WatchPosts(*WatchPostsRequest, grpc.ServerStream) error
}

type PostHandler struct {
	errorMapper
	repo      repository.PostRepository
	publisher *publisher.EventPublisher
}

func NewPostHandler(repo repository.PostRepository, pub *publisher.EventPublisher, logger *zap.Logger) *PostHandler {
	logger = nopLogger(logger)
	return &PostHandler{
		errorMapper: errorMapper{logger: logger},
		repo:        repo,
		publisher:   orDiscard(pub, logger),
	}
}

// authorOf fills an author snapshot from the caller's identity.
func authorOf(id interceptor.Identity, given *models.Author) models.Author {
	if given != nil && given.Name != "" {
		return *given
	}
	return models.Author{
		Name:      id.DisplayName,
		AvatarURL: id.PhotoURL,
		Handle:    models.HandleFor(id.DisplayName),
	}
}

func (h *PostHandler) CreatePost(ctx context.Context, req *CreatePostRequest) (*models.Post, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	post, err := h.repo.CreatePost(ctx, models.PostInput{
		Author:      authorOf(id, req.Author),
		UserID:      id.UserID,
		Content:     req.Content,
		Type:        req.Type,
		MediaURL:    req.MediaURL,
		MediaAIHint: req.MediaAIHint,
	})
	if err != nil {
		return nil, h.status("CreatePost", err)
	}

	_ = h.publisher.PublishPostCreated(events.PostCreatedEvent{
		PostID:  post.ID,
		UserID:  post.UserID,
		Content: post.Content,
		Type:    string(post.Type),
	})
	return post, nil
}

func (h *PostHandler) ListPosts(ctx context.Context, req *ListPostsRequest) (*models.PostConnection, error) {
	page := models.PageRequest{First: req.First, After: req.After}

	var (
		conn *models.PostConnection
		err  error
	)
	if req.UserID != "" {
		conn, err = h.repo.ListUserPosts(ctx, req.UserID, page)
	} else {
		conn, err = h.repo.ListPosts(ctx, page)
	}
	if err != nil {
		return nil, h.status("ListPosts", err)
	}
	return conn, nil
}

func (h *PostHandler) GetPost(ctx context.Context, req *PostRequest) (*models.Post, error) {
	post, err := h.repo.GetPost(ctx, req.PostID)
	if err != nil {
		return nil, h.status("GetPost", err)
	}
	if post == nil {
		return nil, h.status("GetPost", &repository.NotFoundError{Kind: "post", ID: req.PostID})
	}
	return post, nil
}

// UpdatePost lets authors edit their own posts.
func (h *PostHandler) UpdatePost(ctx context.Context, req *UpdatePostRequest) (*models.Post, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := h.GetPost(ctx, &PostRequest{PostID: req.PostID})
	if err != nil {
		return nil, err
	}
	if existing.UserID != id.UserID {
		return nil, status.Error(codes.PermissionDenied, "you can only update your own posts")
	}

	post, err := h.repo.UpdatePost(ctx, req.PostID, req.Patch)
	if err != nil {
		return nil, h.status("UpdatePost", err)
	}
	return post, nil
}

func (h *PostHandler) AddComment(ctx context.Context, req *AddCommentRequest) (*models.Comment, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	comment, err := h.repo.AddComment(ctx, req.PostID, models.CommentInput{
		Author:  authorOf(id, req.Author),
		Content: req.Content,
	})
	if err != nil {
		return nil, h.status("AddComment", err)
	}

	_ = h.publisher.PublishCommentAdded(events.CommentAddedEvent{
		CommentID: comment.ID,
		PostID:    req.PostID,
		UserID:    id.UserID,
		Content:   comment.Content,
	})
	return comment, nil
}

func (h *PostHandler) LikePost(ctx context.Context, req *PostRequest) (*Empty, error) {
	return h.like(ctx, req, true)
}

func (h *PostHandler) UnlikePost(ctx context.Context, req *PostRequest) (*Empty, error) {
	return h.like(ctx, req, false)
}

func (h *PostHandler) like(ctx context.Context, req *PostRequest, liked bool) (*Empty, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	op, apply := "UnlikePost", h.repo.UnlikePost
	if liked {
		op, apply = "LikePost", h.repo.LikePost
	}
	if err := apply(ctx, req.PostID); err != nil {
		return nil, h.status(op, err)
	}

	_ = h.publisher.PublishPostLiked(req.PostID, id.UserID, liked)
	return &Empty{}, nil
}

// WatchPosts streams the newest-first post list on every change.
func (h *PostHandler) WatchPosts(_ *WatchPostsRequest, stream grpc.ServerStream) error {
	return serveWatch(stream, h.errorMapper, "WatchPosts", h.repo.WatchPosts, func(posts []models.Post) interface{} {
		return &PostsSnapshot{Posts: posts}
	})
}

const postService = "social.PostService"

var PostServiceDesc = grpc.ServiceDesc{
	ServiceName: postService,
	HandlerType: (*PostServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreatePost", Handler: unaryHandler("/"+postService+"/CreatePost", PostServiceServer.CreatePost)},
		{MethodName: "ListPosts", Handler: unaryHandler("/"+postService+"/ListPosts", PostServiceServer.ListPosts)},
		{MethodName: "GetPost", Handler: unaryHandler("/"+postService+"/GetPost", PostServiceServer.GetPost)},
		{MethodName: "UpdatePost", Handler: unaryHandler("/"+postService+"/UpdatePost", PostServiceServer.UpdatePost)},
		{MethodName: "AddComment", Handler: unaryHandler("/"+postService+"/AddComment", PostServiceServer.AddComment)},
		{MethodName: "LikePost", Handler: unaryHandler("/"+postService+"/LikePost", PostServiceServer.LikePost)},
		{MethodName: "UnlikePost", Handler: unaryHandler("/"+postService+"/UnlikePost", PostServiceServer.UnlikePost)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchPosts", Handler: streamHandler(PostServiceServer.WatchPosts), ServerStreams: true},
	},
	Metadata: "social/post.json",
}

func RegisterPostServiceServer(s grpc.ServiceRegistrar, srv PostServiceServer) {
	s.RegisterService(&PostServiceDesc, srv)
}
