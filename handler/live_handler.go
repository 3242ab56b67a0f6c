package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"social-service/events"
	models "social-service/model"
	"social-service/publisher"
	"social-service/repository"
)

type StartSessionRequest struct {
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

type ListSessionsRequest struct{}

type SessionsResponse struct {
	Sessions []models.LiveSession `json:"sessions"`
}

type LiveServiceServer interface {
	StartSession(context.Context, *StartSessionRequest) (*models.LiveSession, error)
	GetSession(context.Context, *SessionRequest) (*models.LiveSession, error)
	ListActiveSessions(context.Context, *ListSessionsRequest) (*SessionsResponse, error)
	EndSession(context.Context, *SessionRequest) (*Empty, error)
	WatchSessions(*ListSessionsRequest, grpc.ServerStream) error
}

type LiveHandler struct {
	errorMapper
	repo      repository.LiveSessionRepository
	publisher *publisher.EventPublisher
}

func NewLiveHandler(repo repository.LiveSessionRepository, pub *publisher.EventPublisher, logger *zap.Logger) *LiveHandler {
	logger = nopLogger(logger)
	return &LiveHandler{
		errorMapper: errorMapper{logger: logger},
		repo:        repo,
		publisher:   orDiscard(pub, logger),
	}
}

func (h *LiveHandler) StartSession(ctx context.Context, req *StartSessionRequest) (*models.LiveSession, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	input := models.LiveSessionInput{
		UserID:      id.UserID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Title:       req.Title,
		Thumbnail:   req.Thumbnail,
	}
	if input.DisplayName == "" {
		input.DisplayName = id.DisplayName
	}
	if input.AvatarURL == "" {
		input.AvatarURL = id.PhotoURL
	}

	session, err := h.repo.StartSession(ctx, input)
	if err != nil {
		return nil, h.status("StartSession", err)
	}

	_ = h.publisher.PublishLiveStarted(events.LiveSessionEvent{
		SessionID: session.ID,
		UserID:    session.UserID,
		Title:     session.Title,
	})
	return session, nil
}

func (h *LiveHandler) GetSession(ctx context.Context, req *SessionRequest) (*models.LiveSession, error) {
	session, err := h.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, h.status("GetSession", err)
	}
	if session == nil {
		return nil, h.status("GetSession", &repository.NotFoundError{Kind: "live session", ID: req.SessionID})
	}
	return session, nil
}

func (h *LiveHandler) ListActiveSessions(ctx context.Context, _ *ListSessionsRequest) (*SessionsResponse, error) {
	sessions, err := h.repo.ListActiveSessions(ctx)
	if err != nil {
		return nil, h.status("ListActiveSessions", err)
	}
	return &SessionsResponse{Sessions: sessions}, nil
}

// EndSession is idempotent; only the host may end a session that still
// exists.
func (h *LiveHandler) EndSession(ctx context.Context, req *SessionRequest) (*Empty, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	session, err := h.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, h.status("EndSession", err)
	}
	if session == nil {
		return &Empty{}, nil
	}
	if session.UserID != id.UserID {
		return nil, status.Error(codes.PermissionDenied, "only the host can end a live session")
	}

	if err := h.repo.EndSession(ctx, req.SessionID); err != nil {
		return nil, h.status("EndSession", err)
	}

	_ = h.publisher.PublishLiveEnded(req.SessionID)
	return &Empty{}, nil
}

func (h *LiveHandler) WatchSessions(_ *ListSessionsRequest, stream grpc.ServerStream) error {
	return serveWatch(stream, h.errorMapper, "WatchSessions", h.repo.WatchActiveSessions, func(sessions []models.LiveSession) interface{} {
		return &SessionsResponse{Sessions: sessions}
	})
}

const liveService = "social.LiveService"

var LiveServiceDesc = grpc.ServiceDesc{
	ServiceName: liveService,
	HandlerType: (*LiveServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartSession", Handler: unaryHandler("/"+liveService+"/StartSession", LiveServiceServer.StartSession)},
		{MethodName: "GetSession", Handler: unaryHandler("/"+liveService+"/GetSession", LiveServiceServer.GetSession)},
		{MethodName: "ListActiveSessions", Handler: unaryHandler("/"+liveService+"/ListActiveSessions", LiveServiceServer.ListActiveSessions)},
		{MethodName: "EndSession", Handler: unaryHandler("/"+liveService+"/EndSession", LiveServiceServer.EndSession)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchSessions", Handler: streamHandler(LiveServiceServer.WatchSessions), ServerStreams: true},
	},
	Metadata: "social/live.json",
}

func RegisterLiveServiceServer(s grpc.ServiceRegistrar, srv LiveServiceServer) {
	s.RegisterService(&LiveServiceDesc, srv)
}
