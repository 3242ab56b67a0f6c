package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"social-service/docstore"
	"social-service/events"
	models "social-service/model"
	"social-service/publisher"
	"social-service/repository"
)

// CreateConversationRequest opens a conversation between the caller and
// ParticipantID. ConversationID may be empty.
type CreateConversationRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	ParticipantID  string `json:"participantId"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type ListConversationsRequest struct{}

type ConversationsResponse struct {
	Conversations []models.Conversation `json:"conversations"`
}

type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

type MessagingServiceServer interface {
	CreateConversation(context.Context, *CreateConversationRequest) (*models.Conversation, error)
	GetConversation(context.Context, *ConversationRequest) (*models.Conversation, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ConversationsResponse, error)
	ListMessages(context.Context, *ConversationRequest) (*MessagesResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*models.Message, error)
	WatchMessages(*ConversationRequest, grpc.ServerStream) error
	WatchConversations(*ListConversationsRequest, grpc.ServerStream) error
}

type MessagingHandler struct {
	errorMapper
	repo      repository.ConversationRepository
	publisher *publisher.EventPublisher
}

func NewMessagingHandler(repo repository.ConversationRepository, pub *publisher.EventPublisher, logger *zap.Logger) *MessagingHandler {
	logger = nopLogger(logger)
	return &MessagingHandler{
		errorMapper: errorMapper{logger: logger},
		repo:        repo,
		publisher:   orDiscard(pub, logger),
	}
}

func (h *MessagingHandler) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*models.Conversation, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	conv, err := h.repo.CreateConversation(ctx, req.ConversationID, id.UserID, req.ParticipantID)
	if err != nil {
		return nil, h.status("CreateConversation", err)
	}
	return conv, nil
}

// participantOf loads a conversation the caller takes part in.
func (h *MessagingHandler) participantOf(ctx context.Context, op, conversationID string) (*models.Conversation, string, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, "", err
	}

	conv, err := h.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, "", h.status(op, err)
	}
	if conv == nil {
		return nil, "", h.status(op, &repository.NotFoundError{Kind: "conversation", ID: conversationID})
	}
	if !conv.HasParticipant(id.UserID) {
		return nil, "", status.Error(codes.PermissionDenied, "not a participant of this conversation")
	}
	return conv, id.UserID, nil
}

func (h *MessagingHandler) GetConversation(ctx context.Context, req *ConversationRequest) (*models.Conversation, error) {
	conv, _, err := h.participantOf(ctx, "GetConversation", req.ConversationID)
	return conv, err
}

func (h *MessagingHandler) ListConversations(ctx context.Context, _ *ListConversationsRequest) (*ConversationsResponse, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	convs, err := h.repo.ListConversations(ctx, id.UserID)
	if err != nil {
		return nil, h.status("ListConversations", err)
	}
	return &ConversationsResponse{Conversations: convs}, nil
}

func (h *MessagingHandler) ListMessages(ctx context.Context, req *ConversationRequest) (*MessagesResponse, error) {
	if _, _, err := h.participantOf(ctx, "ListMessages", req.ConversationID); err != nil {
		return nil, err
	}

	msgs, err := h.repo.ListMessages(ctx, req.ConversationID)
	if err != nil {
		return nil, h.status("ListMessages", err)
	}
	return &MessagesResponse{Messages: msgs}, nil
}

func (h *MessagingHandler) SendMessage(ctx context.Context, req *SendMessageRequest) (*models.Message, error) {
	conv, senderID, err := h.participantOf(ctx, "SendMessage", req.ConversationID)
	if err != nil {
		return nil, err
	}

	msg, err := h.repo.SendMessage(ctx, req.ConversationID, senderID, req.Text)
	if err != nil {
		return nil, h.status("SendMessage", err)
	}

	recipients := make([]string, 0, len(conv.ParticipantIDs))
	for _, p := range conv.ParticipantIDs {
		if p != senderID {
			recipients = append(recipients, p)
		}
	}
	_ = h.publisher.PublishMessageSent(events.MessageSentEvent{
		MessageID:      msg.ID,
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		RecipientIDs:   recipients,
	})
	return msg, nil
}

func (h *MessagingHandler) WatchMessages(req *ConversationRequest, stream grpc.ServerStream) error {
	if _, _, err := h.participantOf(stream.Context(), "WatchMessages", req.ConversationID); err != nil {
		return err
	}

	subscribe := func(ctx context.Context, onSnapshot func([]models.Message), onError func(error)) (docstore.Unsubscribe, error) {
		return h.repo.WatchMessages(ctx, req.ConversationID, onSnapshot, onError)
	}
	return serveWatch(stream, h.errorMapper, "WatchMessages", subscribe, func(msgs []models.Message) interface{} {
		return &MessagesResponse{Messages: msgs}
	})
}

func (h *MessagingHandler) WatchConversations(_ *ListConversationsRequest, stream grpc.ServerStream) error {
	id, err := caller(stream.Context())
	if err != nil {
		return err
	}

	subscribe := func(ctx context.Context, onSnapshot func([]models.Conversation), onError func(error)) (docstore.Unsubscribe, error) {
		return h.repo.WatchConversations(ctx, id.UserID, onSnapshot, onError)
	}
	return serveWatch(stream, h.errorMapper, "WatchConversations", subscribe, func(convs []models.Conversation) interface{} {
		return &ConversationsResponse{Conversations: convs}
	})
}

const messagingService = "social.MessagingService"

var MessagingServiceDesc = grpc.ServiceDesc{
	ServiceName: messagingService,
	HandlerType: (*MessagingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateConversation", Handler: unaryHandler("/"+messagingService+"/CreateConversation", MessagingServiceServer.CreateConversation)},
		{MethodName: "GetConversation", Handler: unaryHandler("/"+messagingService+"/GetConversation", MessagingServiceServer.GetConversation)},
		{MethodName: "ListConversations", Handler: unaryHandler("/"+messagingService+"/ListConversations", MessagingServiceServer.ListConversations)},
		{MethodName: "ListMessages", Handler: unaryHandler("/"+messagingService+"/ListMessages", MessagingServiceServer.ListMessages)},
		{MethodName: "SendMessage", Handler: unaryHandler("/"+messagingService+"/SendMessage", MessagingServiceServer.SendMessage)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchMessages", Handler: streamHandler(MessagingServiceServer.WatchMessages), ServerStreams: true},
		{StreamName: "WatchConversations", Handler: streamHandler(MessagingServiceServer.WatchConversations), ServerStreams: true},
	},
	Metadata: "social/messaging.json",
}

func RegisterMessagingServiceServer(s grpc.ServiceRegistrar, srv MessagingServiceServer) {
	s.RegisterService(&MessagingServiceDesc, srv)
}
