package handler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"social-service/codec"
	"social-service/docstore"
	"social-service/docstore/memory"
	"social-service/docstore/realtime"
	"social-service/events"
	"social-service/interceptor"
	models "social-service/model"
	"social-service/publisher"
	"social-service/repository"
)

const testSecret = "handler-test-secret"

type recordingSink struct {
	mu       sync.Mutex
	subjects []string
}

func (s *recordingSink) Publish(subject string, _ interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	return nil
}

func (s *recordingSink) published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subjects...)
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, ids...)
}

type testEnv struct {
	conn  *grpc.ClientConn
	sink  *recordingSink
	cache *recordingInvalidator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := realtime.New(memory.New(), realtime.NewLocalNotifier(), realtime.WithLogger(logger))
	t.Cleanup(func() { _ = store.Close() })

	sink := &recordingSink{}
	pub := publisher.NewEventPublisher(sink, logger)
	cache := &recordingInvalidator{}

	profiles := repository.NewProfileRepository(store)
	auth := interceptor.NewAuthInterceptor(testSecret, PublicMethods)
	server := grpc.NewServer(
		grpc.UnaryInterceptor(auth.Unary()),
		grpc.StreamInterceptor(auth.Stream()),
	)
	Register(server,
		NewProfileHandler(profiles, pub, cache, logger),
		NewPostHandler(repository.NewPostRepository(store), pub, logger),
		NewMessagingHandler(repository.NewConversationRepository(store, profiles), pub, logger),
		NewLiveHandler(repository.NewLiveSessionRepository(store), pub, logger),
	)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codec.Name)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testEnv{conn: conn, sink: sink, cache: cache}
}

func (e *testEnv) ctx(t *testing.T, userID string) context.Context {
	t.Helper()
	ctx := context.Background()
	if userID == "" {
		return ctx
	}
	token, err := interceptor.IssueToken(testSecret, interceptor.Identity{
		UserID:      userID,
		DisplayName: "User " + userID,
		Email:       userID + "@example.com",
	}, time.Hour)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func (e *testEnv) call(t *testing.T, userID, method string, req, resp interface{}) error {
	t.Helper()
	return e.conn.Invoke(e.ctx(t, userID), method, req, resp)
}

func (e *testEnv) createProfile(t *testing.T, userID, username string) *models.UserProfile {
	t.Helper()
	var p models.UserProfile
	require.NoError(t, e.call(t, userID, "/social.ProfileService/CreateProfile", &CreateProfileRequest{Username: username}, &p))
	return &p
}

func TestProfileService(t *testing.T) {
	e := newTestEnv(t)

	var p models.UserProfile
	err := e.call(t, "", "/social.ProfileService/CreateProfile", &CreateProfileRequest{Username: "alice"}, &p)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	alice := e.createProfile(t, "u1", "alice")
	assert.Equal(t, "u1", alice.ID)
	assert.Equal(t, "User u1", alice.DisplayName)
	assert.Equal(t, "u1@example.com", alice.Email)

	err = e.call(t, "u2", "/social.ProfileService/CreateProfile", &CreateProfileRequest{Username: "Alice"}, &p)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	err = e.call(t, "u2", "/social.ProfileService/CreateProfile", &CreateProfileRequest{Username: "no"}, &p)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	e.createProfile(t, "u2", "bob")

	var empty Empty
	require.NoError(t, e.call(t, "u2", "/social.ProfileService/Follow", &FollowRequest{TargetID: "u1"}, &empty))
	err = e.call(t, "u2", "/social.ProfileService/Follow", &FollowRequest{TargetID: "u2"}, &empty)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	err = e.call(t, "u2", "/social.ProfileService/Follow", &FollowRequest{TargetID: "ghost"}, &empty)
	assert.Equal(t, codes.NotFound, status.Code(err))

	var anon models.UserProfile
	require.NoError(t, e.call(t, "", "/social.ProfileService/GetProfile", &GetProfileRequest{UserID: "u1"}, &anon))
	assert.Empty(t, anon.Email)
	assert.Equal(t, []string{"u2"}, anon.Followers)

	err = e.call(t, "", "/social.ProfileService/GetProfile", &GetProfileRequest{UserID: "ghost"}, &anon)
	assert.Equal(t, codes.NotFound, status.Code(err))

	hide := true
	var updated models.UserProfile
	require.NoError(t, e.call(t, "u1", "/social.ProfileService/UpdateProfile",
		&UpdateProfileRequest{Patch: models.ProfilePatch{HideFollowers: &hide}}, &updated))
	assert.True(t, updated.PrivacySettings.HideFollowers)
	assert.Equal(t, []string{"u1"}, e.cache.ids)

	var found ProfilesResponse
	require.NoError(t, e.call(t, "u2", "/social.ProfileService/SearchProfiles", &SearchProfilesRequest{Prefix: "al"}, &found))
	require.Len(t, found.Profiles, 1)
	assert.Empty(t, found.Profiles[0].Followers)

	require.NoError(t, e.call(t, "u2", "/social.ProfileService/Unfollow", &FollowRequest{TargetID: "u1"}, &empty))

	assert.Equal(t, []string{events.UserCreated, events.UserCreated, events.UserFollowed, events.UserUnfollowed}, e.sink.published())
}

func TestPostService(t *testing.T) {
	e := newTestEnv(t)

	var post models.Post
	require.NoError(t, e.call(t, "u1", "/social.PostService/CreatePost", &CreatePostRequest{Content: "hello"}, &post))
	assert.Equal(t, "u1", post.UserID)
	assert.Equal(t, "User u1", post.Author.Name)
	assert.Equal(t, "user_u1", post.Author.Handle)
	assert.Equal(t, models.PostTypeText, post.Type)

	err := e.call(t, "u1", "/social.PostService/CreatePost", &CreatePostRequest{Type: models.PostTypeImage, Content: "x"}, &post)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	var conn models.PostConnection
	require.NoError(t, e.call(t, "", "/social.PostService/ListPosts", &ListPostsRequest{First: 10}, &conn))
	require.Len(t, conn.Edges, 1)
	postID := conn.Edges[0].Node.ID

	require.NoError(t, e.call(t, "", "/social.PostService/ListPosts", &ListPostsRequest{UserID: "u2", First: 10}, &conn))
	assert.Empty(t, conn.Edges)

	var got models.Post
	err = e.call(t, "", "/social.PostService/GetPost", &PostRequest{PostID: "missing"}, &got)
	assert.Equal(t, codes.NotFound, status.Code(err))

	content := "edited"
	err = e.call(t, "u2", "/social.PostService/UpdatePost", &UpdatePostRequest{PostID: postID, Patch: models.PostPatch{Content: &content}}, &got)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	require.NoError(t, e.call(t, "u1", "/social.PostService/UpdatePost", &UpdatePostRequest{PostID: postID, Patch: models.PostPatch{Content: &content}}, &got))
	assert.Equal(t, "edited", got.Content)

	var comment models.Comment
	require.NoError(t, e.call(t, "u2", "/social.PostService/AddComment", &AddCommentRequest{PostID: postID, Content: "nice"}, &comment))
	assert.Equal(t, "User u2", comment.Author.Name)

	var empty Empty
	require.NoError(t, e.call(t, "u2", "/social.PostService/LikePost", &PostRequest{PostID: postID}, &empty))
	err = e.call(t, "u2", "/social.PostService/LikePost", &PostRequest{PostID: "missing"}, &empty)
	assert.Equal(t, codes.NotFound, status.Code(err))

	require.NoError(t, e.call(t, "", "/social.PostService/GetPost", &PostRequest{PostID: postID}, &got))
	assert.Equal(t, int64(1), got.Likes)
	assert.Equal(t, int64(1), got.Comments)

	assert.Equal(t, []string{events.PostCreated, events.CommentAdded, events.PostLiked}, e.sink.published())
}

func TestWatchPosts(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(e.ctx(t, "u1"))
	defer cancel()

	stream, err := e.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, "/social.PostService/WatchPosts")
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&WatchPostsRequest{}))
	require.NoError(t, stream.CloseSend())

	var snap PostsSnapshot
	require.NoError(t, stream.RecvMsg(&snap))
	assert.Empty(t, snap.Posts)

	var post models.Post
	require.NoError(t, e.call(t, "u1", "/social.PostService/CreatePost", &CreatePostRequest{Content: "live"}, &post))

	require.NoError(t, stream.RecvMsg(&snap))
	require.Len(t, snap.Posts, 1)
	assert.Equal(t, post.ID, snap.Posts[0].ID)
}

func TestWatchRequiresAuth(t *testing.T) {
	e := newTestEnv(t)

	stream, err := e.conn.NewStream(context.Background(), &grpc.StreamDesc{ServerStreams: true}, "/social.PostService/WatchPosts")
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&WatchPostsRequest{}))
	require.NoError(t, stream.CloseSend())

	var snap PostsSnapshot
	assert.Equal(t, codes.Unauthenticated, status.Code(stream.RecvMsg(&snap)))
}

func TestMessagingService(t *testing.T) {
	e := newTestEnv(t)
	e.createProfile(t, "u1", "alice")
	e.createProfile(t, "u2", "bob")
	e.createProfile(t, "u3", "carol")

	var conv models.Conversation
	require.NoError(t, e.call(t, "u1", "/social.MessagingService/CreateConversation",
		&CreateConversationRequest{ConversationID: "c1", ParticipantID: "u2"}, &conv))
	assert.Equal(t, []string{"u1", "u2"}, conv.ParticipantIDs)
	assert.Equal(t, "User u2", conv.Participants[1].DisplayName)

	err := e.call(t, "u1", "/social.MessagingService/CreateConversation",
		&CreateConversationRequest{ConversationID: "c1", ParticipantID: "u2"}, &conv)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	ctx, cancel := context.WithCancel(e.ctx(t, "u2"))
	defer cancel()
	stream, err := e.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, "/social.MessagingService/WatchMessages")
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&ConversationRequest{ConversationID: "c1"}))
	require.NoError(t, stream.CloseSend())
	var snap MessagesResponse
	require.NoError(t, stream.RecvMsg(&snap))
	assert.Empty(t, snap.Messages)

	var msg models.Message
	require.NoError(t, e.call(t, "u1", "/social.MessagingService/SendMessage",
		&SendMessageRequest{ConversationID: "c1", Text: "  hi bob  "}, &msg))
	assert.Equal(t, "hi bob", msg.Text)

	require.NoError(t, stream.RecvMsg(&snap))
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, msg.ID, snap.Messages[0].ID)

	err = e.call(t, "u3", "/social.MessagingService/SendMessage",
		&SendMessageRequest{ConversationID: "c1", Text: "intruder"}, &msg)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	var msgs MessagesResponse
	err = e.call(t, "u3", "/social.MessagingService/ListMessages", &ConversationRequest{ConversationID: "c1"}, &msgs)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	err = e.call(t, "u1", "/social.MessagingService/ListMessages", &ConversationRequest{ConversationID: "nope"}, &msgs)
	assert.Equal(t, codes.NotFound, status.Code(err))
	require.NoError(t, e.call(t, "u2", "/social.MessagingService/ListMessages", &ConversationRequest{ConversationID: "c1"}, &msgs))
	assert.Len(t, msgs.Messages, 1)

	var convs ConversationsResponse
	require.NoError(t, e.call(t, "u2", "/social.MessagingService/ListConversations", &ListConversationsRequest{}, &convs))
	require.Len(t, convs.Conversations, 1)
	assert.Equal(t, "hi bob", convs.Conversations[0].LastMessage)
	assert.Equal(t, "u1", convs.Conversations[0].LastSenderID)

	assert.Contains(t, e.sink.published(), events.MessageSent)
}

func TestLiveService(t *testing.T) {
	e := newTestEnv(t)

	var session models.LiveSession
	err := e.call(t, "u1", "/social.LiveService/StartSession", &StartSessionRequest{}, &session)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	require.NoError(t, e.call(t, "u1", "/social.LiveService/StartSession", &StartSessionRequest{Title: "Jam"}, &session))
	assert.Equal(t, "User u1", session.UserDisplayName)
	assert.Equal(t, models.DefaultThumbnail, session.Thumbnail)

	var list SessionsResponse
	require.NoError(t, e.call(t, "", "/social.LiveService/ListActiveSessions", &ListSessionsRequest{}, &list))
	require.Len(t, list.Sessions, 1)

	var empty Empty
	err = e.call(t, "u2", "/social.LiveService/EndSession", &SessionRequest{SessionID: session.ID}, &empty)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	require.NoError(t, e.call(t, "u1", "/social.LiveService/EndSession", &SessionRequest{SessionID: session.ID}, &empty))
	require.NoError(t, e.call(t, "u1", "/social.LiveService/EndSession", &SessionRequest{SessionID: session.ID}, &empty))

	err = e.call(t, "", "/social.LiveService/GetSession", &SessionRequest{SessionID: session.ID}, &session)
	assert.Equal(t, codes.NotFound, status.Code(err))

	assert.Equal(t, []string{events.LiveStarted, events.LiveEnded}, e.sink.published())
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{&repository.NotFoundError{Kind: "post", ID: "p1"}, codes.NotFound},
		{&repository.ConflictError{Kind: "username", ID: "alice"}, codes.AlreadyExists},
		{repository.ErrSelfFollow, codes.InvalidArgument},
		{&docstore.StorageError{Op: "commit", Collection: "posts", Err: errors.New("down")}, codes.Unavailable},
		{fmt.Errorf("watch: %w", docstore.ErrPushUnsupported), codes.Unimplemented},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(toStatus(tt.err)), "%v", tt.err)
	}
	assert.NoError(t, toStatus(nil))
}
