package interceptor

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	secret  = "test-secret"
	private = "/social.PostService/CreatePost"
	public  = "/social.PostService/ListPosts"
)

func incoming(token string) context.Context {
	if token == "" {
		return metadata.NewIncomingContext(context.Background(), metadata.MD{})
	}
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", token))
}

func callUnary(t *testing.T, i *AuthInterceptor, ctx context.Context, method string) (Identity, bool, error) {
	t.Helper()
	var (
		got Identity
		ok  bool
	)
	_, err := i.Unary()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req interface{}) (interface{}, error) {
		got, ok = IdentityFromContext(ctx)
		return nil, nil
	})
	return got, ok, err
}

func TestUnary(t *testing.T) {
	i := NewAuthInterceptor(secret, []string{public})
	valid, err := IssueToken(secret, Identity{UserID: "u1", DisplayName: "Alice"}, time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, Identity{UserID: "u1"}, -time.Hour)
	require.NoError(t, err)
	forged, err := IssueToken("other-secret", Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	noUser, err := IssueToken(secret, Identity{}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name     string
		ctx      context.Context
		method   string
		wantCode codes.Code
		wantUser string
	}{
		{"valid token", incoming("Bearer " + valid), private, codes.OK, "u1"},
		{"no metadata", context.Background(), private, codes.Unauthenticated, ""},
		{"no token", incoming(""), private, codes.Unauthenticated, ""},
		{"no bearer prefix", incoming(valid), private, codes.Unauthenticated, ""},
		{"expired", incoming("Bearer " + expired), private, codes.Unauthenticated, ""},
		{"wrong secret", incoming("Bearer " + forged), private, codes.Unauthenticated, ""},
		{"missing user id", incoming("Bearer " + noUser), private, codes.Unauthenticated, ""},
		{"public anonymous", incoming(""), public, codes.OK, ""},
		{"public with identity", incoming("Bearer " + valid), public, codes.OK, "u1"},
		{"public with bad token", incoming("Bearer " + forged), public, codes.Unauthenticated, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok, err := callUnary(t, i, tt.ctx, tt.method)
			assert.Equal(t, tt.wantCode, status.Code(err))
			if tt.wantUser != "" {
				require.True(t, ok)
				assert.Equal(t, tt.wantUser, id.UserID)
			} else {
				assert.False(t, ok)
			}
		})
	}
}

func TestRejectsNonHMAC(t *testing.T) {
	i := NewAuthInterceptor(secret, nil)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, _, err = callUnary(t, i, incoming("Bearer "+token), private)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func TestStream(t *testing.T) {
	i := NewAuthInterceptor(secret, nil)
	token, err := IssueToken(secret, Identity{UserID: "u2", Email: "b@example.com"}, time.Hour)
	require.NoError(t, err)

	var got Identity
	err = i.Stream()(nil, &fakeStream{ctx: incoming("Bearer " + token)}, &grpc.StreamServerInfo{FullMethod: "/social.PostService/WatchPosts"},
		func(srv interface{}, stream grpc.ServerStream) error {
			got, _ = IdentityFromContext(stream.Context())
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "u2", got.UserID)
	assert.Equal(t, "b@example.com", got.Email)

	err = i.Stream()(nil, &fakeStream{ctx: incoming("")}, &grpc.StreamServerInfo{FullMethod: "/social.PostService/WatchPosts"},
		func(interface{}, grpc.ServerStream) error { return nil })
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
