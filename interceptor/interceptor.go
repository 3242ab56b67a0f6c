package interceptor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ContextKey type for context keys
type ContextKey string

const (
	IdentityKey ContextKey = "identity"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID      string
	DisplayName string
	Email       string
	PhotoURL    string
}

// AuthInterceptor provides gRPC interceptor for JWT authentication
type AuthInterceptor struct {
	jwtSecret     string
	publicMethods map[string]bool
}

// NewAuthInterceptor creates a new auth interceptor with public methods.
// Public methods accept anonymous callers; a token sent to one is still
// verified so handlers can tailor responses to the viewer.
func NewAuthInterceptor(jwtSecret string, publicMethods []string) *AuthInterceptor {
	methodMap := make(map[string]bool)
	for _, method := range publicMethods {
		methodMap[method] = true
	}

	return &AuthInterceptor{
		jwtSecret:     jwtSecret,
		publicMethods: methodMap,
	}
}

// Unary returns a server interceptor function to authenticate and authorize unary RPC
func (interceptor *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx, err := interceptor.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream returns a server interceptor function to authenticate and authorize stream RPC
func (interceptor *AuthInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := interceptor.authenticate(stream.Context(), info.FullMethod)
		if err != nil {
			return err
		}

		wrappedStream := &wrappedStream{
			ServerStream: stream,
			ctx:          ctx,
		}
		return handler(srv, wrappedStream)
	}
}

func (interceptor *AuthInterceptor) authenticate(ctx context.Context, method string) (context.Context, error) {
	token, err := bearerToken(ctx)
	if err != nil {
		if interceptor.publicMethods[method] {
			return ctx, nil
		}
		return nil, err
	}

	claims, err := interceptor.verifyToken(token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, fmt.Sprintf("invalid token: %v", err))
	}
	if claims.UserID == "" {
		return nil, status.Error(codes.Unauthenticated, "invalid token: missing user_id")
	}

	return WithIdentity(ctx, claims.Identity()), nil
}

func bearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "metadata is not provided")
	}

	values := md["authorization"]
	if len(values) == 0 {
		return "", status.Error(codes.Unauthenticated, "authorization token is not provided")
	}

	token := values[0]
	if !strings.HasPrefix(token, "Bearer ") {
		return "", status.Error(codes.Unauthenticated, "invalid authorization format")
	}
	return strings.TrimPrefix(token, "Bearer "), nil
}

// verifyToken verifies the JWT token and extracts claims
func (interceptor *AuthInterceptor) verifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(interceptor.jwtSecret), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// Claims represents JWT claims
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() Identity {
	return Identity{UserID: c.UserID, DisplayName: c.DisplayName, Email: c.Email, PhotoURL: c.PhotoURL}
}

// IssueToken signs an HS256 token for id. Used by tooling and tests; the
// identity provider issues real tokens.
func IssueToken(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Email:       id.Email,
		PhotoURL:    id.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// wrappedStream wraps grpc.ServerStream with a custom context
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// IdentityFromContext returns the caller, if one authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	return id, ok
}
