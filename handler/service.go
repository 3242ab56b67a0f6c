// Package handler exposes the repositories as gRPC services. The services
// are described by hand and carried with the JSON codec, so every request
// and response below is a plain Go struct.
package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"social-service/docstore"
	"social-service/interceptor"
	"social-service/publisher"
	"social-service/repository"
)

// Empty is the response of calls that only report success.
type Empty struct{}

// PublicMethods lists the calls that accept anonymous callers.
var PublicMethods = []string{
	"/" + profileService + "/GetProfile",
	"/" + postService + "/ListPosts",
	"/" + postService + "/GetPost",
	"/" + liveService + "/GetSession",
	"/" + liveService + "/ListActiveSessions",
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
}

// Register installs every social service on s.
func Register(s grpc.ServiceRegistrar, profiles ProfileServiceServer, posts PostServiceServer, messaging MessagingServiceServer, live LiveServiceServer) {
	RegisterProfileServiceServer(s, profiles)
	RegisterPostServiceServer(s, posts)
	RegisterMessagingServiceServer(s, messaging)
	RegisterLiveServiceServer(s, live)
}

func unaryHandler[S, Req, Resp any](fullMethod string, fn func(S, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, ic grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if ic == nil {
			return fn(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return ic(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(srv.(S), ctx, req.(*Req))
		})
	}
}

func streamHandler[S, Req any](fn func(S, *Req, grpc.ServerStream) error) grpc.StreamHandler {
	return func(srv interface{}, stream grpc.ServerStream) error {
		in := new(Req)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return fn(srv.(S), in, stream)
	}
}

// serveWatch forwards snapshots of a push subscription to a server stream
// until the client goes away or the subscription fails. A slow client only
// ever receives the latest snapshot.
func serveWatch[T any](stream grpc.ServerStream, m errorMapper, op string, subscribe func(context.Context, func(T), func(error)) (docstore.Unsubscribe, error), message func(T) interface{}) error {
	ctx := stream.Context()
	updates := make(chan T, 1)
	failed := make(chan error, 1)

	unsubscribe, err := subscribe(ctx, func(v T) {
		select {
		case <-updates:
		default:
		}
		updates <- v
	}, func(err error) {
		select {
		case failed <- err:
		default:
		}
	})
	if err != nil {
		return m.status(op, err)
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case err := <-failed:
			return m.status(op, err)
		case v := <-updates:
			if err := stream.SendMsg(message(v)); err != nil {
				return err
			}
		}
	}
}

// toStatus maps repository and storage errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var storageErr *docstore.StorageError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, repository.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, repository.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, docstore.ErrPushUnsupported):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.As(err, &storageErr):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

type errorMapper struct {
	logger *zap.Logger
}

func (m errorMapper) status(op string, err error) error {
	st := toStatus(err)
	switch status.Code(st) {
	case codes.Internal, codes.Unavailable:
		m.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	}
	return st
}

func caller(ctx context.Context) (interceptor.Identity, error) {
	id, ok := interceptor.IdentityFromContext(ctx)
	if !ok {
		return interceptor.Identity{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return id, nil
}

// viewer returns the caller's id, or "" for anonymous callers.
func viewer(ctx context.Context) string {
	id, _ := interceptor.IdentityFromContext(ctx)
	return id.UserID
}

func nopLogger(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func orDiscard(pub *publisher.EventPublisher, logger *zap.Logger) *publisher.EventPublisher {
	if pub == nil {
		return publisher.NewEventPublisher(publisher.Discard, logger)
	}
	return pub
}
