package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	models "social-service/model"
	"social-service/publisher"
	"social-service/repository"
)

type CreateProfileRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

type GetProfileRequest struct {
	UserID string `json:"userId"`
}

type UpdateProfileRequest struct {
	Patch models.ProfilePatch `json:"patch"`
}

type FollowRequest struct {
	TargetID string `json:"targetId"`
}

type SearchProfilesRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit,omitempty"`
}

type ProfilesResponse struct {
	Profiles []*models.UserProfile `json:"profiles"`
}

// ProfileInvalidator drops cached copies of profiles that changed.
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, userIDs ...string)
}

type ProfileServiceServer interface {
	CreateProfile(context.Context, *CreateProfileRequest) (*models.UserProfile, error)
	GetProfile(context.Context, *GetProfileRequest) (*models.UserProfile, error)
	UpdateProfile(context.Context, *UpdateProfileRequest) (*models.UserProfile, error)
	Follow(context.Context, *FollowRequest) (*Empty, error)
	Unfollow(context.Context, *FollowRequest) (*Empty, error)
	SearchProfiles(context.Context, *SearchProfilesRequest) (*ProfilesResponse, error)
}

type ProfileHandler struct {
	errorMapper
	repo      repository.ProfileRepository
	publisher *publisher.EventPublisher
	cache     ProfileInvalidator
}

// NewProfileHandler wires the profile service. cache may be nil.
func NewProfileHandler(repo repository.ProfileRepository, pub *publisher.EventPublisher, cache ProfileInvalidator, logger *zap.Logger) *ProfileHandler {
	logger = nopLogger(logger)
	return &ProfileHandler{
		errorMapper: errorMapper{logger: logger},
		repo:        repo,
		publisher:   orDiscard(pub, logger),
		cache:       cache,
	}
}

// CreateProfile provisions the caller's profile. The email defaults to the
// one asserted by the identity provider.
func (h *ProfileHandler) CreateProfile(ctx context.Context, req *CreateProfileRequest) (*models.UserProfile, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	input := models.ProfileInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		PhotoURL:    req.PhotoURL,
		Bio:         req.Bio,
	}
	if input.Email == "" {
		input.Email = id.Email
	}
	if input.DisplayName == "" {
		input.DisplayName = id.DisplayName
	}
	if input.PhotoURL == "" {
		input.PhotoURL = id.PhotoURL
	}

	profile, err := h.repo.CreateProfile(ctx, id.UserID, input)
	if err != nil {
		return nil, h.status("CreateProfile", err)
	}

	_ = h.publisher.PublishUserCreated(profile.ID, profile.Username)
	return profile, nil
}

func (h *ProfileHandler) GetProfile(ctx context.Context, req *GetProfileRequest) (*models.UserProfile, error) {
	userID := req.UserID
	if userID == "" {
		userID = viewer(ctx)
	}
	if userID == "" {
		return nil, h.status("GetProfile", &repository.ValidationError{Field: "userId", Message: "is required"})
	}

	profile, err := h.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, h.status("GetProfile", err)
	}
	if profile == nil {
		return nil, h.status("GetProfile", &repository.NotFoundError{Kind: "profile", ID: userID})
	}
	return profile.VisibleTo(viewer(ctx)), nil
}

func (h *ProfileHandler) UpdateProfile(ctx context.Context, req *UpdateProfileRequest) (*models.UserProfile, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	profile, err := h.repo.UpdateProfile(ctx, id.UserID, req.Patch)
	if err != nil {
		return nil, h.status("UpdateProfile", err)
	}

	if h.cache != nil {
		h.cache.Invalidate(ctx, id.UserID)
	}
	return profile, nil
}

func (h *ProfileHandler) Follow(ctx context.Context, req *FollowRequest) (*Empty, error) {
	return h.follow(ctx, req, true)
}

func (h *ProfileHandler) Unfollow(ctx context.Context, req *FollowRequest) (*Empty, error) {
	return h.follow(ctx, req, false)
}

func (h *ProfileHandler) follow(ctx context.Context, req *FollowRequest, follow bool) (*Empty, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	op, apply := "Unfollow", h.repo.Unfollow
	if follow {
		op, apply = "Follow", h.repo.Follow
	}
	if err := apply(ctx, id.UserID, req.TargetID); err != nil {
		return nil, h.status(op, err)
	}

	_ = h.publisher.PublishFollow(id.UserID, req.TargetID, follow)
	return &Empty{}, nil
}

func (h *ProfileHandler) SearchProfiles(ctx context.Context, req *SearchProfilesRequest) (*ProfilesResponse, error) {
	profiles, err := h.repo.SearchProfiles(ctx, req.Prefix, req.Limit)
	if err != nil {
		return nil, h.status("SearchProfiles", err)
	}

	v := viewer(ctx)
	out := make([]*models.UserProfile, len(profiles))
	for i := range profiles {
		out[i] = profiles[i].VisibleTo(v)
	}
	return &ProfilesResponse{Profiles: out}, nil
}

const profileService = "social.ProfileService"

var ProfileServiceDesc = grpc.ServiceDesc{
	ServiceName: profileService,
	HandlerType: (*ProfileServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateProfile", Handler: unaryHandler("/"+profileService+"/CreateProfile", ProfileServiceServer.CreateProfile)},
		{MethodName: "GetProfile", Handler: unaryHandler("/"+profileService+"/GetProfile", ProfileServiceServer.GetProfile)},
		{MethodName: "UpdateProfile", Handler: unaryHandler("/"+profileService+"/UpdateProfile", ProfileServiceServer.UpdateProfile)},
		{MethodName: "Follow", Handler: unaryHandler("/"+profileService+"/Follow", ProfileServiceServer.Follow)},
		{MethodName: "Unfollow", Handler: unaryHandler("/"+profileService+"/Unfollow", ProfileServiceServer.Unfollow)},
		{MethodName: "SearchProfiles", Handler: unaryHandler("/"+profileService+"/SearchProfiles", ProfileServiceServer.SearchProfiles)},
	},
	Metadata: "social/profile.json",
}

func RegisterProfileServiceServer(s grpc.ServiceRegistrar, srv ProfileServiceServer) {
	s.RegisterService(&ProfileServiceDesc, srv)
}
