package repository

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"social-service/docstore"
	"social-service/model"
)

// usernameKeyField holds the lowercased username on each profile document.
// It backs case-insensitive search and is not part of the profile model.
const usernameKeyField = "usernameLower"

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

type ProfileRepository interface {
	CreateProfile(ctx context.Context, userID string, input models.ProfileInput) (*models.UserProfile, error)
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) (*models.UserProfile, error)
	Follow(ctx context.Context, actorID, targetID string) error
	Unfollow(ctx context.Context, actorID, targetID string) error
	SearchProfiles(ctx context.Context, prefix string, limit int) ([]models.UserProfile, error)
	ProfileLookup
}

// ProfileLookup resolves the display summary of a user.
type ProfileLookup interface {
	// LookupSummary returns a *NotFoundError when the user has no profile.
	LookupSummary(ctx context.Context, userID string) (*models.ParticipantSummary, error)
}

type profileRepository struct {
	store docstore.Store
	opts  options
}

func NewProfileRepository(store docstore.Store, opts ...Option) ProfileRepository {
	return &profileRepository{store: store, opts: buildOptions(opts)}
}

// CreateProfile fails with a ConflictError when userID already has a profile
// or the username is taken. Usernames are unique regardless of case.
func (r *profileRepository) CreateProfile(ctx context.Context, userID string, input models.ProfileInput) (*models.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("userId", "is required")
	}
	if !usernamePattern.MatchString(input.Username) {
		return nil, invalid("username", "must be 3-30 letters, digits or underscores")
	}

	profile := &models.UserProfile{
		ID:          userID,
		Username:    input.Username,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Email:       strings.TrimSpace(input.Email),
		PhotoURL:    input.PhotoURL,
		Bio:         input.Bio,
		Followers:   []string{},
		Following:   []string{},
		CreatedAt:   r.opts.clock.Now(),
	}
	if profile.DisplayName == "" {
		profile.DisplayName = input.Username
	}
	if profile.PhotoURL == "" {
		profile.PhotoURL = models.DefaultPhotoURL
	}
	if profile.Bio == "" {
		profile.Bio = models.DefaultBio
	}

	data, err := docstore.FromStruct(profile)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(input.Username)
	data[usernameKeyField] = key
	batch := docstore.NewBatch().
		Create(usersCollection, userID, data).
		Create(usernamesCollection, key, map[string]any{"userId": userID})
	if err := r.store.Commit(ctx, batch); err != nil {
		var conflict *ConflictError
		if err = mapStoreError(err); errors.As(err, &conflict) && conflict.Kind == "username" {
			conflict.ID = input.Username
		}
		return nil, err
	}

	return profile, nil
}

// GetProfile returns nil without error when the user has no profile.
func (r *profileRepository) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	doc, err := r.store.Get(ctx, usersCollection, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, mapStoreError(err)
	}
	return decodeProfile(*doc)
}

func (r *profileRepository) UpdateProfile(ctx context.Context, userID string, patch models.ProfilePatch) (*models.UserProfile, error) {
	if patch.IsEmpty() {
		return nil, invalid("patch", "no fields to update")
	}
	if patch.Username != nil {
		return nil, invalid("username", "cannot be changed")
	}

	var updates []docstore.Update
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" {
			return nil, invalid("displayName", "cannot be empty")
		}
		updates = append(updates, docstore.Update{Path: "displayName", Value: name})
	}
	if patch.PhotoURL != nil {
		photo := *patch.PhotoURL
		if photo == "" {
			photo = models.DefaultPhotoURL
		}
		updates = append(updates, docstore.Update{Path: "photoURL", Value: photo})
	}
	if patch.Bio != nil {
		updates = append(updates, docstore.Update{Path: "bio", Value: *patch.Bio})
	}
	if patch.HideFollowers != nil {
		updates = append(updates, docstore.Update{Path: "privacySettings.hideFollowers", Value: *patch.HideFollowers})
	}
	if patch.HideFollowing != nil {
		updates = append(updates, docstore.Update{Path: "privacySettings.hideFollowing", Value: *patch.HideFollowing})
	}

	if err := r.store.Update(ctx, usersCollection, userID, updates...); err != nil {
		return nil, mapStoreError(err)
	}
	return r.mustGet(ctx, userID)
}

// Follow adds targetID to the actor's following and the actor to the
// target's followers in one atomic batch. Following twice changes nothing.
func (r *profileRepository) Follow(ctx context.Context, actorID, targetID string) error {
	if err := checkFollowPair(actorID, targetID); err != nil {
		return err
	}
	batch := docstore.NewBatch().
		Update(usersCollection, actorID, docstore.Update{Path: "following", Value: docstore.ArrayUnion(targetID)}).
		Update(usersCollection, targetID, docstore.Update{Path: "followers", Value: docstore.ArrayUnion(actorID)})
	return mapStoreError(r.store.Commit(ctx, batch))
}

func (r *profileRepository) Unfollow(ctx context.Context, actorID, targetID string) error {
	if err := checkFollowPair(actorID, targetID); err != nil {
		return err
	}
	batch := docstore.NewBatch().
		Update(usersCollection, actorID, docstore.Update{Path: "following", Value: docstore.ArrayRemove(targetID)}).
		Update(usersCollection, targetID, docstore.Update{Path: "followers", Value: docstore.ArrayRemove(actorID)})
	return mapStoreError(r.store.Commit(ctx, batch))
}

func checkFollowPair(actorID, targetID string) error {
	if actorID == "" {
		return invalid("actorId", "is required")
	}
	if targetID == "" {
		return invalid("targetId", "is required")
	}
	if actorID == targetID {
		return ErrSelfFollow
	}
	return nil
}

// SearchProfiles lists profiles whose username starts with prefix, ignoring
// case, in case-folded username order.
func (r *profileRepository) SearchProfiles(ctx context.Context, prefix string, limit int) ([]models.UserProfile, error) {
	switch {
	case limit <= 0:
		limit = defaultSearchLimit
	case limit > maxSearchLimit:
		limit = maxSearchLimit
	}

	q := docstore.From(usersCollection).OrderBy(usernameKeyField, docstore.Asc).WithLimit(limit)
	if prefix = strings.ToLower(prefix); prefix != "" {
		q = q.Where(usernameKeyField, docstore.OpGreaterEqual, prefix).
			Where(usernameKeyField, docstore.OpLess, prefix+"\uf8ff")
	}

	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, mapStoreError(err)
	}
	profiles := make([]models.UserProfile, 0, len(docs))
	for _, d := range docs {
		p, err := decodeProfile(d)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, nil
}

func (r *profileRepository) LookupSummary(ctx context.Context, userID string) (*models.ParticipantSummary, error) {
	p, err := r.mustGet(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := p.Summary()
	return &summary, nil
}

func (r *profileRepository) mustGet(ctx context.Context, userID string) (*models.UserProfile, error) {
	p, err := r.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NotFoundError{Kind: "profile", ID: userID}
	}
	return p, nil
}

func decodeProfile(doc docstore.Document) (*models.UserProfile, error) {
	var p models.UserProfile
	if err := doc.DataTo(&p); err != nil {
		return nil, err
	}
	p.ID = doc.ID
	if p.Followers == nil {
		p.Followers = []string{}
	}
	if p.Following == nil {
		p.Following = []string{}
	}
	return &p, nil
}
