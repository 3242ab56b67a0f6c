package models

const (
	DefaultPhotoURL    = "https://placehold.co/100x100.png"
	DefaultBio         = "A new member of the community!"
	DefaultDisplayName = "Anonymous"
)

type PrivacySettings struct {
	HideFollowers bool `json:"hideFollowers"`
	HideFollowing bool `json:"hideFollowing"`
}

type UserProfile struct {
	ID              string          `json:"id"`
	Username        string          `json:"username"`
	DisplayName     string          `json:"displayName"`
	Email           string          `json:"email,omitempty"`
	PhotoURL        string          `json:"photoURL"`
	Bio             string          `json:"bio"`
	Followers       []string        `json:"followers"`
	Following       []string        `json:"following"`
	PrivacySettings PrivacySettings `json:"privacySettings"`
	CreatedAt       int64           `json:"createdAt"`
}

// VisibleTo returns the profile as viewerID may see it. Owners see
// everything; other viewers get hidden relationship lists emptied.
func (p *UserProfile) VisibleTo(viewerID string) *UserProfile {
	out := *p
	if viewerID == p.ID {
		return &out
	}
	if p.PrivacySettings.HideFollowers {
		out.Followers = []string{}
	}
	if p.PrivacySettings.HideFollowing {
		out.Following = []string{}
	}
	out.Email = ""
	return &out
}

// Summary is the denormalized form embedded in conversations.
func (p *UserProfile) Summary() ParticipantSummary {
	return ParticipantSummary{ID: p.ID, DisplayName: p.DisplayName, PhotoURL: p.PhotoURL}
}

type ParticipantSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// ProfileInput is supplied at signup. Empty PhotoURL and Bio take the
// defaults.
type ProfileInput struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// ProfilePatch names the fields to change; nil fields are left untouched.
type ProfilePatch struct {
	Username      *string `json:"username,omitempty"`
	DisplayName   *string `json:"displayName,omitempty"`
	PhotoURL      *string `json:"photoURL,omitempty"`
	Bio           *string `json:"bio,omitempty"`
	HideFollowers *bool   `json:"hideFollowers,omitempty"`
	HideFollowing *bool   `json:"hideFollowing,omitempty"`
}

func (p ProfilePatch) IsEmpty() bool {
	return p.Username == nil && p.DisplayName == nil && p.PhotoURL == nil &&
		p.Bio == nil && p.HideFollowers == nil && p.HideFollowing == nil
}
