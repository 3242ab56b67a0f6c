package models

const DefaultThumbnail = "https://placehold.co/600x400.png"

type LiveSession struct {
	ID              string `json:"id"`
	UserID          string `json:"userId"`
	UserDisplayName string `json:"userDisplayName"`
	UserAvatarURL   string `json:"userAvatarUrl"`
	Title           string `json:"title"`
	Thumbnail       string `json:"thumbnail"`
	Viewers         int64  `json:"viewers"`
	Timestamp       int64  `json:"timestamp"`
}

type LiveSessionInput struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}
