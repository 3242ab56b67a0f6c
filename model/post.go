package models

import (
	"strings"
)

type PostType string

const (
	PostTypeText  PostType = "text"
	PostTypeImage PostType = "image"
	PostTypeVideo PostType = "video"
)

func (t PostType) Valid() bool {
	switch t {
	case PostTypeText, PostTypeImage, PostTypeVideo:
		return true
	}
	return false
}

// Author is a snapshot of the poster taken at creation time. Later profile
// edits do not change it.
type Author struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	Handle    string `json:"handle"`
}

// HandleFor derives a handle from a display name.
func HandleFor(displayName string) string {
	return strings.Join(strings.Fields(strings.ToLower(displayName)), "_")
}

type Comment struct {
	ID        string `json:"id"`
	Author    Author `json:"author"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type Post struct {
	ID           string    `json:"id"`
	Author       Author    `json:"author"`
	UserID       string    `json:"userId"`
	Content      string    `json:"content"`
	Type         PostType  `json:"type"`
	MediaURL     string    `json:"mediaUrl,omitempty"`
	MediaAIHint  string    `json:"mediaAiHint,omitempty"`
	Likes        int64     `json:"likes"`
	Comments     int64     `json:"comments"`
	Shares       int64     `json:"shares"`
	CommentsData []Comment `json:"commentsData"`
	Timestamp    int64     `json:"timestamp"`
}

type PostInput struct {
	Author      Author   `json:"author"`
	UserID      string   `json:"userId"`
	Content     string   `json:"content"`
	Type        PostType `json:"type"`
	MediaURL    string   `json:"mediaUrl,omitempty"`
	MediaAIHint string   `json:"mediaAiHint,omitempty"`
}

// PostPatch is a merge-patch of a post. Comments is not patchable: the count
// always follows CommentsData.
type PostPatch struct {
	Content      *string    `json:"content,omitempty"`
	MediaURL     *string    `json:"mediaUrl,omitempty"`
	MediaAIHint  *string    `json:"mediaAiHint,omitempty"`
	Likes        *int64     `json:"likes,omitempty"`
	Shares       *int64     `json:"shares,omitempty"`
	Comments     *int64     `json:"comments,omitempty"`
	CommentsData *[]Comment `json:"commentsData,omitempty"`
}

type CommentInput struct {
	Author  Author `json:"author"`
	Content string `json:"content"`
}

type PageRequest struct {
	First int32   `json:"first"`
	After *string `json:"after,omitempty"`
}

type PostEdge struct {
	Cursor string `json:"cursor"`
	Node   Post   `json:"node"`
}

type PageInfo struct {
	EndCursor   *string `json:"endCursor,omitempty"`
	HasNextPage bool    `json:"hasNextPage"`
}

type PostConnection struct {
	Edges    []PostEdge `json:"edges"`
	PageInfo PageInfo   `json:"pageInfo"`
}

// Posts returns the nodes of the connection in order.
func (c *PostConnection) Posts() []Post {
	out := make([]Post, len(c.Edges))
	for i, e := range c.Edges {
		out[i] = e.Node
	}
	return out
}
