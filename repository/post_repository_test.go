package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-service/docstore"
	"social-service/docstore/memory"
	"social-service/docstore/realtime"
	"social-service/model"
)

func textPost(userID, content string) models.PostInput {
	return models.PostInput{
		Author:  models.Author{Name: "Alice Smith"},
		UserID:  userID,
		Content: content,
		Type:    models.PostTypeText,
	}
}

func TestCreatePostAndList(t *testing.T) {
	eachBackend(t, func(t *testing.T, store docstore.Store) {
		ctx := context.Background()
		repo := NewPostRepository(store)

		post, err := repo.CreatePost(ctx, textPost("u1", "hello"))
		require.NoError(t, err)
		assert.Zero(t, post.Likes)
		assert.Zero(t, post.Comments)
		assert.Zero(t, post.Shares)
		assert.NotEmpty(t, post.ID)
		assert.Equal(t, "alice_smith", post.Author.Handle)
		assert.Equal(t, models.DefaultPhotoURL, post.Author.AvatarURL)

		page, err := repo.ListPosts(ctx, models.PageRequest{})
		require.NoError(t, err)
		require.Len(t, page.Edges, 1)
		assert.Equal(t, "hello", page.Edges[0].Node.Content)
		assert.Equal(t, []models.Comment{}, page.Edges[0].Node.CommentsData)
		assert.False(t, page.PageInfo.HasNextPage)
	})
}

func TestListPostsNewestFirst(t *testing.T) {
	eachBackend(t, func(t *testing.T, store docstore.Store) {
		ctx := context.Background()
		repo := NewPostRepository(store)

		var ids []string
		for i := 0; i < 10; i++ {
			p, err := repo.CreatePost(ctx, textPost("u1", "post"))
			require.NoError(t, err)
			ids = append(ids, p.ID)
		}

		page, err := repo.ListPosts(ctx, models.PageRequest{})
		require.NoError(t, err)
		posts := page.Posts()
		require.Len(t, posts, 10)
		for i := 1; i < len(posts); i++ {
			assert.GreaterOrEqual(t, posts[i-1].Timestamp, posts[i].Timestamp)
		}
		assert.Equal(t, ids[9], posts[0].ID)
		assert.Equal(t, ids[0], posts[9].ID)
	})
}

func TestListPostsTiesBreakByInsertionOrder(t *testing.T) {
	eachBackend(t, func(t *testing.T, store docstore.Store) {
		ctx := context.Background()
		repo := NewPostRepository(store, WithClock(fixedClock(42)))

		first, err := repo.CreatePost(ctx, textPost("u1", "first"))
		require.NoError(t, err)
		second, err := repo.CreatePost(ctx, textPost("u1", "second"))
		require.NoError(t, err)

		page, err := repo.ListPosts(ctx, models.PageRequest{})
		require.NoError(t, err)
		posts := page.Posts()
		require.Len(t, posts, 2)
		assert.Equal(t, second.ID, posts[0].ID)
		assert.Equal(t, first.ID, posts[1].ID)
	})
}

func TestListPostsPagination(t *testing.T) {
	eachBackend(t, func(t *testing.T, store docstore.Store) {
		ctx := context.Background()
		repo := NewPostRepository(store)
		for i := 0; i < 5; i++ {
			_, err := repo.CreatePost(ctx, textPost("u1", "post"))
			require.NoError(t, err)
		}

		var seen []string
		var after *string
		for {
			page, err := repo.ListPosts(ctx, models.PageRequest{First: 2, After: after})
			require.NoError(t, err)
			for _, p := range page.Posts() {
				seen = append(seen, p.ID)
			}
			if !page.PageInfo.HasNextPage {
				break
			}
			require.NotNil(t, page.PageInfo.EndCursor)
			after = page.PageInfo.EndCursor
		}

		all, err := repo.ListPosts(ctx, models.PageRequest{})
		require.NoError(t, err)
		var want []string
		for _, p := range all.Posts() {
			want = append(want, p.ID)
		}
		assert.Equal(t, want, seen)

		_, err = repo.ListPosts(ctx, models.PageRequest{First: 2, After: strPtr("not a cursor")})
		require.ErrorIs(t, err, ErrValidation)
		_, err = repo.ListPosts(ctx, models.PageRequest{First: -1})
		require.ErrorIs(t, err, ErrValidation)
	})
}

func TestListUserPosts(t *testing.T) {
	ctx := context.Background()
	repo := NewPostRepository(memory.New())
	_, err := repo.CreatePost(ctx, textPost("u1", "mine"))
	require.NoError(t, err)
	_, err = repo.CreatePost(ctx, textPost("u2", "theirs"))
	require.NoError(t, err)

	page, err := repo.ListUserPosts(ctx, "u1", models.PageRequest{First: 10})
	require.NoError(t, err)
	require.Len(t, page.Edges, 1)
	assert.Equal(t, "mine", page.Edges[0].Node.Content)
}

func TestCreatePostValidation(t *testing.T) {
	repo := NewPostRepository(memory.New())
	tests := []struct {
		name  string
		input models.PostInput
		field string
	}{
		{"missing user", models.PostInput{Content: "x"}, "userId"},
		{"empty content", models.PostInput{UserID: "u1", Content: "   "}, "content"},
		{"unknown type", models.PostInput{UserID: "u1", Content: "x", Type: "poll"}, "type"},
		{"image without media", models.PostInput{UserID: "u1", Content: "x", Type: models.PostTypeImage}, "mediaUrl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.CreatePost(context.Background(), tt.input)
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	p, err := repo.CreatePost(context.Background(), models.PostInput{UserID: "u1", Type: models.PostTypeImage, MediaURL: "https://example.com/a.png"})
	require.NoError(t, err)
	assert.Equal(t, models.PostTypeImage, p.Type)
}

func TestUpdatePostKeepsCommentCountDerived(t *testing.T) {
	eachBackend(t, func(t *testing.T, store docstore.Store) {
		ctx := context.Background()
		repo := NewPostRepository(store)
		post, err := repo.CreatePost(ctx, textPost("u1", "hello"))
		require.NoError(t, err)

		comments := []models.Comment{
			{ID: "c1", Author: models.Author{Name: "Bob"}, Content: "nice", Timestamp: 1},
			{ID: "c2", Author: models.Author{Name: "Eve"}, Content: "meh", Timestamp: 2},
		}
		likes := int64(7)
		updated, err := repo.UpdatePost(ctx, post.ID, models.PostPatch{Likes: &likes, CommentsData: &comments})
		require.NoError(t, err)
		assert.Equal(t, int64(7), updated.Likes)
		assert.Equal(t, int64(2), updated.Comments)
		assert.Equal(t, comments, updated.CommentsData)
		assert.Equal(t, "hello", updated.Content)

		count := int64(99)
		_, err = repo.UpdatePost(ctx, post.ID, models.PostPatch{Comments: &count})
		require.ErrorIs(t, err, ErrValidation)

		_, err = repo.UpdatePost(ctx, "ghost", models.PostPatch{Likes: &likes})
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAddCommentAndLikes(t *testing.T) {
	eachBackend(t, func(t *testing.T, store docstore.Store) {
		ctx := context.Background()
		repo := NewPostRepository(store)
		post, err := repo.CreatePost(ctx, textPost("u1", "hello"))
		require.NoError(t, err)

		c, err := repo.AddComment(ctx, post.ID, models.CommentInput{Author: models.Author{Name: "Bob"}, Content: " great "})
		require.NoError(t, err)
		assert.Equal(t, "great", c.Content)
		_, err = repo.AddComment(ctx, post.ID, models.CommentInput{Content: "again"})
		require.NoError(t, err)

		require.NoError(t, repo.LikePost(ctx, post.ID))
		require.NoError(t, repo.LikePost(ctx, post.ID))
		require.NoError(t, repo.UnlikePost(ctx, post.ID))

		got, err := repo.GetPost(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Likes)
		assert.Equal(t, int64(2), got.Comments)
		require.Len(t, got.CommentsData, 2)
		assert.Equal(t, c.ID, got.CommentsData[0].ID)
		assert.Equal(t, models.DefaultDisplayName, got.CommentsData[1].Author.Name)

		_, err = repo.AddComment(ctx, post.ID, models.CommentInput{Content: ""})
		require.ErrorIs(t, err, ErrValidation)
		_, err = repo.AddComment(ctx, "ghost", models.CommentInput{Content: "x"})
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, repo.LikePost(ctx, "ghost"), ErrNotFound)

		missing, err := repo.GetPost(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func TestUnlikePostStopsAtZero(t *testing.T) {
	tests := []struct {
		name      string
		likes     int
		unlikes   int
		wantErr   error
		wantLikes int64
	}{
		{name: "fresh post", likes: 0, unlikes: 1, wantErr: ErrValidation, wantLikes: 0},
		{name: "one like", likes: 1, unlikes: 1, wantLikes: 0},
		{name: "past zero", likes: 2, unlikes: 3, wantErr: ErrValidation, wantLikes: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eachBackend(t, func(t *testing.T, store docstore.Store) {
				ctx := context.Background()
				repo := NewPostRepository(store)
				post, err := repo.CreatePost(ctx, textPost("u1", "hello"))
				require.NoError(t, err)

				for i := 0; i < tt.likes; i++ {
					require.NoError(t, repo.LikePost(ctx, post.ID))
				}
				var last error
				for i := 0; i < tt.unlikes; i++ {
					last = repo.UnlikePost(ctx, post.ID)
				}
				if tt.wantErr != nil {
					require.ErrorIs(t, last, tt.wantErr)
					var verr *ValidationError
					require.ErrorAs(t, last, &verr)
					assert.Equal(t, "likes", verr.Field)
				} else {
					require.NoError(t, last)
				}

				got, err := repo.GetPost(ctx, post.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.wantLikes, got.Likes)
			})
		})
	}

	require.ErrorIs(t, NewPostRepository(memory.New()).UnlikePost(context.Background(), "ghost"), ErrNotFound)
}

func TestWatchPosts(t *testing.T) {
	ctx := context.Background()

	_, err := NewPostRepository(memory.New()).WatchPosts(ctx, func([]models.Post) {}, nil)
	require.ErrorIs(t, err, docstore.ErrPushUnsupported)

	repo := NewPostRepository(realtime.New(memory.New(), realtime.NewLocalNotifier()))
	feed := make(chan []models.Post, 16)
	unsub, err := repo.WatchPosts(ctx, func(posts []models.Post) { feed <- posts }, func(err error) { t.Error(err) })
	require.NoError(t, err)
	defer unsub()

	waitFor(t, feed, func(p []models.Post) bool { return len(p) == 0 })

	_, err = repo.CreatePost(ctx, textPost("u1", "one"))
	require.NoError(t, err)
	second, err := repo.CreatePost(ctx, textPost("u1", "two"))
	require.NoError(t, err)

	posts := waitFor(t, feed, func(p []models.Post) bool { return len(p) == 2 })
	assert.Equal(t, second.ID, posts[0].ID)

	require.NoError(t, repo.LikePost(ctx, second.ID))
	waitFor(t, feed, func(p []models.Post) bool { return len(p) == 2 && p[0].Likes == 1 })
}
