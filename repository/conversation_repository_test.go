package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-service/docstore"
	"social-service/docstore/memory"
	"social-service/docstore/realtime"
	"social-service/model"
)

func setupConversation(t *testing.T, store docstore.Store) (ProfileRepository, ConversationRepository) {
	t.Helper()
	ctx := context.Background()
	clock := NewMonotonicClock()
	profiles := NewProfileRepository(store, WithClock(clock))
	for id, name := range map[string]string{"u1": "alice", "u2": "bob", "u3": "carol"} {
		_, err := profiles.CreateProfile(ctx, id, models.ProfileInput{Username: name})
		require.NoError(t, err)
	}
	convs := NewConversationRepository(store, profiles, WithClock(clock))
	_, err := convs.CreateConversation(ctx, "c1", "u1", "u2")
	require.NoError(t, err)
	return profiles, convs
}

func TestSendMessageUpdatesSummary(t *testing.T) {
	eachBackend(t, func(t *testing.T, store docstore.Store) {
		ctx := context.Background()
		_, convs := setupConversation(t, store)

		msg, err := convs.SendMessage(ctx, "c1", "u1", "hi")
		require.NoError(t, err)

		messages, err := convs.ListMessages(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "hi", messages[0].Text)
		assert.Equal(t, msg.ID, messages[0].ID)

		for _, user := range []string{"u1", "u2"} {
			list, err := convs.ListConversations(ctx, user)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "c1", list[0].ID)
			assert.Equal(t, "hi", list[0].LastMessage)
			assert.Equal(t, "u1", list[0].LastSenderID)
			assert.Equal(t, msg.Timestamp, list[0].Timestamp)
		}

		reply, err := convs.SendMessage(ctx, "c1", "u2", "hello back")
		require.NoError(t, err)
		messages, err = convs.ListMessages(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, reply.ID, messages[1].ID)
	})
}

// gatedStore holds back the commit of any batch that creates a message with
// the given text until release is closed.
type gatedStore struct {
	docstore.Store
	text    string
	reached chan struct{}
	release chan struct{}
}

func (g *gatedStore) Commit(ctx context.Context, b *docstore.Batch) error {
	for _, w := range b.Writes() {
		if w.Kind == docstore.WriteCreate && w.Data["text"] == g.text {
			close(g.reached)
			<-g.release
		}
	}
	return g.Store.Commit(ctx, b)
}

func TestSendMessageSummaryNeverMovesBackwards(t *testing.T) {
	eachBackend(t, func(t *testing.T, store docstore.Store) {
		ctx := context.Background()
		gated := &gatedStore{Store: store, text: "first", reached: make(chan struct{}), release: make(chan struct{})}
		_, convs := setupConversation(t, gated)

		type result struct {
			msg *models.Message
			err error
		}
		done := make(chan result, 1)
		go func() {
			msg, err := convs.SendMessage(ctx, "c1", "u1", "first")
			done <- result{msg, err}
		}()
		<-gated.reached

		second, err := convs.SendMessage(ctx, "c1", "u2", "second")
		require.NoError(t, err)
		close(gated.release)
		first := <-done
		require.NoError(t, first.err)
		require.Less(t, first.msg.Timestamp, second.Timestamp)

		messages, err := convs.ListMessages(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, messages, 2)
		last := messages[len(messages)-1]
		assert.Equal(t, "second", last.Text)

		list, err := convs.ListConversations(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, last.Text, list[0].LastMessage)
		assert.Equal(t, "u2", list[0].LastSenderID)
		assert.Equal(t, second.Timestamp, list[0].Timestamp)
	})
}

func TestListConversationsByActivity(t *testing.T) {
	eachBackend(t, func(t *testing.T, store docstore.Store) {
		ctx := context.Background()
		profiles, convs := setupConversation(t, store)
		_, err := convs.CreateConversation(ctx, "c2", "u3", "u1")
		require.NoError(t, err)
		_, err = convs.CreateConversation(ctx, "c3", "u2", "u3")
		require.NoError(t, err)

		list, err := convs.ListConversations(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "c2", list[0].ID)

		_, err = convs.SendMessage(ctx, "c1", "u2", "bump")
		require.NoError(t, err)
		list, err = convs.ListConversations(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "c1", list[0].ID)
		assert.Equal(t, "c2", list[1].ID)

		// summaries follow the current profile
		_, err = profiles.UpdateProfile(ctx, "u2", models.ProfilePatch{DisplayName: strPtr("Bobby")})
		require.NoError(t, err)
		list, err = convs.ListConversations(ctx, "u1")
		require.NoError(t, err)
		other, ok := list[0].Other("u1")
		require.True(t, ok)
		assert.Equal(t, "Bobby", other.DisplayName)

		none, err := convs.ListConversations(ctx, "stranger")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestSendMessageValidation(t *testing.T) {
	ctx := context.Background()
	_, convs := setupConversation(t, memory.New())

	tests := []struct {
		name   string
		conv   string
		sender string
		text   string
		target error
	}{
		{"empty text", "c1", "u1", "   ", ErrValidation},
		{"too long", "c1", "u1", strings.Repeat("x", maxMessageLength+1), ErrValidation},
		{"not a participant", "c1", "u3", "hi", ErrValidation},
		{"missing conversation", "c9", "u1", "hi", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := convs.SendMessage(ctx, tt.conv, tt.sender, tt.text)
			require.ErrorIs(t, err, tt.target)
		})
	}

	_, err := convs.ListMessages(ctx, "c9")
	require.ErrorIs(t, err, ErrNotFound)

	c, err := convs.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, c.LastMessage)
}

func TestCreateConversation(t *testing.T) {
	ctx := context.Background()
	_, convs := setupConversation(t, memory.New())

	_, err := convs.CreateConversation(ctx, "c1", "u1", "u3")
	require.ErrorIs(t, err, ErrConflict)

	_, err = convs.CreateConversation(ctx, "", "u1", "u1")
	require.ErrorIs(t, err, ErrValidation)

	_, err = convs.CreateConversation(ctx, "", "u1", "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	c, err := convs.CreateConversation(ctx, "", "u1", "u3")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, []string{"u1", "u3"}, c.ParticipantIDs)
	assert.Equal(t, "carol", c.Participants[1].DisplayName)
}

func TestListConversationsKeepsStoredSummaryForMissingProfile(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	lookup := &countingLookup{profiles: map[string]string{"u1": "Alice", "u2": "Bob"}}
	convs := NewConversationRepository(store, lookup)

	_, err := convs.CreateConversation(ctx, "c1", "u1", "u2")
	require.NoError(t, err)
	_, err = convs.CreateConversation(ctx, "c2", "u1", "u3x")
	require.ErrorIs(t, err, ErrNotFound)

	delete(lookup.profiles, "u2")
	list, err := convs.ListConversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Bob", list[0].Participants[1].DisplayName)

	lookup.err = errBackendDown
	_, err = convs.ListConversations(ctx, "u1")
	var se *docstore.StorageError
	require.True(t, errors.As(err, &se))
}

func TestSendMessageStorageFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, convs := setupConversation(t, store)

	failing := NewConversationRepository(failingStore{store}, nil)
	_, err := failing.SendMessage(ctx, "c1", "u1", "lost")
	require.ErrorIs(t, err, errBackendDown)

	messages, err := convs.ListMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestWatchMessages(t *testing.T) {
	ctx := context.Background()
	_, convs := setupConversation(t, realtime.New(memory.New(), realtime.NewLocalNotifier()))

	updates := make(chan []models.Message, 16)
	unsub, err := convs.WatchMessages(ctx, "c1", func(m []models.Message) { updates <- m }, nil)
	require.NoError(t, err)
	defer unsub()
	waitFor(t, updates, func(m []models.Message) bool { return len(m) == 0 })

	inbox := make(chan []models.Conversation, 16)
	unsubInbox, err := convs.WatchConversations(ctx, "u2", func(c []models.Conversation) { inbox <- c }, nil)
	require.NoError(t, err)
	defer unsubInbox()

	_, err = convs.SendMessage(ctx, "c1", "u1", "hi")
	require.NoError(t, err)

	msgs := waitFor(t, updates, func(m []models.Message) bool { return len(m) == 1 })
	assert.Equal(t, "hi", msgs[0].Text)
	waitFor(t, inbox, func(c []models.Conversation) bool { return len(c) == 1 && c[0].LastMessage == "hi" })

	_, err = convs.WatchMessages(ctx, "c9", func([]models.Message) {}, nil)
	require.ErrorIs(t, err, ErrNotFound)
}
