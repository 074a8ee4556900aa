package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testUser(t *testing.T, s *SQLiteStore, email string) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, "hash")
	require.NoError(t, err)
	return u
}

func addMessage(t *testing.T, s *SQLiteStore, chatID, content string, ai bool) Message {
	t.Helper()
	msg := Message{ChatID: chatID, Content: content, IsAIResponse: ai}
	require.NoError(t, s.CreateMessage(context.Background(), &msg))
	return msg
}

func TestCreateUser_Duplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := testUser(t, s, "a@example.com")
	assert.Positive(t, u.ID)

	_, err := s.CreateUser(ctx, "a@example.com", "other")
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)

	missing, err := s.GetUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateChat_DefaultTitle(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s, "a@example.com")

	chat, err := s.CreateChat(context.Background(), u.ID, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultChatTitle, chat.Title)
	assert.NotEmpty(t, chat.ID)
	assert.Equal(t, chat.CreatedAt, chat.UpdatedAt)
}

func TestGetChatByID_ScopedToOwner(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	alice := testUser(t, s, "alice@example.com")
	bob := testUser(t, s, "bob@example.com")

	chat, err := s.CreateChat(ctx, alice.ID, "Alice's")
	require.NoError(t, err)

	got, err := s.GetChatByID(ctx, chat.ID, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice's", got.Title)

	got, err = s.GetChatByID(ctx, chat.ID, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateMessage_OrderAndTouch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s, "a@example.com")
	chat, err := s.CreateChat(ctx, u.ID, "")
	require.NoError(t, err)

	m1 := addMessage(t, s, chat.ID, "one", false)
	m2 := addMessage(t, s, chat.ID, "two", true)
	m3 := addMessage(t, s, chat.ID, "three", false)

	msgs, err := s.GetMessagesByChatID(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.True(t, msgs[1].IsAIResponse)
	assert.False(t, msgs[0].IsAIResponse)

	touched, err := s.GetChatByID(ctx, chat.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, touched.UpdatedAt.Before(m3.CreatedAt))
}

func TestGetChatsByUserID_MostRecentFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s, "a@example.com")

	older, err := s.CreateChat(ctx, u.ID, "older")
	require.NoError(t, err)
	newer, err := s.CreateChat(ctx, u.ID, "newer")
	require.NoError(t, err)

	chats, err := s.GetChatsByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, newer.ID, chats[0].ID)

	// Appending a message makes the older chat the most recent one.
	addMessage(t, s, older.ID, "bump", false)
	chats, err = s.GetChatsByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, chats[0].ID)
}

func TestUpdateChatTitle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	alice := testUser(t, s, "alice@example.com")
	bob := testUser(t, s, "bob@example.com")
	chat, err := s.CreateChat(ctx, alice.ID, "")
	require.NoError(t, err)

	ok, err := s.UpdateChatTitle(ctx, chat.ID, bob.ID, "stolen")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpdateChatTitle(ctx, chat.ID, alice.ID, "Renamed")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetChatByID(ctx, chat.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
}

func TestUpsertFeedback_ReplacesExisting(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s, "a@example.com")
	chat, err := s.CreateChat(ctx, u.ID, "")
	require.NoError(t, err)
	msg := addMessage(t, s, chat.ID, "answer", true)

	comment := "meh"
	first := Feedback{MessageID: msg.ID, Rating: 2, FeedbackType: "unhelpful", Comment: &comment}
	require.NoError(t, s.UpsertFeedback(ctx, &first))

	second := Feedback{MessageID: msg.ID, Rating: 5, FeedbackType: "helpful"}
	require.NoError(t, s.UpsertFeedback(ctx, &second))

	n, err := s.CountFeedback(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetFeedbackByMessageID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.Rating)
	assert.Equal(t, "helpful", got.FeedbackType)
	assert.Nil(t, got.Comment)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))
}

func TestGetMessageWithOwner(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := testUser(t, s, "a@example.com")
	chat, err := s.CreateChat(ctx, u.ID, "")
	require.NoError(t, err)
	msg := addMessage(t, s, chat.ID, "hi", false)

	mo, err := s.GetMessageWithOwner(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, mo)
	assert.Equal(t, u.ID, mo.OwnerID)
	assert.Equal(t, chat.ID, mo.ChatID)

	mo, err = s.GetMessageWithOwner(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, mo)
}

func TestDeleteChatsByUserID_CascadesAndIsolates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	alice := testUser(t, s, "alice@example.com")
	bob := testUser(t, s, "bob@example.com")

	var aliceMsgs []Message
	for i := 0; i < 2; i++ {
		chat, err := s.CreateChat(ctx, alice.ID, "")
		require.NoError(t, err)
		m := addMessage(t, s, chat.ID, "question", false)
		require.NoError(t, s.UpsertFeedback(ctx, &Feedback{MessageID: m.ID, Rating: 4, FeedbackType: "helpful"}))
		aliceMsgs = append(aliceMsgs, m)
	}
	bobChat, err := s.CreateChat(ctx, bob.ID, "")
	require.NoError(t, err)
	bobMsg := addMessage(t, s, bobChat.ID, "mine", false)
	require.NoError(t, s.UpsertFeedback(ctx, &Feedback{MessageID: bobMsg.ID, Rating: 1, FeedbackType: "unhelpful"}))

	n, err := s.DeleteChatsByUserID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	chats, err := s.GetChatsByUserID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, chats)
	for _, m := range aliceMsgs {
		mo, err := s.GetMessageWithOwner(ctx, m.ID)
		require.NoError(t, err)
		assert.Nil(t, mo)
		cnt, err := s.CountFeedback(ctx, m.ID)
		require.NoError(t, err)
		assert.Zero(t, cnt)
	}

	bobMsgs, err := s.GetMessagesByChatID(ctx, bobChat.ID)
	require.NoError(t, err)
	assert.Len(t, bobMsgs, 1)
	cnt, err := s.CountFeedback(ctx, bobMsg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cnt)
}

func TestDeleteChat_OwnerOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	alice := testUser(t, s, "alice@example.com")
	bob := testUser(t, s, "bob@example.com")
	chat, err := s.CreateChat(ctx, alice.ID, "")
	require.NoError(t, err)
	addMessage(t, s, chat.ID, "hi", false)

	ok, err := s.DeleteChat(ctx, chat.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DeleteChat(ctx, chat.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	msgs, err := s.GetMessagesByChatID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
