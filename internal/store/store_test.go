package store

import (
	"testing"
	"time"

	"shopfront/chatsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, chatID, sender, text string, at time.Time) models.Message {
	return models.Message{ID: id, ChatID: chatID, SenderID: sender, Text: text, SentAt: at}
}

func TestAppendMessageKeepsChronologicalOrder(t *testing.T) {
	s := New()
	base := time.Now()

	s.AppendMessage(msg("b", "c1", "u1", "second", base.Add(2*time.Second)))
	s.AppendMessage(msg("a", "c1", "u1", "first", base))
	s.AppendMessage(msg("c", "c1", "u1", "third", base.Add(4*time.Second)))
	s.AppendMessage(msg("ab", "c1", "u1", "between", base.Add(time.Second)))

	got := s.Messages("c1")
	require.Len(t, got, 4)
	assert.Equal(t, []string{"a", "ab", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID})
}

func TestAppendMessageEqualTimestampsPreserveArrivalOrder(t *testing.T) {
	s := New()
	at := time.Now()

	s.AppendMessage(msg("first", "c1", "u1", "1", at))
	s.AppendMessage(msg("second", "c1", "u1", "2", at))

	got := s.Messages("c1")
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID)
	assert.Equal(t, "second", got[1].ID)
}

func TestReplaceMessageKeepsPosition(t *testing.T) {
	s := New()
	base := time.Now()
	s.AppendMessage(msg("1", "c1", "u1", "a", base))
	prov := models.Message{ID: "local-1", ChatID: "c1", SenderID: "u1", Text: "b", SentAt: base.Add(time.Second), Provisional: true}
	s.AppendMessage(prov)
	s.AppendMessage(msg("3", "c1", "u1", "c", base.Add(2*time.Second)))

	ok := s.ReplaceMessage("c1", "local-1", msg("2", "c1", "u1", "b", base.Add(time.Second)))
	require.True(t, ok)

	got := s.Messages("c1")
	require.Len(t, got, 3)
	assert.Equal(t, "2", got[1].ID)
	assert.False(t, got[1].Provisional)

	assert.False(t, s.ReplaceMessage("c1", "nope", models.Message{}))
}

func TestFindProvisionalMatchesOldestUnconfirmed(t *testing.T) {
	s := New()
	base := time.Now()
	s.AppendMessage(models.Message{ID: "local-1", ChatID: "c1", SenderID: "u1", Text: "same", SentAt: base, Provisional: true})
	s.AppendMessage(models.Message{ID: "local-2", ChatID: "c1", SenderID: "u1", Text: "same", SentAt: base.Add(time.Second), Provisional: true})
	s.AppendMessage(msg("42", "c1", "u1", "same", base.Add(2*time.Second)))

	id, ok := s.FindProvisional("c1", "u1", "same")
	require.True(t, ok)
	assert.Equal(t, "local-1", id)

	_, ok = s.FindProvisional("c1", "u2", "same")
	assert.False(t, ok)
}

func TestMarkDeletedReplacesTextInPlace(t *testing.T) {
	s := New()
	base := time.Now()
	s.AppendMessage(msg("1", "c1", "u1", "keep", base))
	s.AppendMessage(msg("2", "c1", "u1", "drop", base.Add(time.Second)))

	require.True(t, s.MarkDeleted("2"))
	got := s.Messages("c1")
	require.Len(t, got, 2)
	assert.True(t, got[1].Deleted)
	assert.Equal(t, models.DeletedPlaceholder, got[1].Text)

	assert.False(t, s.MarkDeleted("unknown"))
}

func TestMarkChatReadOnlyTouchesOwnMessages(t *testing.T) {
	s := New()
	base := time.Now()
	s.AppendMessage(msg("1", "c1", "u1", "mine", base))
	s.AppendMessage(msg("2", "c1", "support", "theirs", base.Add(time.Second)))
	s.IncrementUnread("c1")

	s.MarkChatRead("c1", "u1", time.Now())

	assert.Equal(t, 0, s.Unread("c1"))
	got := s.Messages("c1")
	assert.True(t, got[0].ReadStatus)
	assert.False(t, got[1].ReadStatus)
}

func TestUpsertChatSortsByActivity(t *testing.T) {
	s := New()
	base := time.Now()
	s.UpsertChat(models.ChatSession{ID: "old", LastActivityTime: base.Add(-time.Hour)})
	s.UpsertChat(models.ChatSession{ID: "new", LastActivityTime: base})

	chats := s.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, "new", chats[0].ID)

	// Updating an existing chat does not duplicate it.
	s.UpsertChat(models.ChatSession{ID: "old", LastActivityTime: base.Add(time.Hour)})
	chats = s.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, "old", chats[0].ID)
}

func TestTouchChatUpdatesPreviewAndResorts(t *testing.T) {
	s := New()
	base := time.Now()
	s.UpsertChat(models.ChatSession{ID: "a", LastActivityTime: base})
	s.UpsertChat(models.ChatSession{ID: "b", LastActivityTime: base.Add(-time.Minute)})

	s.TouchChat("b", "newest words", base.Add(time.Minute))

	chats := s.Chats()
	assert.Equal(t, "b", chats[0].ID)
	assert.Equal(t, "newest words", chats[0].Preview)
}

func TestUnreadCountersAreIndependent(t *testing.T) {
	s := New()
	s.IncrementUnread("a")
	s.IncrementUnread("a")
	s.IncrementUnread("b")

	s.ResetUnread("a")

	assert.Equal(t, 0, s.Unread("a"))
	assert.Equal(t, 1, s.Unread("b"))
	assert.Equal(t, 0, s.Unread("never-seen"))
}

func TestChangedSignalCoalesces(t *testing.T) {
	s := New()
	s.AppendMessage(msg("1", "c1", "u1", "x", time.Now()))
	s.AppendMessage(msg("2", "c1", "u1", "y", time.Now()))

	select {
	case <-s.Changed():
	default:
		t.Fatal("expected a pending change signal")
	}
	select {
	case <-s.Changed():
		t.Fatal("signal must coalesce, not queue")
	default:
	}
}
