package chat

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shopfront/chatsync/internal/models"
	"shopfront/chatsync/internal/server"
	"shopfront/chatsync/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBackend(t *testing.T) (string, string) {
	t.Helper()
	srv := server.New(nil, map[string]string{"delivery": "2-4 business days"})
	srv.SetFAQDelay(20 * time.Millisecond)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat", ts.URL
}

func newCustomer(t *testing.T, wsURL, apiURL, id string) *Session {
	t.Helper()
	sess := NewSession(Config{
		Role:       models.RoleCustomer,
		SelfID:     id,
		WSURL:      wsURL,
		APIBaseURL: apiURL,
	})
	t.Cleanup(sess.Close)
	return sess
}

func newAdmin(t *testing.T, wsURL, apiURL, adminID string) *Session {
	t.Helper()
	token, err := jwt.GenerateToken(adminID, time.Hour)
	require.NoError(t, err)
	sess := NewSession(Config{
		Role:       models.RoleAdmin,
		SelfID:     adminID,
		Token:      token,
		WSURL:      wsURL,
		APIBaseURL: apiURL,
	})
	t.Cleanup(sess.Close)
	return sess
}

func TestSendEchoFoldsIntoSingleMessage(t *testing.T) {
	wsURL, apiURL := startBackend(t)
	sess := newCustomer(t, wsURL, apiURL, "cust-1")

	require.NoError(t, sess.OpenChat("cust-1"))
	require.NoError(t, sess.SendMessage("Hi"))

	require.Eventually(t, func() bool {
		msgs := sess.Store.Messages("cust-1")
		return len(msgs) == 1 && !msgs[0].Provisional
	}, 2*time.Second, 10*time.Millisecond, "echo must replace the provisional bubble, not duplicate it")

	msgs := sess.Store.Messages("cust-1")
	assert.Equal(t, "Hi", msgs[0].Text)
	assert.NotEmpty(t, msgs[0].ID)
	assert.False(t, strings.HasPrefix(msgs[0].ID, "local-"))
}

func TestSendValidation(t *testing.T) {
	wsURL, apiURL := startBackend(t)
	sess := newCustomer(t, wsURL, apiURL, "cust-1")

	err := sess.SendMessage("hello")
	require.Error(t, err, "no active chat yet")

	require.NoError(t, sess.OpenChat("cust-1"))
	require.Error(t, sess.SendMessage(""))
}

func TestFAQAutoReplyArrivesAsCounterpartMessage(t *testing.T) {
	wsURL, apiURL := startBackend(t)
	sess := newCustomer(t, wsURL, apiURL, "cust-2")

	require.NoError(t, sess.OpenChat("cust-2"))
	require.NoError(t, sess.SendMessage("how long is delivery?"))

	require.Eventually(t, func() bool {
		return len(sess.Store.Messages("cust-2")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	msgs := sess.Store.Messages("cust-2")
	assert.Equal(t, "support-bot", msgs[1].SenderID)
	assert.Equal(t, "2-4 business days", msgs[1].Text)
	// The open chat acknowledges counterpart messages immediately.
	assert.True(t, msgs[1].ReadStatus)
}

func TestAdminSeesNewChatAndBackgroundUnread(t *testing.T) {
	wsURL, apiURL := startBackend(t)

	admin := newAdmin(t, wsURL, apiURL, "admin-1")
	require.NoError(t, admin.OpenChat("admin-desk"))

	customer := newCustomer(t, wsURL, apiURL, "cust-3")
	require.NoError(t, customer.OpenChat("cust-3"))
	require.NoError(t, customer.SendMessage("my order is late"))

	require.Eventually(t, func() bool {
		return admin.Store.Unread("cust-3") == 1
	}, 2*time.Second, 10*time.Millisecond)

	chats := admin.Store.Chats()
	require.NotEmpty(t, chats)
	assert.Equal(t, "cust-3", chats[0].ID, "chat list re-sorts with the active conversation first")
	assert.Equal(t, "my order is late", chats[0].Preview)
	assert.Empty(t, admin.Store.Messages("admin-desk"))
}

func TestAdminJoinRequiresValidToken(t *testing.T) {
	wsURL, apiURL := startBackend(t)

	sess := NewSession(Config{
		Role:       models.RoleAdmin,
		SelfID:     "admin-1",
		Token:      "forged",
		WSURL:      wsURL,
		APIBaseURL: apiURL,
	})
	t.Cleanup(sess.Close)

	// The dial and handshake succeed at the transport level; the server then
	// drops the socket, which surfaces as an error state.
	_ = sess.OpenChat("admin-desk")
	require.Eventually(t, func() bool {
		return sess.Conn.State() != "open" || sess.SendMessage("probe") != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDeleteRoundTripSoftDeletesInPlace(t *testing.T) {
	wsURL, apiURL := startBackend(t)
	sess := newCustomer(t, wsURL, apiURL, "cust-4")

	require.NoError(t, sess.OpenChat("cust-4"))
	require.NoError(t, sess.SendMessage("please remove this"))
	require.NoError(t, sess.SendMessage("and keep this"))

	var targetID string
	require.Eventually(t, func() bool {
		msgs := sess.Store.Messages("cust-4")
		if len(msgs) != 2 || msgs[0].Provisional {
			return false
		}
		targetID = msgs[0].ID
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.DeleteMessage(targetID))

	require.Eventually(t, func() bool {
		msgs := sess.Store.Messages("cust-4")
		return len(msgs) == 2 && msgs[0].Deleted
	}, 2*time.Second, 10*time.Millisecond)

	msgs := sess.Store.Messages("cust-4")
	assert.Equal(t, targetID, msgs[0].ID, "deleted message keeps its slot")
	assert.Equal(t, models.DeletedPlaceholder, msgs[0].Text)
	assert.False(t, msgs[1].Deleted)
}

func TestEditRoundTripUpdatesText(t *testing.T) {
	wsURL, apiURL := startBackend(t)
	sess := newCustomer(t, wsURL, apiURL, "cust-5")

	require.NoError(t, sess.OpenChat("cust-5"))
	require.NoError(t, sess.SendMessage("teh order"))

	var targetID string
	require.Eventually(t, func() bool {
		msgs := sess.Store.Messages("cust-5")
		if len(msgs) != 1 || msgs[0].Provisional {
			return false
		}
		targetID = msgs[0].ID
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.EditMessage(targetID, "the order"))

	require.Eventually(t, func() bool {
		msgs := sess.Store.Messages("cust-5")
		return len(msgs) == 1 && msgs[0].Text == "the order" && msgs[0].EditedAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHistoryReplaysOnceOnRejoin(t *testing.T) {
	wsURL, apiURL := startBackend(t)

	first := newCustomer(t, wsURL, apiURL, "cust-6")
	require.NoError(t, first.OpenChat("cust-6"))
	require.NoError(t, first.SendMessage("one"))
	require.NoError(t, first.SendMessage("two"))
	require.Eventually(t, func() bool {
		msgs := first.Store.Messages("cust-6")
		return len(msgs) == 2 && !msgs[0].Provisional && !msgs[1].Provisional
	}, 2*time.Second, 10*time.Millisecond)
	first.Close()

	second := newCustomer(t, wsURL, apiURL, "cust-6")
	require.NoError(t, second.OpenChat("cust-6"))

	require.Eventually(t, func() bool {
		return len(second.Store.Messages("cust-6")) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, second.Store.Fragments("cust-6"))

	// Idle settle: the snapshot must not re-apply.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, second.Store.Messages("cust-6"), 2)
}

func TestMarkReadHitsBothPaths(t *testing.T) {
	wsURL, apiURL := startBackend(t)
	sess := newCustomer(t, wsURL, apiURL, "cust-7")

	require.NoError(t, sess.OpenChat("cust-7"))
	require.NoError(t, sess.SendMessage("hello"))

	var id string
	require.Eventually(t, func() bool {
		msgs := sess.Store.Messages("cust-7")
		if len(msgs) != 1 || msgs[0].Provisional {
			return false
		}
		id = msgs[0].ID
		return true
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sess.MarkRead(ctx, id))
	assert.Equal(t, 0, sess.Store.Unread("cust-7"))
}
