package chat

import (
	"context"
	"time"

	"shopfront/chatsync/internal/models"
	"shopfront/chatsync/internal/reconcile"
	"shopfront/chatsync/internal/store"
	"shopfront/chatsync/internal/ws"
	"shopfront/chatsync/pkg/api"
	apperrors "shopfront/chatsync/pkg/errors"
	"shopfront/chatsync/pkg/logger"

	"github.com/google/uuid"
)

// Config holds the dependencies and identity for one chat session context.
type Config struct {
	Role   models.Role
	SelfID string
	// Token is the admin JWT presented during admin-join. Ignored for customers.
	Token string
	// WSURL and APIBaseURL override the configured endpoints when non-empty.
	WSURL      string
	APIBaseURL string
	Logger     *logger.Logger
}

// Session wires the connection manager, reconciliation engine, store and REST
// collaborator together for one chat context. It is explicitly constructed
// and passed down; nothing in this package is a process-wide singleton, so an
// admin console can hold several sessions at once.
type Session struct {
	Role   models.Role
	SelfID string

	Conn   *ws.Conn
	Store  *store.Store
	Engine *reconcile.Engine
	Rest   *api.Client

	logger *logger.Logger
}

// NewSession builds a fully wired session. The socket stays idle until
// OpenChat is called.
func NewSession(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = logger.GetGlobal()
	}

	st := store.New()
	conn := ws.NewConn(cfg.Role, cfg.Token, log)
	if cfg.WSURL != "" {
		conn.SetURL(cfg.WSURL)
	}
	var rest *api.Client
	if cfg.APIBaseURL != "" {
		rest = api.NewClientWithBaseURL(cfg.APIBaseURL, log)
	} else {
		rest = api.NewClient(log)
	}
	engine := reconcile.New(st, conn, rest, cfg.SelfID, cfg.Role, log)
	conn.SetHandler(engine.Handle)

	return &Session{
		Role:   cfg.Role,
		SelfID: cfg.SelfID,
		Conn:   conn,
		Store:  st,
		Engine: engine,
		Rest:   rest,
		logger: log.WithRole(string(cfg.Role)),
	}
}

// OpenChat makes chatID the active chat: the previous socket is closed, the
// dedup ledger starts fresh, and a new socket joins the chat's event stream.
func (s *Session) OpenChat(chatID string) error {
	if chatID == "" {
		return apperrors.NewNoActiveChatError()
	}
	s.Engine.SetActiveChat(chatID)
	s.Store.UpsertChat(models.ChatSession{
		ID:               chatID,
		ParticipantRole:  s.Role,
		LastActivityTime: time.Now(),
	})
	s.Store.ResetUnread(chatID)
	return s.Conn.Open(chatID)
}

// SendMessage validates, appends the provisional bubble, and transmits the
// message-event frame. The engine folds the server echo into the provisional
// entry when it arrives.
func (s *Session) SendMessage(text string) error {
	if text == "" {
		return apperrors.NewEmptyMessageError()
	}
	chatID := s.Engine.ActiveChat()
	if chatID == "" {
		return apperrors.NewNoActiveChatError()
	}

	s.Store.AppendMessage(models.Message{
		ID:          "local-" + uuid.New().String(),
		ChatID:      chatID,
		SenderID:    s.SelfID,
		Text:        text,
		SentAt:      time.Now(),
		Provisional: true,
	})

	return s.Conn.Send(models.EventMessage, map[string]string{
		"message":   text,
		"chat_id":   chatID,
		"sender_id": s.SelfID,
	})
}

// EditMessage requests an edit of an existing message. The store is only
// updated when the server broadcasts message-updated back.
func (s *Session) EditMessage(messageID, text string) error {
	if text == "" {
		return apperrors.NewEmptyMessageError()
	}
	return s.Conn.Send(models.EventEditMessage, map[string]string{
		"message_id": messageID,
		"message":    text,
		"user_id":    s.SelfID,
	})
}

// DeleteMessage requests a soft delete of an existing message.
func (s *Session) DeleteMessage(messageID string) error {
	return s.Conn.Send(models.EventDeleteMessage, map[string]string{
		"message_id": messageID,
		"user_id":    s.SelfID,
	})
}

// MarkRead is the presentation adapter's visibility hook: it acknowledges a
// counterpart message over both the socket and the REST endpoint, and zeroes
// the local counter.
func (s *Session) MarkRead(ctx context.Context, messageID string) error {
	chatID := s.Engine.ActiveChat()
	if chatID == "" {
		return apperrors.NewNoActiveChatError()
	}
	s.Store.ResetUnread(chatID)

	sockErr := s.Conn.Send(models.EventMarkAsRead, map[string]string{
		"message_id": messageID,
		"user_id":    s.SelfID,
	})
	restErr := s.Rest.MarkRead(ctx, messageID, s.SelfID)
	if sockErr != nil {
		return sockErr
	}
	return restErr
}

// Close releases the socket. The store survives so the UI can keep rendering
// the last known state.
func (s *Session) Close() {
	s.Conn.Close()
}
