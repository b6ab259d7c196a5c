// Package server is the mock storefront chat backend used for local
// development and integration tests. It implements the client-side wire
// contract: join handshakes, history replay as fragment snapshots, live
// message broadcast, read receipts, edits and soft deletes, plus a canned
// FAQ auto-reply played back after a fixed delay.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"shopfront/chatsync/internal/models"
	"shopfront/chatsync/pkg/config"
	apperrors "shopfront/chatsync/pkg/errors"
	"shopfront/chatsync/pkg/jwt"
	"shopfront/chatsync/pkg/logger"
	"shopfront/chatsync/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// fragmentGap is the idle window that splits a chat's history into separate
// thread-slices when it is replayed on join.
const fragmentGap = 30 * time.Minute

var fragmentPalette = []string{"#7bd389", "#64b6ff", "#ffb86b", "#d98bff", "#ff8b94"}

type chatState struct {
	id        string
	messages  []models.Message
	createdAt time.Time
}

// Server holds all mock backend state in memory.
type Server struct {
	mu      sync.Mutex
	chats   map[string]*chatState
	clients map[*client]bool

	faq      map[string]string
	faqDelay time.Duration
	logger   *logger.Logger
}

// New creates a mock server. faq maps lowercase question substrings to the
// canned manager reply.
func New(log *logger.Logger, faq map[string]string) *Server {
	if log == nil {
		log = logger.GetGlobal()
	}
	if faq == nil {
		faq = map[string]string{
			"delivery": "Standard delivery takes 2-4 business days.",
			"refund":   "Refunds are processed within 14 days of return.",
		}
	}
	return &Server{
		chats:    make(map[string]*chatState),
		clients:  make(map[*client]bool),
		faq:      faq,
		faqDelay: config.Get().MockServer.FAQReplyDelay,
		logger:   log,
	}
}

// SetFAQDelay overrides the canned-reply delay. Tests shorten it.
func (s *Server) SetFAQDelay(d time.Duration) {
	s.faqDelay = d
}

// Router builds the gin engine with the websocket and REST routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(s.logger))

	limiter := middleware.NewRateLimiter(s.logger)
	r.Use(limiter.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws/chat", s.handleSocket)
	r.POST("/messages/:id/mark-read", s.handleMarkRead)
	return r
}

// handleSocket upgrades the connection, waits for the join handshake and
// registers the client with its chat.
func (s *Server) handleSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.LogError(err, "websocket upgrade failed")
		return
	}

	conn.SetReadDeadline(time.Now().Add(writeWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	var join struct {
		Event string `json:"event"`
		Data  struct {
			ChatID string `json:"chat_id"`
			Token  string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &join); err != nil || join.Data.ChatID == "" {
		conn.Close()
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, 64), chatID: join.Data.ChatID}
	switch join.Event {
	case models.EventJoin:
	case models.EventAdminJoin:
		claims, err := jwt.ValidateToken(join.Data.Token)
		if err != nil {
			s.logger.Warn("rejecting admin-join with bad token")
			conn.Close()
			return
		}
		cl.admin = true
		cl.adminID = claims.AdminID
	default:
		conn.Close()
		return
	}

	isNew := s.register(cl)
	go s.writePump(cl)
	go s.readPump(cl)

	s.replayHistory(cl)
	if cl.admin {
		s.sendChatList(cl)
	} else if isNew {
		// A customer opened a conversation the admin consoles have not seen.
		s.broadcastToAdmins(models.EventNewChat, models.ChatSession{
			ID:               cl.chatID,
			ParticipantRole:  models.RoleCustomer,
			LastActivityTime: time.Now(),
		})
	}
}

func (s *Server) register(cl *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[cl] = true
	if _, ok := s.chats[cl.chatID]; !ok {
		s.chats[cl.chatID] = &chatState{id: cl.chatID, createdAt: time.Now()}
		return true
	}
	return false
}

func (s *Server) unregister(cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[cl]; ok {
		delete(s.clients, cl)
		close(cl.send)
	}
}

// replayHistory sends the chat's messages as a fragment snapshot, sliced on
// idle gaps and colored from a fixed palette.
func (s *Server) replayHistory(cl *client) {
	s.mu.Lock()
	chat := s.chats[cl.chatID]
	msgs := make([]models.Message, len(chat.messages))
	copy(msgs, chat.messages)
	s.mu.Unlock()

	if len(msgs) == 0 {
		return
	}

	var frags []models.Fragment
	var current []models.Message
	flush := func() {
		if len(current) == 0 {
			return
		}
		frags = append(frags, models.Fragment{
			ID:       uuid.New().String(),
			Color:    fragmentPalette[len(frags)%len(fragmentPalette)],
			Messages: current,
		})
		current = nil
	}
	for i, m := range msgs {
		if i > 0 && m.SentAt.Sub(msgs[i-1].SentAt) > fragmentGap {
			flush()
		}
		current = append(current, m)
	}
	flush()

	raw, err := json.Marshal(frags)
	if err != nil {
		return
	}
	cl.sendRaw(raw)
}

// sendChatList replays new-chat events so a freshly joined admin console can
// build its chat list.
func (s *Server) sendChatList(cl *client) {
	s.mu.Lock()
	sessions := make([]models.ChatSession, 0, len(s.chats))
	for _, chat := range s.chats {
		last := chat.createdAt
		preview := ""
		if n := len(chat.messages); n > 0 {
			last = chat.messages[n-1].SentAt
			preview = chat.messages[n-1].Text
		}
		sessions = append(sessions, models.ChatSession{
			ID:               chat.id,
			ParticipantRole:  models.RoleCustomer,
			LastActivityTime: last,
			Preview:          preview,
		})
	}
	s.mu.Unlock()

	for _, session := range sessions {
		cl.sendEnvelope(models.EventNewChat, session)
	}
}

func (s *Server) handleClientEvent(cl *client, event string, data json.RawMessage) {
	switch event {
	case models.EventMessage:
		s.handleMessageEvent(data)
	case models.EventMarkAsRead:
		s.handleMarkAsReadEvent(cl, data)
	case models.EventEditMessage:
		s.handleEditMessage(data)
	case models.EventDeleteMessage:
		s.handleDeleteMessage(data)
	default:
		s.logger.Warn("unknown client event", "event", event)
	}
}

func (s *Server) handleMessageEvent(data json.RawMessage) {
	var payload struct {
		Message  string `json:"message"`
		ChatID   string `json:"chat_id"`
		SenderID string `json:"sender_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" || payload.ChatID == "" {
		return
	}

	msg := models.Message{
		ID:       uuid.New().String(),
		ChatID:   payload.ChatID,
		SenderID: payload.SenderID,
		Text:     payload.Message,
		SentAt:   time.Now(),
	}

	s.mu.Lock()
	chat, ok := s.chats[payload.ChatID]
	isNew := !ok
	if isNew {
		chat = &chatState{id: payload.ChatID, createdAt: time.Now()}
		s.chats[payload.ChatID] = chat
	}
	chat.messages = append(chat.messages, msg)
	s.mu.Unlock()

	if isNew {
		s.broadcastToAdmins(models.EventNewChat, models.ChatSession{
			ID:               payload.ChatID,
			ParticipantRole:  models.RoleCustomer,
			LastActivityTime: msg.SentAt,
			Preview:          msg.Text,
		})
	}
	s.broadcast(payload.ChatID, models.EventMessage, msg)
	s.maybeFAQReply(payload.ChatID, payload.SenderID, payload.Message)
}

// maybeFAQReply plays the canned manager answer back after a fixed delay when
// a customer message matches a FAQ entry.
func (s *Server) maybeFAQReply(chatID, senderID, text string) {
	if senderID == "" || strings.HasPrefix(senderID, "admin") {
		return
	}
	lower := strings.ToLower(text)
	for key, reply := range s.faq {
		if strings.Contains(lower, key) {
			answer := reply
			time.AfterFunc(s.faqDelay, func() {
				msg := models.Message{
					ID:       uuid.New().String(),
					ChatID:   chatID,
					SenderID: "support-bot",
					Text:     answer,
					SentAt:   time.Now(),
				}
				s.mu.Lock()
				if chat, ok := s.chats[chatID]; ok {
					chat.messages = append(chat.messages, msg)
				}
				s.mu.Unlock()
				s.broadcast(chatID, models.EventMessage, msg)
			})
			return
		}
	}
}

func (s *Server) handleMarkAsReadEvent(cl *client, data json.RawMessage) {
	var payload struct {
		MessageID string `json:"message_id"`
		UserID    string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	s.markChatRead(cl.chatID, payload.UserID)
}

func (s *Server) markChatRead(chatID, readerID string) {
	now := time.Now()
	s.mu.Lock()
	if chat, ok := s.chats[chatID]; ok {
		for i := range chat.messages {
			if chat.messages[i].SenderID != readerID && !chat.messages[i].ReadStatus {
				chat.messages[i].ReadStatus = true
				at := now
				chat.messages[i].ReadAt = &at
			}
		}
	}
	s.mu.Unlock()

	s.broadcast(chatID, models.EventMarkAsRead, map[string]string{"chat_id": chatID})
}

func (s *Server) handleEditMessage(data json.RawMessage) {
	var payload struct {
		MessageID string `json:"message_id"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.MessageID == "" {
		return
	}

	var chatID string
	now := time.Now()
	s.mu.Lock()
	for _, chat := range s.chats {
		for i := range chat.messages {
			if chat.messages[i].ID == payload.MessageID {
				chat.messages[i].Text = payload.Message
				at := now
				chat.messages[i].EditedAt = &at
				chatID = chat.id
			}
		}
	}
	s.mu.Unlock()

	if chatID != "" {
		s.broadcast(chatID, models.EventMessageUpdated, map[string]string{
			"id":      payload.MessageID,
			"message": payload.Message,
		})
	}
}

func (s *Server) handleDeleteMessage(data json.RawMessage) {
	var payload struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.MessageID == "" {
		return
	}

	var chatID string
	s.mu.Lock()
	for _, chat := range s.chats {
		for i := range chat.messages {
			if chat.messages[i].ID == payload.MessageID {
				chat.messages[i].Deleted = true
				chatID = chat.id
			}
		}
	}
	s.mu.Unlock()

	if chatID != "" {
		s.broadcast(chatID, models.EventMessageDeleted, map[string]string{
			"id": payload.MessageID,
		})
	}
}

// handleMarkRead is the REST side of the read receipt. It mirrors the socket
// event; clients fire both without relying on either.
func (s *Server) handleMarkRead(c *gin.Context) {
	messageID := c.Param("id")
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		appErr := apperrors.NewInvalidPayloadError("user_id is required")
		c.JSON(appErr.StatusCode, appErr)
		return
	}

	var chatID string
	s.mu.Lock()
	for _, chat := range s.chats {
		for i := range chat.messages {
			if chat.messages[i].ID == messageID {
				chatID = chat.id
			}
		}
	}
	s.mu.Unlock()

	if chatID == "" {
		appErr := apperrors.NewUnknownMessageError(messageID)
		c.JSON(appErr.StatusCode, appErr)
		return
	}

	s.markChatRead(chatID, body.UserID)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// broadcast delivers an event to every client joined to the chat, plus every
// admin client. Admin consoles watch all chats at once, which is what drives
// the client-side unread counters for background chats.
func (s *Server) broadcast(chatID, event string, data any) {
	raw, err := json.Marshal(models.Envelope{Event: event, Data: data})
	if err != nil {
		return
	}

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		if cl.chatID == chatID || cl.admin {
			targets = append(targets, cl)
		}
	}
	s.mu.Unlock()

	for _, cl := range targets {
		cl.sendRaw(raw)
	}
}

func (s *Server) broadcastToAdmins(event string, data any) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		if cl.admin {
			targets = append(targets, cl)
		}
	}
	s.mu.Unlock()

	for _, cl := range targets {
		cl.sendEnvelope(event, data)
	}
}
