package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"shopfront/chatsync/internal/models"
	"shopfront/chatsync/internal/store"
	"shopfront/chatsync/pkg/logger"

	"github.com/google/uuid"
)

// Sender is the outbound half of the connection manager, as seen by the
// engine when it acknowledges read receipts.
type Sender interface {
	Send(event string, payload any) error
}

// ReadReceipter is the REST collaborator for read receipts.
type ReadReceipter interface {
	MarkRead(ctx context.Context, messageID, userID string) error
}

// Engine turns the raw event stream from the connection manager into
// consistent, deduplicated, ordered mutations on the store. It is the sole
// mutator of messages after the optimistic-send step.
type Engine struct {
	store  *store.Store
	ledger *Ledger
	sender Sender
	rest   ReadReceipter
	selfID string
	role   models.Role
	logger *logger.Logger
	now    func() time.Time

	mu         sync.Mutex
	activeChat string
}

// New creates an engine for one chat client identity.
func New(st *store.Store, sender Sender, rest ReadReceipter, selfID string, role models.Role, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Engine{
		store:  st,
		ledger: NewLedger(),
		sender: sender,
		rest:   rest,
		selfID: selfID,
		role:   role,
		logger: log.WithRole(string(role)),
		now:    time.Now,
	}
}

// SetActiveChat switches the chat context: further events for other chats only
// touch counters and previews, and the dedup ledger starts fresh.
func (e *Engine) SetActiveChat(chatID string) {
	e.mu.Lock()
	e.activeChat = chatID
	e.mu.Unlock()
	e.ledger.Clear()
}

// ActiveChat returns the currently open chat id.
func (e *Engine) ActiveChat() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeChat
}

// envelope mirrors models.Envelope with the payload left raw for dispatch.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handle is the single inbound handler. It dispatches on payload shape and
// never panics or blocks the stream: anything unintelligible is counted,
// logged and dropped.
func (e *Engine) Handle(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}

	switch {
	case trimmed[0] == '{':
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Event != "" {
			e.handleEvent(env)
			return
		}
		protocolErrorsTotal.Inc()
		e.logger.Warn("dropping object payload without event tag")

	case trimmed[0] == '[':
		e.handleArray(trimmed)

	case json.Valid(trimmed):
		// Valid JSON but neither object nor array (number, quoted string).
		protocolErrorsTotal.Inc()
		e.logger.Warn("dropping unrecognized JSON payload")

	default:
		// Legacy plain-text frame from the counterpart.
		e.handleLegacyText(string(data))
	}
}

func (e *Engine) handleEvent(env envelope) {
	eventsTotal.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case models.EventMessage:
		e.handleMessageEvent(env.Data)
	case models.EventNewChat:
		e.handleNewChat(env.Data)
	case models.EventMarkAsRead:
		e.handleMarkAsRead(env.Data)
	case models.EventMessageUpdated:
		e.handleMessageUpdated(env.Data)
	case models.EventMessageDeleted:
		e.handleMessageDeleted(env.Data)
	default:
		protocolErrorsTotal.Inc()
		e.logger.Warn("dropping unknown event", "event", env.Event)
	}
}

// messageEvent is the live-message wire shape. TimeToSend may be absent for
// servers that stamp on receipt; we then fall back to arrival time.
type messageEvent struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	Message    string    `json:"message"`
	TimeToSend time.Time `json:"time_to_send"`
}

func (e *Engine) handleMessageEvent(data json.RawMessage) {
	var ev messageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		protocolErrorsTotal.Inc()
		e.logger.LogError(err, "bad message-event payload")
		return
	}
	if ev.TimeToSend.IsZero() {
		ev.TimeToSend = e.now()
	}

	// At-most-once application regardless of transport duplication.
	key := MessageKey(ev.ChatID, ev.ID)
	if ev.ID == "" {
		key = TextKey(ev.ChatID, ev.Message, ev.TimeToSend)
	}
	if !e.ledger.Mark(key) || (ev.ID != "" && e.store.HasMessage(ev.ChatID, ev.ID)) {
		dedupDroppedTotal.Inc()
		return
	}

	msg := models.Message{
		ID:       ev.ID,
		ChatID:   ev.ChatID,
		SenderID: ev.SenderID,
		Text:     ev.Message,
		SentAt:   ev.TimeToSend,
	}

	if ev.ChatID != e.ActiveChat() {
		// Background chat: counter and preview only, list re-sorts by activity.
		e.store.IncrementUnread(ev.ChatID)
		e.store.TouchChat(ev.ChatID, ev.Message, ev.TimeToSend)
		return
	}

	if ev.SenderID == e.selfID {
		// Server echo of our own send: fold it into the provisional bubble
		// instead of duplicating it.
		if provID, ok := e.store.FindProvisional(ev.ChatID, e.selfID, ev.Message); ok {
			e.store.ReplaceMessage(ev.ChatID, provID, msg)
		} else {
			e.store.AppendMessage(msg)
		}
		e.store.TouchChat(ev.ChatID, ev.Message, ev.TimeToSend)
		return
	}

	// Counterpart message in the open chat: it is read the moment it lands.
	msg.ReadStatus = true
	at := e.now()
	msg.ReadAt = &at
	e.store.AppendMessage(msg)
	e.store.TouchChat(ev.ChatID, ev.Message, ev.TimeToSend)
	e.acknowledgeRead(msg.ID)
}

// acknowledgeRead fires both read-receipt paths; neither is relied on for
// exactly-once delivery.
func (e *Engine) acknowledgeRead(messageID string) {
	if err := e.sender.Send(models.EventMarkAsRead, map[string]string{
		"message_id": messageID,
		"user_id":    e.selfID,
	}); err != nil {
		e.logger.LogError(err, "socket read receipt failed", "message_id", messageID)
	}
	if e.rest != nil && messageID != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.rest.MarkRead(ctx, messageID, e.selfID); err != nil {
				e.logger.LogError(err, "rest read receipt failed", "message_id", messageID)
			}
		}()
	}
}

func (e *Engine) handleNewChat(data json.RawMessage) {
	if e.role != models.RoleAdmin {
		return
	}
	var chat models.ChatSession
	if err := json.Unmarshal(data, &chat); err != nil || chat.ID == "" {
		protocolErrorsTotal.Inc()
		e.logger.Warn("bad new-chat payload")
		return
	}
	if chat.LastActivityTime.IsZero() {
		chat.LastActivityTime = e.now()
	}
	chat.ParticipantRole = models.RoleCustomer
	e.store.UpsertChat(chat)
}

func (e *Engine) handleMarkAsRead(data json.RawMessage) {
	var payload struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
		protocolErrorsTotal.Inc()
		e.logger.Warn("bad mark-as-read payload")
		return
	}
	e.store.MarkChatRead(payload.ChatID, e.selfID, e.now())
}

func (e *Engine) handleMessageUpdated(data json.RawMessage) {
	var payload struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.ID == "" {
		protocolErrorsTotal.Inc()
		e.logger.Warn("bad message-updated payload")
		return
	}
	if !e.store.UpdateMessageText(payload.ID, payload.Message, e.now()) {
		protocolErrorsTotal.Inc()
		e.logger.Warn("message-updated for unknown id", "id", payload.ID)
	}
}

func (e *Engine) handleMessageDeleted(data json.RawMessage) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.ID == "" {
		protocolErrorsTotal.Inc()
		e.logger.Warn("bad message-deleted payload")
		return
	}
	if !e.store.MarkDeleted(payload.ID) {
		protocolErrorsTotal.Inc()
		e.logger.Warn("message-deleted for unknown id", "id", payload.ID)
	}
}

// handleArray processes history snapshots: either an array of fragments or a
// legacy bare array of messages. Both dedup against the ledger and the store
// and append survivors in server order.
func (e *Engine) handleArray(data []byte) {
	var probe []json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		protocolErrorsTotal.Inc()
		e.logger.LogError(err, "bad array payload")
		return
	}
	if len(probe) == 0 {
		return
	}

	var shape struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(probe[0], &shape); err == nil && shape.Messages != nil {
		var frags []models.Fragment
		if err := json.Unmarshal(data, &frags); err != nil {
			protocolErrorsTotal.Inc()
			e.logger.LogError(err, "bad fragment snapshot")
			return
		}
		eventsTotal.WithLabelValues("fragments").Inc()
		e.store.SetFragments(e.ActiveChat(), frags)
		for _, f := range frags {
			e.appendHistory(f.Messages)
		}
		return
	}

	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		protocolErrorsTotal.Inc()
		e.logger.LogError(err, "bad message snapshot")
		return
	}
	eventsTotal.WithLabelValues("history").Inc()
	e.appendHistory(msgs)
}

func (e *Engine) appendHistory(msgs []models.Message) {
	active := e.ActiveChat()
	for _, m := range msgs {
		if m.ChatID == "" {
			m.ChatID = active
		}
		key := MessageKey(m.ChatID, m.ID)
		if m.ID == "" {
			key = TextKey(m.ChatID, m.Text, m.SentAt)
		}
		if !e.ledger.Mark(key) || (m.ID != "" && e.store.HasMessage(m.ChatID, m.ID)) {
			dedupDroppedTotal.Inc()
			continue
		}
		e.store.AppendMessage(m)
	}
}

// handleLegacyText treats a raw non-JSON frame as a plain-text message from
// the counterpart, deduplicated by text and arrival second.
func (e *Engine) handleLegacyText(text string) {
	eventsTotal.WithLabelValues("legacy_text").Inc()

	now := e.now()
	active := e.ActiveChat()
	if !e.ledger.Mark(TextKey(active, text, now)) {
		dedupDroppedTotal.Inc()
		return
	}
	e.store.AppendMessage(models.Message{
		ID:     uuid.New().String(),
		ChatID: active,
		Text:   text,
		SentAt: now,
	})
}
