package store

import (
	"sort"
	"sync"
	"time"

	"shopfront/chatsync/internal/models"
)

// Store is the single source of truth for chat sessions, per-chat message
// lists, fragments and unread counters. It is mutated only by the
// reconciliation engine and the optimistic-send path; UI layers read from it.
type Store struct {
	mu        sync.RWMutex
	chats     []models.ChatSession
	messages  map[string][]models.Message
	fragments map[string][]models.Fragment
	unread    map[string]int
	changed   chan struct{}
}

func New() *Store {
	return &Store{
		messages:  make(map[string][]models.Message),
		fragments: make(map[string][]models.Fragment),
		unread:    make(map[string]int),
		changed:   make(chan struct{}, 1),
	}
}

// Changed is a coalescing signal that fires after any mutation. UI layers
// select on it and re-read whatever they render.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

func (s *Store) markChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// AppendMessage inserts a message keeping the chat's list in non-decreasing
// SentAt order. Among equal timestamps arrival order is preserved.
func (s *Store) AppendMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[msg.ChatID]
	// Find the first entry strictly later than msg and insert before it.
	i := sort.Search(len(list), func(i int) bool {
		return list[i].SentAt.After(msg.SentAt)
	})
	list = append(list, models.Message{})
	copy(list[i+1:], list[i:])
	list[i] = msg
	s.messages[msg.ChatID] = list
	s.markChanged()
}

// ReplaceMessage swaps the entry with the given id (authoritative or
// provisional) for the supplied message, keeping its list position. Returns
// false if no such entry exists.
func (s *Store) ReplaceMessage(chatID, id string, msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[chatID]
	for i := range list {
		if list[i].ID == id {
			list[i] = msg
			s.markChanged()
			return true
		}
	}
	return false
}

// FindProvisional returns the id of the oldest unconfirmed message from the
// given sender with matching text, if any.
func (s *Store) FindProvisional(chatID, senderID, text string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages[chatID] {
		if m.Provisional && m.SenderID == senderID && m.Text == text {
			return m.ID, true
		}
	}
	return "", false
}

// HasMessage reports whether the chat already holds a message with this id.
func (s *Store) HasMessage(chatID, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages[chatID] {
		if m.ID == id {
			return true
		}
	}
	return false
}

// UpdateMessageText locates a message by id across all chats, updates its
// text and stamps EditedAt. Returns false for an unknown id.
func (s *Store) UpdateMessageText(id, text string, editedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for chatID, list := range s.messages {
		for i := range list {
			if list[i].ID == id {
				list[i].Text = text
				at := editedAt
				list[i].EditedAt = &at
				s.messages[chatID] = list
				s.markChanged()
				return true
			}
		}
	}
	return false
}

// MarkDeleted soft-deletes a message in place: the entry stays in the list so
// ordering and grouping are preserved, but its text becomes a placeholder.
func (s *Store) MarkDeleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for chatID, list := range s.messages {
		for i := range list {
			if list[i].ID == id {
				list[i].Deleted = true
				list[i].Text = models.DeletedPlaceholder
				s.messages[chatID] = list
				s.markChanged()
				return true
			}
		}
	}
	return false
}

// MarkChatRead zeroes the chat's unread counter and flags the viewer's own
// outgoing messages in that chat as read.
func (s *Store) MarkChatRead(chatID, viewerID string, readAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unread[chatID] = 0
	list := s.messages[chatID]
	for i := range list {
		if list[i].SenderID == viewerID && !list[i].ReadStatus {
			list[i].ReadStatus = true
			at := readAt
			list[i].ReadAt = &at
		}
	}
	s.messages[chatID] = list
	s.markChanged()
}

// Messages returns a copy of the chat's message list.
func (s *Store) Messages(chatID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.messages[chatID]
	out := make([]models.Message, len(list))
	copy(out, list)
	return out
}

// RemoveMessages drops a chat's message list. Used when a chat context is
// torn down entirely; soft deletes never go through here.
func (s *Store) RemoveMessages(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, chatID)
	s.markChanged()
}

// SetFragments replaces the fragment set for a chat with a history snapshot.
func (s *Store) SetFragments(chatID string, frags []models.Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fragments[chatID] = frags
	s.markChanged()
}

// Fragments returns a copy of the chat's fragment list.
func (s *Store) Fragments(chatID string) []models.Fragment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frags := s.fragments[chatID]
	out := make([]models.Fragment, len(frags))
	copy(out, frags)
	return out
}

// UpsertChat inserts or updates a chat session and re-sorts the chat list by
// most recent activity first.
func (s *Store) UpsertChat(chat models.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.chats {
		if s.chats[i].ID == chat.ID {
			s.chats[i] = chat
			found = true
			break
		}
	}
	if !found {
		s.chats = append(s.chats, chat)
		if _, ok := s.unread[chat.ID]; !ok {
			s.unread[chat.ID] = 0
		}
	}
	s.sortChatsLocked()
	s.markChanged()
}

// TouchChat updates a chat's preview and activity time and re-sorts the list.
// Unknown chat ids are ignored.
func (s *Store) TouchChat(chatID, preview string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.chats {
		if s.chats[i].ID == chatID {
			s.chats[i].Preview = preview
			s.chats[i].LastActivityTime = at
			break
		}
	}
	s.sortChatsLocked()
	s.markChanged()
}

func (s *Store) sortChatsLocked() {
	sort.SliceStable(s.chats, func(i, j int) bool {
		return s.chats[i].LastActivityTime.After(s.chats[j].LastActivityTime)
	})
}

// Chats returns a copy of the chat list, most recent activity first.
func (s *Store) Chats() []models.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChatSession, len(s.chats))
	copy(out, s.chats)
	return out
}

// Unread returns the unread counter for a chat.
func (s *Store) Unread(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.unread[chatID]
}

// IncrementUnread bumps the unread counter for a chat.
func (s *Store) IncrementUnread(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unread[chatID]++
	s.markChanged()
}

// ResetUnread zeroes the unread counter for a chat, leaving others untouched.
func (s *Store) ResetUnread(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unread[chatID] = 0
	s.markChanged()
}
