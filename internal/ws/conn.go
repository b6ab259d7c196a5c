package ws

import (
	"fmt"
	"sync"
	"time"

	"shopfront/chatsync/internal/models"
	"shopfront/chatsync/pkg/config"
	apperrors "shopfront/chatsync/pkg/errors"
	"shopfront/chatsync/pkg/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
)

// State of the connection state machine.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// StateChange is delivered to subscribers on every transition. ErrMessage is
// human-readable and only set for StateError.
type StateChange struct {
	State      State
	ChatID     string
	ErrMessage string
}

// Handler receives every inbound frame exactly as the transport delivered it.
type Handler func(data []byte)

// joinFrame is the handshake payload sent right after the socket opens.
type joinFrame struct {
	ChatID string `json:"chat_id"`
	Token  string `json:"token,omitempty"`
}

// Conn owns the single WebSocket for one chat client instance. Open replaces
// any previous socket, so at most one is ever live. There is no auto-retry:
// after an error the caller reconnects by calling Open again.
type Conn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	chatID  string
	gen     uint64
	url     string
	role    models.Role
	token   string
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	maxSize int64
	handler Handler
	subs    []func(StateChange)
	notify  chan StateChange
	done    chan struct{}
	stopped bool
	logger  *logger.Logger
}

// NewConn creates an idle connection manager for the given role. Admin
// connections present token during the join handshake.
func NewConn(role models.Role, token string, log *logger.Logger) *Conn {
	cfg := config.Get()
	if log == nil {
		log = logger.GetGlobal()
	}
	c := &Conn{
		state: StateIdle,
		url:   cfg.Chat.WSURL,
		role:  role,
		token: token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Chat.HandshakeTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.Chat.SendRate), cfg.Chat.SendBurst),
		maxSize: cfg.Chat.MaxMessageSize,
		notify:  make(chan StateChange, 64),
		done:    make(chan struct{}),
		logger:  log.WithRole(string(role)),
	}
	go c.dispatch()
	return c
}

// dispatch delivers state changes to subscribers in transition order. It
// drains whatever is still queued when Close stops it, so the final
// StateClosed notification always reaches subscribers.
func (c *Conn) dispatch() {
	for {
		select {
		case change := <-c.notify:
			c.deliver(change)
		case <-c.done:
			for {
				select {
				case change := <-c.notify:
					c.deliver(change)
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) deliver(change StateChange) {
	c.mu.Lock()
	subs := make([]func(StateChange), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(change)
	}
}

// SetURL overrides the configured endpoint. Used by tests and the CLI.
func (c *Conn) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = url
}

// SetHandler installs the inbound frame handler. Must be called before Open.
func (c *Conn) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Subscribe registers a callback for state transitions. Callbacks run on a
// single dispatch goroutine in transition order, so they must not block.
func (c *Conn) Subscribe(fn func(StateChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ChatID returns the chat the socket is (or was last) bound to.
func (c *Conn) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// Open closes any existing socket, dials the endpoint and performs the join
// handshake for the given chat. On success the read loop starts delivering
// frames to the installed handler.
func (c *Conn) Open(chatID string) error {
	c.mu.Lock()
	c.closeLocked()
	c.chatID = chatID
	c.setStateLocked(StateConnecting, "")
	url := c.url
	gen := c.gen
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(url, nil)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.setStateLocked(StateError, fmt.Sprintf("failed to connect: %v", err))
		}
		c.mu.Unlock()
		return fmt.Errorf("error dialing %s: %w", url, err)
	}

	join := models.Envelope{Event: models.EventJoin, Data: joinFrame{ChatID: chatID}}
	if c.role == models.RoleAdmin {
		join = models.Envelope{Event: models.EventAdminJoin, Data: joinFrame{ChatID: chatID, Token: c.token}}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		c.mu.Lock()
		if c.gen == gen {
			c.setStateLocked(StateError, fmt.Sprintf("join handshake failed: %v", err))
		}
		c.mu.Unlock()
		return fmt.Errorf("error sending join frame: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// Another Open or a Close ran while we were dialing. The newer
		// operation owns the socket slot; discard ours.
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("open of chat %s superseded before the dial completed", chatID)
	}
	c.conn = conn
	c.gen++
	gen = c.gen
	handler := c.handler
	c.setStateLocked(StateOpen, "")
	c.mu.Unlock()

	c.logger.Info("socket open", "chat_id", chatID)
	go c.readLoop(conn, gen, handler)
	return nil
}

// Send serializes {event, data} onto the socket. When the socket is not open
// a connectivity error is returned and nothing is transmitted.
func (c *Conn) Send(event string, payload any) error {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		state := c.state
		c.mu.Unlock()
		return apperrors.NewNotConnectedError(string(state))
	}
	if !c.limiter.Allow() {
		c.mu.Unlock()
		return apperrors.NewBadRequestError("SEND_RATE_EXCEEDED", "too many outbound frames, message dropped")
	}
	conn := c.conn
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(models.Envelope{Event: event, Data: payload})
	if err != nil {
		c.closeLocked()
		c.setStateLocked(StateError, fmt.Sprintf("write failed: %v", err))
		c.mu.Unlock()
		return fmt.Errorf("error writing frame: %w", err)
	}
	c.mu.Unlock()
	return nil
}

// Close tears the socket down and stops the state notifier. Safe to call on
// any state and more than once; subsequent Sends report a connectivity error.
// Chat switches go through Open, which replaces the socket without closing
// the notifier, so Close marks the end of the client instance.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	if c.state != StateError && c.state != StateIdle {
		c.setStateLocked(StateClosed, "")
	}
	if !c.stopped {
		c.stopped = true
		close(c.done)
	}
}

// closeLocked releases the socket resource. Callers hold c.mu. Bumping the
// generation makes any running read loop exit silently instead of reporting
// a transport error for a socket we closed on purpose, and invalidates any
// dial still in flight so it cannot install a stale socket.
func (c *Conn) closeLocked() {
	c.gen++
	if c.conn == nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
	c.conn = nil
}

func (c *Conn) readLoop(conn *websocket.Conn, gen uint64, handler Handler) {
	conn.SetReadLimit(c.maxSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.gen == gen {
				// The socket died under us, not a deliberate close.
				c.conn = nil
				c.setStateLocked(StateError, fmt.Sprintf("connection lost: %v", err))
			}
			c.mu.Unlock()
			return
		}
		if handler != nil {
			handler(data)
		}
	}
}

// setStateLocked transitions the state machine and queues the notification.
// Callers hold c.mu. A full queue drops the oldest change; state banners are
// best-effort UI feedback, not a reliable stream.
func (c *Conn) setStateLocked(state State, errMsg string) {
	c.state = state
	change := StateChange{State: state, ChatID: c.chatID, ErrMessage: errMsg}
	select {
	case c.notify <- change:
	default:
		select {
		case <-c.notify:
		default:
		}
		c.notify <- change
	}

	if errMsg != "" {
		c.logger.Warn("socket state change", "state", string(state), "detail", errMsg)
	}
}
