// chatctl is a terminal chat client over the synchronization layer. It runs
// as the customer widget by default, or as an admin console with -role admin.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"shopfront/chatsync/internal/chat"
	"shopfront/chatsync/internal/models"
	"shopfront/chatsync/internal/session"
	"shopfront/chatsync/internal/store"
	"shopfront/chatsync/internal/ws"
	"shopfront/chatsync/pkg/config"
	"shopfront/chatsync/pkg/jwt"
	"shopfront/chatsync/pkg/logger"
)

func main() {
	role := flag.String("role", "customer", "customer or admin")
	chatID := flag.String("chat", "", "chat id to open (admin only; customers get a cached session id)")
	adminID := flag.String("admin-id", "admin-1", "admin identity for admin role")
	flag.Parse()

	cfg := config.Get()
	appLogger := logger.New(logger.Config{Level: cfg.Logging.Level, JSON: false})
	logger.SetGlobal(appLogger)

	sessCfg := chat.Config{Logger: appLogger}

	switch models.Role(*role) {
	case models.RoleCustomer:
		var backend session.Store
		if cfg.Session.RedisURL != "" {
			// The manager already prefixes its key.
			backend = session.NewRedisStore(cfg.Session.RedisURL, "")
		} else {
			backend = session.NewMemoryStore()
		}
		mgr := session.NewManager(backend, cfg.Session.KeyPrefix, cfg.Session.TTL, appLogger)
		id, err := mgr.ChatID()
		if err != nil {
			log.Fatalf("could not establish a chat session: %v", err)
		}
		sessCfg.Role = models.RoleCustomer
		sessCfg.SelfID = id
		*chatID = id
	case models.RoleAdmin:
		if *chatID == "" {
			log.Fatal("-chat is required for the admin role")
		}
		token, err := jwt.GenerateToken(*adminID, cfg.JWT.Expiry)
		if err != nil {
			log.Fatalf("could not mint admin token: %v", err)
		}
		sessCfg.Role = models.RoleAdmin
		sessCfg.SelfID = *adminID
		sessCfg.Token = token
	default:
		log.Fatalf("unknown role %q", *role)
	}

	sess := chat.NewSession(sessCfg)
	defer sess.Close()

	sess.Conn.Subscribe(func(change ws.StateChange) {
		if change.ErrMessage != "" {
			fmt.Printf("\n[connection %s: %s]\n> ", change.State, change.ErrMessage)
		}
	})

	if err := sess.OpenChat(*chatID); err != nil {
		log.Fatalf("could not open chat: %v", err)
	}
	fmt.Printf("connected to chat %s as %s\n", *chatID, sessCfg.SelfID)

	go renderLoop(sess)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "/quit" {
			return
		}
		if text != "" {
			if err := sess.SendMessage(text); err != nil {
				fmt.Printf("[not sent: %v]\n", err)
			}
		}
		fmt.Print("> ")
	}
}

// renderLoop reprints the open chat whenever the store changes.
func renderLoop(sess *chat.Session) {
	printed := 0
	for range sess.Store.Changed() {
		msgs := sess.Store.Messages(sess.Engine.ActiveChat())
		for _, block := range store.GroupMessages(msgs[min(printed, len(msgs)):]) {
			for _, m := range block.Messages {
				marker := " "
				if m.Provisional {
					marker = "…"
				}
				fmt.Printf("\n%s %s: %s", marker, displayName(sess, m), m.Text)
			}
		}
		if len(msgs) > printed {
			printed = len(msgs)
			fmt.Print("\n> ")
		}
	}
}

func displayName(sess *chat.Session, m models.Message) string {
	if m.SenderID == sess.SelfID {
		return "you"
	}
	if m.SenderID == "" {
		return "support"
	}
	return m.SenderID
}
