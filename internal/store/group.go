package store

import (
	"time"

	"shopfront/chatsync/internal/models"
)

// GroupWindow is how close together consecutive messages from the same sender
// must be to collapse into one visual block (shared avatar and timestamp).
const GroupWindow = 5 * time.Minute

// Block is one visual run of messages from a single sender.
type Block struct {
	SenderID string
	Messages []models.Message
}

// GroupMessages collapses a chronologically ordered message list into visual
// blocks. It assumes the strict ordering the store guarantees; it never
// reorders, so a deleted message keeps its slot inside its block.
func GroupMessages(msgs []models.Message) []Block {
	var blocks []Block
	for _, m := range msgs {
		n := len(blocks)
		if n > 0 && blocks[n-1].SenderID == m.SenderID {
			last := blocks[n-1].Messages[len(blocks[n-1].Messages)-1]
			if m.SentAt.Sub(last.SentAt) <= GroupWindow {
				blocks[n-1].Messages = append(blocks[n-1].Messages, m)
				continue
			}
		}
		blocks = append(blocks, Block{SenderID: m.SenderID, Messages: []models.Message{m}})
	}
	return blocks
}
