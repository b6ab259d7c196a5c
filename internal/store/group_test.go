package store

import (
	"testing"
	"time"

	"shopfront/chatsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupMessagesCollapsesSameSenderWithinWindow(t *testing.T) {
	base := time.Now()
	msgs := []models.Message{
		msg("1", "c1", "u1", "a", base),
		msg("2", "c1", "u1", "b", base.Add(time.Minute)),
		msg("3", "c1", "support", "c", base.Add(2*time.Minute)),
		msg("4", "c1", "support", "d", base.Add(3*time.Minute)),
		msg("5", "c1", "u1", "e", base.Add(4*time.Minute)),
	}

	blocks := GroupMessages(msgs)
	require.Len(t, blocks, 3)
	assert.Len(t, blocks[0].Messages, 2)
	assert.Equal(t, "support", blocks[1].SenderID)
	assert.Len(t, blocks[1].Messages, 2)
	assert.Len(t, blocks[2].Messages, 1)
}

func TestGroupMessagesSplitsOutsideWindow(t *testing.T) {
	base := time.Now()
	msgs := []models.Message{
		msg("1", "c1", "u1", "a", base),
		msg("2", "c1", "u1", "b", base.Add(GroupWindow)),
		msg("3", "c1", "u1", "c", base.Add(2*GroupWindow).Add(time.Second)),
	}

	blocks := GroupMessages(msgs)
	require.Len(t, blocks, 2, "a gap of exactly the window still groups; one past it splits")
	assert.Len(t, blocks[0].Messages, 2)
	assert.Len(t, blocks[1].Messages, 1)
}

func TestGroupMessagesEmpty(t *testing.T) {
	assert.Nil(t, GroupMessages(nil))
}
