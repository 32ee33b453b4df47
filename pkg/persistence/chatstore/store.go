// Package chatstore persists conversation transcripts between CLI runs.
package chatstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatRecord is the listing view of a stored chat.
type ChatRecord struct {
	ChatID      string `json:"chat_id" yaml:"chat_id"`
	Messages    int    `json:"messages" yaml:"messages"`
	Status      string `json:"status" yaml:"status"`
	LastError   string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms" yaml:"created_at_ms"`
	UpdatedAtMs int64  `json:"updated_at_ms" yaml:"updated_at_ms"`
}

// Store keeps one ordered message list per chat. SaveMessages replaces the
// stored list, so a regenerate that truncated the transcript is reflected.
type Store interface {
	SaveMessages(ctx context.Context, chatID string, status string, lastError string, msgs []uimessage.Message) error
	LoadMessages(ctx context.Context, chatID string) ([]uimessage.Message, error)
	ListChats(ctx context.Context, limit int) ([]ChatRecord, error)
	DeleteChat(ctx context.Context, chatID string) error
	Close() error
}
