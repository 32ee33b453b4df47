package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

// InMemoryStore is a Store for a single process. Messages are cloned on the way
// in and out.
type InMemoryStore struct {
	mu    sync.Mutex
	chats map[string]*inMemChat
}

type inMemChat struct {
	record   ChatRecord
	messages []uimessage.Message
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{chats: map[string]*inMemChat{}}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) SaveMessages(_ context.Context, chatID string, status string, lastError string, msgs []uimessage.Message) error {
	if s == nil {
		return errors.New("in-memory chat store: nil store")
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return errors.New("in-memory chat store: chatID is empty")
	}
	now := time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		c = &inMemChat{record: ChatRecord{ChatID: chatID, CreatedAtMs: now}}
		s.chats[chatID] = c
	}
	c.messages = uimessage.CloneMessages(msgs)
	c.record.Messages = len(msgs)
	c.record.Status = status
	c.record.LastError = lastError
	c.record.UpdatedAtMs = now
	return nil
}

func (s *InMemoryStore) LoadMessages(_ context.Context, chatID string) ([]uimessage.Message, error) {
	if s == nil {
		return nil, errors.New("in-memory chat store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[strings.TrimSpace(chatID)]
	if !ok {
		return nil, errors.Wrap(ErrChatNotFound, chatID)
	}
	return uimessage.CloneMessages(c.messages), nil
}

func (s *InMemoryStore) ListChats(_ context.Context, limit int) ([]ChatRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory chat store: nil store")
	}
	s.mu.Lock()
	out := make([]ChatRecord, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c.record)
	}
	s.mu.Unlock()
	sortRecords(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) DeleteChat(_ context.Context, chatID string) error {
	if s == nil {
		return errors.New("in-memory chat store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return errors.Wrap(ErrChatNotFound, chatID)
	}
	delete(s.chats, chatID)
	return nil
}

// sortRecords orders by most recent activity, ties broken by chat id, the same
// order the SQLite store's index yields.
func sortRecords(rs []ChatRecord) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].UpdatedAtMs != rs[j].UpdatedAtMs {
			return rs[i].UpdatedAtMs > rs[j].UpdatedAtMs
		}
		return rs[i].ChatID < rs[j].ChatID
	})
}
