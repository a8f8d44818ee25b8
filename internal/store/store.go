package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/conversation"
	"github.com/antoniostano/parley/internal/kv"
	"github.com/antoniostano/parley/internal/logging"
)

const (
	keyPrefix        = "parley:"
	conversationsKey = keyPrefix + "conversations"

	DefaultMaxConversations = 50
)

var ErrNotFound = errors.New("conversation not found")

// StorageError wraps a failed read or write against the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type Options struct {
	// MaxConversations caps the history; the oldest are evicted beyond it.
	MaxConversations int
	// ChunkSize is the length of one base64 audio chunk. It is clamped to the
	// backing store's value ceiling.
	ChunkSize int
	Logger    *zap.Logger
}

// Store keeps conversation history and audio blobs in a kv.Store.
type Store struct {
	kv               kv.Store
	maxConversations int
	chunkSize        int
	logger           *zap.Logger

	// mu serializes read-modify-write of the conversation list.
	mu sync.Mutex
}

func New(backend kv.Store, opts Options) *Store {
	if opts.MaxConversations <= 0 {
		opts.MaxConversations = DefaultMaxConversations
	}
	return &Store{
		kv:               backend,
		maxConversations: opts.MaxConversations,
		chunkSize:        resolveChunkSize(opts.ChunkSize, backend.MaxValueSize()),
		logger:           logging.OrNop(opts.Logger).Named("store"),
	}
}

// SaveConversation inserts or replaces c in the history list.
func (s *Store) SaveConversation(ctx context.Context, c conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.readList(ctx)
	if err != nil {
		return err
	}

	replaced := false
	for i := range list {
		if list[i].ID == c.ID {
			list[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, c)
	}
	sortMostRecentFirst(list)

	var evicted []conversation.Conversation
	if len(list) > s.maxConversations {
		evicted = append(evicted, list[s.maxConversations:]...)
		list = list[:s.maxConversations]
	}

	raw, err := json.Marshal(list)
	if err != nil {
		return &StorageError{Op: "encode conversations", Err: err}
	}
	for len(raw) > s.kv.MaxValueSize() && len(list) > 1 {
		evicted = append(evicted, list[len(list)-1])
		list = list[:len(list)-1]
		if raw, err = json.Marshal(list); err != nil {
			return &StorageError{Op: "encode conversations", Err: err}
		}
	}

	if err := s.kv.Set(ctx, conversationsKey, string(raw)); err != nil {
		return &StorageError{Op: "write conversations", Err: err}
	}

	for _, old := range evicted {
		s.logger.Debug("evicted conversation", zap.String("conversation_id", old.ID))
		s.deleteAudioRefs(ctx, old)
	}
	return nil
}

// LoadConversations returns the stored history, most recent first.
func (s *Store) LoadConversations(ctx context.Context) ([]conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readList(ctx)
}

func (s *Store) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	list, err := s.LoadConversations(ctx)
	if err != nil {
		return conversation.Conversation{}, err
	}
	for _, c := range list {
		if c.ID == id {
			return c, nil
		}
	}
	return conversation.Conversation{}, ErrNotFound
}

// DeleteConversation removes a conversation and the audio it references.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.readList(ctx)
	if err != nil {
		return err
	}
	idx := -1
	for i := range list {
		if list[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	removed := list[idx]
	list = append(list[:idx], list[idx+1:]...)

	raw, err := json.Marshal(list)
	if err != nil {
		return &StorageError{Op: "encode conversations", Err: err}
	}
	if err := s.kv.Set(ctx, conversationsKey, string(raw)); err != nil {
		return &StorageError{Op: "write conversations", Err: err}
	}
	s.deleteAudioRefs(ctx, removed)
	return nil
}

// ClearAll drops every conversation and audio blob. Quota records are kept.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.kv.Keys(ctx, audioPrefix)
	if err != nil {
		return &StorageError{Op: "list audio", Err: err}
	}
	keys = append(keys, conversationsKey)
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	return nil
}

func (s *Store) readList(ctx context.Context) ([]conversation.Conversation, error) {
	raw, err := s.kv.Get(ctx, conversationsKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "read conversations", Err: err}
	}
	var list []conversation.Conversation
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		// A corrupt list is treated as empty history rather than a hard failure.
		s.logger.Warn("conversation list unreadable", zap.Error(err))
		return nil, nil
	}
	sortMostRecentFirst(list)
	return list, nil
}

func (s *Store) deleteAudioRefs(ctx context.Context, c conversation.Conversation) {
	for _, m := range c.Messages {
		if m.AudioRef == "" {
			continue
		}
		if err := s.DeleteAudio(ctx, m.AudioRef); err != nil {
			s.logger.Warn("delete audio failed", zap.String("audio_ref", m.AudioRef), zap.Error(err))
		}
	}
}

func sortMostRecentFirst(list []conversation.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].StartedAt.After(list[j].StartedAt)
	})
}
