package store

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/antoniostano/parley/internal/conversation"
	"github.com/antoniostano/parley/internal/kv"
)

func newTestStore(maxConversations, chunkSize int) (*Store, *kv.MemoryStore) {
	backend := kv.NewMemoryStore(0)
	return New(backend, Options{MaxConversations: maxConversations, ChunkSize: chunkSize}), backend
}

func randomBlob(n int) []byte {
	r := rand.New(rand.NewSource(int64(n)))
	b := make([]byte, n)
	_, _ = r.Read(b)
	return b
}

func TestAudioRoundTrip(t *testing.T) {
	s, _ := newTestStore(0, 128)
	ctx := context.Background()

	for _, size := range []int{0, 10, 95, 96, 97, 5000} {
		blob := randomBlob(size)
		ref, err := s.StoreAudio(ctx, Audio{Data: blob, MIMEType: "audio/mpeg"})
		if err != nil {
			t.Fatalf("StoreAudio(%d bytes) error = %v", size, err)
		}
		got, ok := s.RetrieveAudio(ctx, ref)
		if !ok {
			t.Fatalf("RetrieveAudio(%d bytes) ok = false", size)
		}
		if !bytes.Equal(got.Data, blob) {
			t.Fatalf("RetrieveAudio(%d bytes) returned different bytes", size)
		}
		if got.MIMEType != "audio/mpeg" {
			t.Fatalf("MIMEType = %q, want audio/mpeg", got.MIMEType)
		}
	}
}

func TestAudioChunksRespectStoreCeiling(t *testing.T) {
	backend := kv.NewMemoryStore(100)
	s := New(backend, Options{ChunkSize: 4096})
	ctx := context.Background()

	blob := randomBlob(1000)
	ref, err := s.StoreAudio(ctx, Audio{Data: blob})
	if err != nil {
		t.Fatalf("StoreAudio() error = %v", err)
	}
	keys, _ := backend.Keys(ctx, audioPrefix+ref+":")
	// 1000 bytes -> 1336 base64 chars -> 14 chunks of 100 plus meta.
	if len(keys) != 15 {
		t.Fatalf("stored %d keys, want 15", len(keys))
	}
	got, ok := s.RetrieveAudio(ctx, ref)
	if !ok || !bytes.Equal(got.Data, blob) {
		t.Fatalf("round trip through small ceiling failed")
	}
}

func TestRetrieveAudioFailsClosed(t *testing.T) {
	s, backend := newTestStore(0, 64)
	ctx := context.Background()
	blob := randomBlob(500)

	tests := []struct {
		name    string
		corrupt func(ref string)
	}{
		{"missing chunk", func(ref string) { _ = backend.Delete(ctx, chunkKey(ref, 2)) }},
		{"garbled chunk", func(ref string) { _ = backend.Set(ctx, chunkKey(ref, 1), "!!!!") }},
		{"swapped chunk", func(ref string) {
			a, _ := backend.Get(ctx, chunkKey(ref, 0))
			b, _ := backend.Get(ctx, chunkKey(ref, 1))
			_ = backend.Set(ctx, chunkKey(ref, 0), b)
			_ = backend.Set(ctx, chunkKey(ref, 1), a)
		}},
		{"corrupt meta", func(ref string) { _ = backend.Set(ctx, metaKey(ref), "{") }},
		{"missing meta", func(ref string) { _ = backend.Delete(ctx, metaKey(ref)) }},
		{"oversized meta", func(ref string) {
			_ = backend.Set(ctx, metaKey(ref), `{"chunks":1,"size":9223372036854775807,"mime_type":"audio/wav","checksum":1}`)
		}},
		{"runaway chunk count", func(ref string) {
			_ = backend.Set(ctx, metaKey(ref), `{"chunks":1000000000,"size":500,"mime_type":"audio/wav","checksum":1}`)
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ref, err := s.StoreAudio(ctx, Audio{Data: blob})
			if err != nil {
				t.Fatalf("StoreAudio() error = %v", err)
			}
			tc.corrupt(ref)
			got, ok := s.RetrieveAudio(ctx, ref)
			if ok || got.Data != nil {
				t.Fatalf("RetrieveAudio() = (%d bytes, %v), want nothing", len(got.Data), ok)
			}
		})
	}

	if _, ok := s.RetrieveAudio(ctx, "does-not-exist"); ok {
		t.Fatalf("RetrieveAudio(unknown) ok = true")
	}
}

func TestStoreAudioFailureLeavesNoChunks(t *testing.T) {
	backend := &failingKV{MemoryStore: kv.NewMemoryStore(0), failAfter: 3}
	s := New(backend, Options{ChunkSize: 64})
	ctx := context.Background()

	_, err := s.StoreAudio(ctx, Audio{Data: randomBlob(1000)})
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("StoreAudio() error = %v, want StorageError", err)
	}
	keys, _ := backend.Keys(ctx, audioPrefix)
	if len(keys) != 0 {
		t.Fatalf("leftover keys after failed write: %v", keys)
	}
}

func TestConversationsMostRecentFirstAndCapped(t *testing.T) {
	s, _ := newTestStore(3, 0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		c := conversation.New(conversation.DefaultConfig(), base.Add(time.Duration(i)*time.Hour))
		ids = append(ids, c.ID)
		if err := s.SaveConversation(ctx, c.Snapshot()); err != nil {
			t.Fatalf("SaveConversation() error = %v", err)
		}
	}

	list, err := s.LoadConversations(ctx)
	if err != nil {
		t.Fatalf("LoadConversations() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
	for i, want := range []string{ids[4], ids[3], ids[2]} {
		if list[i].ID != want {
			t.Fatalf("list[%d].ID = %s, want %s", i, list[i].ID, want)
		}
	}
}

func TestSaveConversationReplacesExisting(t *testing.T) {
	s, _ := newTestStore(0, 0)
	ctx := context.Background()
	c := conversation.New(conversation.DefaultConfig(), time.Now())
	_ = s.SaveConversation(ctx, c.Snapshot())

	c.Append(conversation.NewMessage(conversation.RoleUser, "hello", time.Now()))
	if err := s.SaveConversation(ctx, c.Snapshot()); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(got.Messages))
	}
	list, _ := s.LoadConversations(ctx)
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1", len(list))
	}
}

func TestDeleteConversationRemovesAudio(t *testing.T) {
	s, backend := newTestStore(0, 64)
	ctx := context.Background()

	ref, err := s.StoreAudio(ctx, Audio{Data: randomBlob(300)})
	if err != nil {
		t.Fatalf("StoreAudio() error = %v", err)
	}
	c := conversation.New(conversation.DefaultConfig(), time.Now())
	m := conversation.NewMessage(conversation.RoleAssistant, "hi", time.Now())
	m.AudioRef = ref
	c.Append(m)
	_ = s.SaveConversation(ctx, c.Snapshot())

	if err := s.DeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}
	if _, err := s.GetConversation(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetConversation() error = %v, want ErrNotFound", err)
	}
	keys, _ := backend.Keys(ctx, audioPrefix)
	if len(keys) != 0 {
		t.Fatalf("audio keys left after delete: %v", keys)
	}
	if err := s.DeleteConversation(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteConversation() error = %v, want ErrNotFound", err)
	}
}

func TestClearAllKeepsUsage(t *testing.T) {
	s, backend := newTestStore(0, 0)
	ctx := context.Background()
	_ = backend.Set(ctx, "parley:usage:daily", "{}")
	_, _ = s.StoreAudio(ctx, Audio{Data: []byte("abc")})
	_ = s.SaveConversation(ctx, conversation.New(conversation.DefaultConfig(), time.Now()).Snapshot())

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	list, _ := s.LoadConversations(ctx)
	if len(list) != 0 {
		t.Fatalf("len(list) = %d, want 0", len(list))
	}
	if _, err := backend.Get(ctx, "parley:usage:daily"); err != nil {
		t.Fatalf("usage record removed by ClearAll: %v", err)
	}
}

type failingKV struct {
	*kv.MemoryStore
	failAfter int
	sets      int
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	f.sets++
	if f.sets > f.failAfter {
		return errors.New("disk full")
	}
	return f.MemoryStore.Set(ctx, key, value)
}
