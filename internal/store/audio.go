package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	audioPrefix = keyPrefix + "audio:"

	DefaultChunkSize = 512 << 10
	minChunkSize     = 64
)

// Audio is an encoded clip plus its MIME type.
type Audio struct {
	Data     []byte
	MIMEType string
}

type audioMeta struct {
	Chunks    int       `json:"chunks"`
	Size      int       `json:"size"`
	MIMEType  string    `json:"mime_type"`
	Checksum  uint64    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

func resolveChunkSize(requested, ceiling int) int {
	if requested <= 0 {
		requested = DefaultChunkSize
	}
	if ceiling > 0 && requested > ceiling {
		requested = ceiling
	}
	if requested < minChunkSize {
		requested = minChunkSize
	}
	return requested
}

func metaKey(id string) string { return audioPrefix + id + ":meta" }

func chunkKey(id string, n int) string { return audioPrefix + id + ":" + strconv.Itoa(n) }

// StoreAudio writes a clip as base64 chunks and returns an opaque reference.
// Chunks are written before the metadata record, so a partial write is never
// visible to RetrieveAudio.
func (s *Store) StoreAudio(ctx context.Context, a Audio) (string, error) {
	id := uuid.NewString()
	encoded := base64.StdEncoding.EncodeToString(a.Data)

	n := 0
	for off := 0; off < len(encoded); off += s.chunkSize {
		end := off + s.chunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		if err := s.kv.Set(ctx, chunkKey(id, n), encoded[off:end]); err != nil {
			s.removeChunks(ctx, id, n)
			return "", &StorageError{Op: "write audio chunk", Err: err}
		}
		n++
	}

	meta, err := json.Marshal(audioMeta{
		Chunks:    n,
		Size:      len(a.Data),
		MIMEType:  a.MIMEType,
		Checksum:  xxhash.Sum64(a.Data),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.removeChunks(ctx, id, n)
		return "", &StorageError{Op: "encode audio meta", Err: err}
	}
	if err := s.kv.Set(ctx, metaKey(id), string(meta)); err != nil {
		s.removeChunks(ctx, id, n)
		return "", &StorageError{Op: "write audio meta", Err: err}
	}
	return id, nil
}

// RetrieveAudio reassembles a clip. Any missing or inconsistent piece yields
// false; partial audio is never returned.
func (s *Store) RetrieveAudio(ctx context.Context, ref string) (Audio, bool) {
	if ref == "" || strings.Contains(ref, ":") {
		return Audio{}, false
	}
	rawMeta, err := s.kv.Get(ctx, metaKey(ref))
	if err != nil {
		return Audio{}, false
	}
	var meta audioMeta
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil || meta.Chunks < 0 || meta.Size < 0 {
		s.logger.Warn("audio meta corrupt", zap.String("audio_ref", ref))
		return Audio{}, false
	}

	var b strings.Builder
	for i := 0; i < meta.Chunks; i++ {
		part, err := s.kv.Get(ctx, chunkKey(ref, i))
		if err != nil {
			s.logger.Warn("audio chunk missing", zap.String("audio_ref", ref), zap.Int("chunk", i))
			return Audio{}, false
		}
		b.WriteString(part)
	}

	data, err := base64.StdEncoding.DecodeString(b.String())
	if err != nil {
		s.logger.Warn("audio chunks undecodable", zap.String("audio_ref", ref), zap.Error(err))
		return Audio{}, false
	}
	if len(data) != meta.Size || xxhash.Sum64(data) != meta.Checksum {
		s.logger.Warn("audio checksum mismatch", zap.String("audio_ref", ref))
		return Audio{}, false
	}
	return Audio{Data: data, MIMEType: meta.MIMEType}, true
}

// DeleteAudio removes a clip's metadata and chunks.
func (s *Store) DeleteAudio(ctx context.Context, ref string) error {
	keys, err := s.kv.Keys(ctx, audioPrefix+ref+":")
	if err != nil {
		return fmt.Errorf("list audio keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.kv.Delete(ctx, keys...)
}

func (s *Store) removeChunks(ctx context.Context, id string, n int) {
	if n == 0 {
		return
	}
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, chunkKey(id, i))
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cleanup of partial audio failed", zap.String("audio_ref", id), zap.Error(err))
	}
}
