package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/txlens/internal/pairing"
)

const (
	keySession    = "session"
	keySessionURI = "sessionURI"
)

var (
	ErrNotFound     = errors.New("no persisted session")
	ErrCorruptState = errors.New("persisted session is corrupt")
)

// Record is the durable form of the active session plus the pairing URI that
// created it. URI is empty for sessions that were themselves restored.
type Record struct {
	Session pairing.SessionState
	URI     string
}

// Store is the single-slot session store.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context) (Record, error)
	Clear(ctx context.Context) error
	Close() error
}

// KV is the byte-level backend a Store is layered on. Get returns ErrNotFound
// for missing keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type kvStore struct {
	kv KV
}

// New layers the session slot over a key-value backend.
func New(kv KV) Store {
	return &kvStore{kv: kv}
}

func (s *kvStore) Save(ctx context.Context, rec Record) error {
	blob, err := json.Marshal(rec.Session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Set(ctx, keySession, blob); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if uri := strings.TrimSpace(rec.URI); uri != "" {
		if err := s.kv.Set(ctx, keySessionURI, []byte(uri)); err != nil {
			return fmt.Errorf("save session uri: %w", err)
		}
	}
	return nil
}

func (s *kvStore) Load(ctx context.Context) (Record, error) {
	blob, err := s.kv.Get(ctx, keySession)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("load session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(blob, &rec.Session); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if rec.Session.HandshakeTopic == "" && !rec.Session.Connected {
		return Record{}, fmt.Errorf("%w: record has no handshake topic and is not connected", ErrCorruptState)
	}

	uri, err := s.kv.Get(ctx, keySessionURI)
	switch {
	case err == nil:
		rec.URI = string(uri)
	case errors.Is(err, ErrNotFound):
	default:
		return Record{}, fmt.Errorf("load session uri: %w", err)
	}
	return rec, nil
}

func (s *kvStore) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, keySession); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if err := s.kv.Delete(ctx, keySessionURI); err != nil {
		return fmt.Errorf("clear session uri: %w", err)
	}
	return nil
}

func (s *kvStore) Close() error { return s.kv.Close() }
