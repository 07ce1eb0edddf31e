package sessionstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ent0n29/txlens/internal/pairing"
)

func backends(t *testing.T) map[string]KV {
	t.Helper()
	fileKV, err := NewFileKV(filepath.Join(t.TempDir(), "slots"))
	if err != nil {
		t.Fatalf("NewFileKV() error = %v", err)
	}
	return map[string]KV{
		"memory": NewInMemoryKV(),
		"file":   fileKV,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(kv)
			if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load() on empty store error = %v, want ErrNotFound", err)
			}

			rec := Record{
				Session: pairing.SessionState{
					Connected: true,
					Accounts:  []string{"0xCA11FE"},
					ChainID:   1,
					PeerMeta:  &pairing.Peer{Name: "TestDapp"},
				},
				URI: "wc:abc@1?bridge=x&key=y",
			}
			if err := s.Save(ctx, rec); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got.URI != rec.URI || got.Session.ChainID != 1 || len(got.Session.Accounts) != 1 || got.Session.Accounts[0] != "0xCA11FE" {
				t.Fatalf("Load() = %+v, want %+v", got, rec)
			}
			if got.Session.PeerMeta == nil || got.Session.PeerMeta.Name != "TestDapp" {
				t.Fatalf("peer meta lost: %+v", got.Session.PeerMeta)
			}

			if err := s.Clear(ctx); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load() after Clear error = %v, want ErrNotFound", err)
			}
			if err := s.Clear(ctx); err != nil {
				t.Fatalf("second Clear() error = %v", err)
			}
		})
	}
}

func TestSaveWithoutURIKeepsSlotEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewInMemoryKV()
	s := New(kv)
	if err := s.Save(ctx, Record{Session: pairing.SessionState{Connected: true}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := kv.Get(ctx, keySessionURI); !errors.Is(err, ErrNotFound) {
		t.Fatalf("sessionURI slot should be absent, got err = %v", err)
	}
}

func TestLoadCorruptRecord(t *testing.T) {
	ctx := context.Background()
	kv := NewInMemoryKV()
	if err := kv.Set(ctx, keySession, []byte("{not json")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	_, err := New(kv).Load(ctx)
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("Load() error = %v, want ErrCorruptState", err)
	}
}

func TestLoadEmptyRecordIsCorrupt(t *testing.T) {
	ctx := context.Background()
	for _, blob := range []string{"null", "{}", `{"connected":false,"accounts":[]}`} {
		kv := NewInMemoryKV()
		if err := kv.Set(ctx, keySession, []byte(blob)); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if _, err := New(kv).Load(ctx); !errors.Is(err, ErrCorruptState) {
			t.Fatalf("Load(%s) error = %v, want ErrCorruptState", blob, err)
		}
	}

	kv := NewInMemoryKV()
	if err := kv.Set(ctx, keySession, []byte(`{"connected":false,"handshakeTopic":"topic-1"}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	rec, err := New(kv).Load(ctx)
	if err != nil || rec.Session.HandshakeTopic != "topic-1" {
		t.Fatalf("Load() = %+v, %v; want pending record with topic", rec, err)
	}
}

func TestFileKVRejectsPathKeys(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKV() error = %v", err)
	}
	if err := kv.Set(context.Background(), "../escape", []byte("x")); err == nil {
		t.Fatalf("Set() expected error for path key")
	}
}

func TestOpenPicksFileBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	s, mode, err := Open(context.Background(), "", dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	if mode != "file" {
		t.Fatalf("mode = %q, want file", mode)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("store dir not created: %v", err)
	}
}
