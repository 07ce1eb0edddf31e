package sessionstore

import (
	"context"
	"strings"
)

// Open creates a postgres-backed store when databaseURL is set, a file-backed
// store when dir is set, and an in-memory store otherwise.
func Open(ctx context.Context, databaseURL, dir string) (Store, string, error) {
	if strings.TrimSpace(databaseURL) != "" {
		kv, err := NewPostgresKV(ctx, databaseURL)
		if err != nil {
			return nil, "", err
		}
		return New(kv), "postgres", nil
	}
	if strings.TrimSpace(dir) != "" {
		kv, err := NewFileKV(strings.TrimSpace(dir))
		if err != nil {
			return nil, "", err
		}
		return New(kv), "file", nil
	}
	return New(NewInMemoryKV()), "in-memory", nil
}
