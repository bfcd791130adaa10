package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"pdfchat/pkg/storage"
)

// MirrorCorpus downloads eligible objects from the bucket into dir so the
// rebuild can run against local files. Existing local files with the same
// name are overwritten; local files absent from the bucket are kept.
func MirrorCorpus(ctx context.Context, store storage.ObjectStore, dir string, exts []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create corpus directory: %w", err)
	}
	keys, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list corpus bucket: %w", err)
	}
	eligible := make(map[string]bool, len(exts))
	for _, ext := range exts {
		eligible[strings.ToLower(strings.TrimSpace(ext))] = true
	}
	fetched := 0
	for _, key := range keys {
		if !eligible[strings.ToLower(filepath.Ext(key))] {
			continue
		}
		dest := filepath.Join(dir, filepath.Base(key))
		if err := store.Fetch(ctx, key, dest); err != nil {
			return err
		}
		fetched++
	}
	slog.Info("corpus mirrored", "objects", fetched, "dir", dir)
	return nil
}
