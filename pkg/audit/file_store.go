package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore writes packs below a local directory. The CLI uses it for
// exports to a file.
type FileStore struct {
	Root string
}

func (s FileStore) Put(_ context.Context, key string, data []byte, _ string) error {
	p := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	return os.WriteFile(p, data, 0o600)
}
