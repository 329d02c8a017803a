package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/me/cotask/internal/store"
)

// openJournal opens the run journal at path and applies migrations.
func openJournal(ctx context.Context, path string) (*store.SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	logger.Debug("journal ready", "path", path)
	return st, nil
}
