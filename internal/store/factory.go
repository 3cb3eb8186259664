package store

import (
	"fmt"
	"os"
	"path/filepath"

	"pqi-go/internal/config"
	"pqi-go/internal/pqi"
)

// NewStoreFromConfig creates a Store implementation based on the store config type.
func NewStoreFromConfig(cfg config.StoreConfig, clock pqi.Clock) (pqi.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating store data dir: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "pqi.db"), clock)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
