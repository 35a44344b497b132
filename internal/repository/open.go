package repository

import (
	"fmt"

	"github.com/mr1hm/disaster-live-feed/internal/config"
)

// Open connects to the store selected by cfg.Driver.
func Open(cfg config.StoreConfig) (ReportStore, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := NewSQLiteDB(cfg.Path, cfg.PollInterval)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		db, err := NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}
