// Package storage opens the run journal selected by configuration.
package storage

import (
	"fmt"

	"github.com/tjfontaine/oapipe/internal/core/ports"
	"github.com/tjfontaine/oapipe/internal/pkg/config"
	"github.com/tjfontaine/oapipe/internal/storage/memory"
	"github.com/tjfontaine/oapipe/internal/storage/sqlite"
)

// Drivers accepted in journal.driver.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Open returns the run store described by cfg, or nil for DriverNone.
func Open(cfg config.JournalConfig) (ports.RunStore, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return memory.New(cfg.MaxRuns), nil
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("journal.path is required for the sqlite driver")
		}
		store, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite journal %s: %w", cfg.Path, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}
