package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "assetsy/pkg/logx"
)

// Open builds the store named by cfg.Driver. Disk-backed drivers get their
// parent directory created.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "memory" || driver == "mem" {
		return newMemory(log.With(logx.String("driver", "memory"))), nil
	}

	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage: path is required for driver %q", cfg.Driver)
	}
	var open func(Config, logx.Logger) (Store, error)
	switch driver {
	case "", "sqlite", "sqlite3":
		driver, open = "sqlite", openSQLite
	case "file":
		open = openFile
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, unavailable("open", err)
	}
	return open(cfg, log.With(logx.String("driver", driver)))
}
