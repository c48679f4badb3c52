// Package storage provides the persisted key/value store backing the
// run cache, on sqlite via gorm.
package storage

import (
	"agentdeck/internal/appdirs"
	"agentdeck/log"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var appDirsResolver = appdirs.Resolve

// Open opens (creating if needed) the sqlite database at dbPath and
// migrates the key/value schema.
func Open(dbPath string) (*gorm.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}

	log.GetLogger().Info("database initialized", zap.String("path", dbPath))
	return db, nil
}

// OpenDefault opens the database at the platform default location.
func OpenDefault() (*gorm.DB, error) {
	dbPath, err := resolveDBPath()
	if err != nil {
		return nil, err
	}
	return Open(dbPath)
}

func resolveDBPath() (string, error) {
	dirs, err := appDirsResolver()
	if err != nil {
		return "", err
	}
	return appdirs.DBPathFor(dirs), nil
}
