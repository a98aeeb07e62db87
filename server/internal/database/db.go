package database

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

type Options struct {
	Path    string
	Verbose bool
}

// Open opens the sqlite database at opts.Path and migrates the given
// tables.
func Open(opts Options, tables ...any) (*gorm.DB, error) {
	loglevel := logger.Error
	if opts.Verbose {
		loglevel = logger.Info
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "failed to create the database directory")
	}

	dsn := opts.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				SlowThreshold:             time.Millisecond * 100,
				LogLevel:                  loglevel,
				IgnoreRecordNotFoundError: true,
			},
		),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open the database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	if err := db.Migrator().AutoMigrate(tables...); err != nil {
		return nil, errors.Wrap(err, "failed to migrate the database")
	}

	return db, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
}
