// Package catalog persists one row per completed recording session, so the
// session list survives across runs and is queryable without rescanning the
// save root.
package catalog

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Recording is one completed save session.
type Recording struct {
	gorm.Model

	Directory string `gorm:"uniqueIndex"`
	StartedAt time.Time

	// Frames is the session total; Written may be lower after per-frame
	// write failures.
	Frames  int
	Written int

	Width   int
	Height  int
	Binning int
	Bits    int

	ExposureMs   float64
	InternalFPS  float64
	ReadoutSpeed float64
}

type Catalog struct {
	db *gorm.DB
}

func Open(path string) (*Catalog, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&Recording{}); err != nil {
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// DB exposes the underlying handle for collaborators that share the
// database, such as web push subscription storage.
func (c *Catalog) DB() *gorm.DB {
	return c.db
}

// Add inserts a completed session. Duplicate directories (a re-saved
// session) update the existing row.
func (c *Catalog) Add(r *Recording) error {
	existing := &Recording{}
	err := c.db.Where("directory = ?", r.Directory).First(existing).Error
	if err == nil {
		r.ID = existing.ID
		return c.db.Save(r).Error
	}
	if err := c.db.Create(r).Error; err != nil {
		return err
	}
	log.Infof("catalogued recording %v (%d frames)", r.Directory, r.Frames)
	return nil
}

// List returns all recorded sessions, newest first.
func (c *Catalog) List() ([]*Recording, error) {
	var recs []*Recording
	if err := c.db.Order("started_at desc").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// Delete removes the row for a session directory.
func (c *Catalog) Delete(directory string) error {
	return c.db.Where("directory = ?", directory).Delete(&Recording{}).Error
}
