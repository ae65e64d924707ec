/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package capsule

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mirkobrombin/capsule/pkg/types"
)

var (
	// ErrSessionNotFound is returned when the store has no record for
	// the requested session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoPreviousSession is returned by the latest-session lookup
	// when the workspace has never run a session.
	ErrNoPreviousSession = errors.New("no previous session for workspace")
)

// Store persists session records in a sqlite database. Records outlive
// their containers, they are what --resume is built on.
type Store struct {
	db *gorm.DB
}

// OpenStore opens or creates the session database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("unable to create store directory: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open session store: %w", err)
	}
	if err := db.AutoMigrate(&types.Session{}); err != nil {
		return nil, fmt.Errorf("unable to migrate session store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save inserts or updates a session record and bumps its last-used time.
func (s *Store) Save(session *types.Session) error {
	session.LastUsedAt = time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.LastUsedAt
	}
	return s.db.Save(session).Error
}

// Load returns the session with the given id.
func (s *Store) Load(id string) (*types.Session, error) {
	var session types.Session
	err := s.db.First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// LoadLatestForWorkspace returns the most recently used session of the
// given workspace, which is what --resume without an id attaches to.
func (s *Store) LoadLatestForWorkspace(workspace string) (*types.Session, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkspace, err)
	}
	var session types.Session
	err = s.db.Where("workspace = ?", abs).
		Order("last_used_at desc").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoPreviousSession, abs)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// LoadByContainerName returns the session owning the given container,
// used by shutdown and kill to recover persistence and network mode.
func (s *Store) LoadByContainerName(name string) (*types.Session, error) {
	var session types.Session
	err := s.db.First(&session, "container_name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: container %s", ErrSessionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns every session record, most recently used first.
func (s *Store) List() ([]types.Session, error) {
	var sessions []types.Session
	err := s.db.Order("last_used_at desc").Find(&sessions).Error
	return sessions, err
}

// Delete removes a session record. Deleting a missing record is not an
// error.
func (s *Store) Delete(id string) error {
	return s.db.Delete(&types.Session{}, "id = ?", id).Error
}
