// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// =============================================================================
// CHANGE NOTIFICATIONS
// =============================================================================

// Collection names a table subscribers can watch.
type Collection string

const (
	Chats       Collection = "chats"
	Messages    Collection = "messages"
	Attachments Collection = "attachments"
)

// Op is the kind of change.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one committed write. ChatID is zero when the write is not
// scoped to a single chat.
type Change struct {
	Collection Collection
	Op         Op
	ChatID     int64
	IDs        []int64
}

type subscriber struct {
	id int
	fn func(Change)
}

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed record store. It is safe for concurrent use;
// writes are serialized on a single connection.
type Store struct {
	db *sql.DB

	subMu  sync.RWMutex
	subs   map[Collection][]subscriber
	nextID int
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps pragmas in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, subs: make(map[Collection][]subscriber)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO metadata(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(SchemaVersion),
	)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Subscribe registers fn to be called after every committed change to c.
// Callbacks run synchronously on the writing goroutine and must not block
// or write to the store. The returned function unsubscribes.
func (s *Store) Subscribe(c Collection, fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs[c] = append(s.subs[c], subscriber{id: id, fn: fn})

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		list := s.subs[c]
		for i, sub := range list {
			if sub.id == id {
				s.subs[c] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) notify(changes ...Change) {
	s.subMu.RLock()
	var calls []func()
	for _, ch := range changes {
		for _, sub := range s.subs[ch.Collection] {
			fn, ch := sub.fn, ch
			calls = append(calls, func() { fn(ch) })
		}
	}
	s.subMu.RUnlock()

	for _, call := range calls {
		call()
	}
}

// inTx runs fn inside a transaction.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
