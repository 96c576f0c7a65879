// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides durable conversation persistence.
//
// Conversations are keyed by (topicID, subTopicID) — a bank identifier plus a
// question identifier. Records written before banks existed used the question
// identifier alone; Load falls back to that legacy form so old data stays
// readable.
//
// Save is a full-replace write inside one transaction: a reader never
// observes a half-written conversation. Callers construct the complete
// message list before saving.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kmgcc/quizmaster-ai/internal/model"
)

// InterruptedText replaces the body of a message found still streaming in
// storage — the process died mid-exchange. Such a message is normalized to
// the error status on load and never resumed automatically.
const InterruptedText = "This response was interrupted before it finished. Use retry to ask again."

// ErrNotFound is returned by Load when no conversation exists for the key.
var ErrNotFound = errors.New("conversation not found")

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite-backed conversation store.
//
// A single connection is used; WAL keeps reads cheap while the orchestrator
// writes. The store is the only shared mutable resource across exchanges and
// all writes go through the orchestrator's finalize/error/clear paths.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the conversation database at path.
func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS conversations (
			topic_id    TEXT NOT NULL,
			subtopic_id TEXT NOT NULL,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (topic_id, subtopic_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			topic_id    TEXT NOT NULL,
			subtopic_id TEXT NOT NULL,
			seq         INTEGER NOT NULL,
			id          TEXT NOT NULL,
			role        TEXT NOT NULL,
			text        TEXT NOT NULL,
			ts          INTEGER NOT NULL,
			status      TEXT NOT NULL,
			PRIMARY KEY (topic_id, subtopic_id, seq)
		)`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save persists the full message list for the key, replacing whatever was
// stored before. No partial update exists: replace-all inside a transaction
// keeps the store crash-consistent.
func (s *Store) Save(topicID, subTopicID string, messages []model.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(
		`INSERT INTO conversations (topic_id, subtopic_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(topic_id, subtopic_id) DO UPDATE SET updated_at = excluded.updated_at`,
		topicID, subTopicID, now,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`DELETE FROM messages WHERE topic_id = ? AND subtopic_id = ?`,
		topicID, subTopicID,
	); err != nil {
		return err
	}

	for seq, msg := range messages {
		if _, err := tx.Exec(
			`INSERT INTO messages (topic_id, subtopic_id, seq, id, role, text, ts, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			topicID, subTopicID, seq, msg.ID, string(msg.Role), msg.Text, msg.Timestamp, string(msg.Status),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// =============================================================================
// LOAD
// =============================================================================

// Load retrieves the conversation for (topicID, subTopicID). When the
// composite key has no record, it also checks the legacy key form — the
// question identifier alone — for records written before bank scoping
// existed.
//
// Messages come back in insertion order. Any message still marked streaming
// is a mid-exchange crash leftover and is normalized to an error with a
// generic interrupted text.
func (s *Store) Load(topicID, subTopicID string) (*model.Conversation, error) {
	conv, err := s.loadExact(topicID, subTopicID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if topicID != "" {
		legacy, lerr := s.loadExact("", subTopicID)
		if lerr == nil {
			return legacy, nil
		}
		if !errors.Is(lerr, ErrNotFound) {
			return nil, lerr
		}
	}

	return nil, ErrNotFound
}

func (s *Store) loadExact(topicID, subTopicID string) (*model.Conversation, error) {
	var exists int
	err := s.db.QueryRow(
		`SELECT 1 FROM conversations WHERE topic_id = ? AND subtopic_id = ?`,
		topicID, subTopicID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, role, text, ts, status FROM messages
		 WHERE topic_id = ? AND subtopic_id = ? ORDER BY seq`,
		topicID, subTopicID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conv := model.NewConversation(topicID, subTopicID)
	for rows.Next() {
		var msg model.Message
		var role, status string
		if err := rows.Scan(&msg.ID, &role, &msg.Text, &msg.Timestamp, &status); err != nil {
			return nil, err
		}
		msg.Role = model.Role(role)
		msg.Status = model.Status(status)
		conv.Messages = append(conv.Messages, normalize(msg))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return conv, nil
}

// normalize repairs transient statuses that must never have been persisted.
func normalize(msg model.Message) model.Message {
	switch msg.Status {
	case model.StatusStreaming, model.StatusPending:
		msg.Status = model.StatusError
		msg.Text = InterruptedText
	}
	return msg
}

// =============================================================================
// CLEAR
// =============================================================================

// Clear deletes the persisted conversation for the key, including a legacy
// record hiding under the question identifier alone.
func (s *Store) Clear(topicID, subTopicID string) error {
	keys := [][2]string{{topicID, subTopicID}}
	if topicID != "" {
		keys = append(keys, [2]string{"", subTopicID})
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.Exec(`DELETE FROM messages WHERE topic_id = ? AND subtopic_id = ?`, k[0], k[1]); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM conversations WHERE topic_id = ? AND subtopic_id = ?`, k[0], k[1]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// =============================================================================
// LIST
// =============================================================================

// Meta is lightweight conversation metadata for bank overviews.
type Meta struct {
	TopicID      string
	SubTopicID   string
	MessageCount int
	UpdatedAt    int64 // milliseconds since epoch
	Preview      string
}

// List returns metadata for every conversation under a bank, most recently
// updated first. The preview is the first user message, truncated rune-safe.
func (s *Store) List(topicID string) ([]Meta, error) {
	rows, err := s.db.Query(
		`SELECT c.subtopic_id, c.updated_at,
		        (SELECT COUNT(*) FROM messages m
		          WHERE m.topic_id = c.topic_id AND m.subtopic_id = c.subtopic_id),
		        COALESCE((SELECT m.text FROM messages m
		          WHERE m.topic_id = c.topic_id AND m.subtopic_id = c.subtopic_id
		            AND m.role = 'user' ORDER BY m.seq LIMIT 1), '')
		   FROM conversations c
		  WHERE c.topic_id = ?
		  ORDER BY c.updated_at DESC`,
		topicID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		m := Meta{TopicID: topicID}
		if err := rows.Scan(&m.SubTopicID, &m.UpdatedAt, &m.MessageCount, &m.Preview); err != nil {
			return nil, err
		}
		m.Preview = truncateRunes(m.Preview, 80)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// truncateRunes truncates rune-safe, appending "..." when shortened.
func truncateRunes(s string, maxRunes int) string {
	runes := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(runes) <= maxRunes {
		return string(runes)
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
