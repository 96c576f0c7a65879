// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/kmgcc/quizmaster-ai/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(role model.Role, text string, ts int64, status model.Status) model.Message {
	m := model.NewMessage(role, text, status)
	m.Timestamp = ts
	return m
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	msgs := []model.Message{
		msg(model.RoleAssistant, "Welcome! Ask me about this question.", 100, model.StatusDone),
		msg(model.RoleUser, "Why is B correct?", 200, model.StatusDone),
		msg(model.RoleAssistant, "Because the handshake starts with SYN.", 300, model.StatusDone),
	}

	if err := s.Save("bank1", "q1", msgs); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	conv, err := s.Load("bank1", "q1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(conv.Messages) != 3 {
		t.Fatalf("Messages count = %d, want 3", len(conv.Messages))
	}
	for i, want := range msgs {
		got := conv.Messages[i]
		if got.ID != want.ID || got.Role != want.Role || got.Text != want.Text ||
			got.Timestamp != want.Timestamp || got.Status != want.Status {
			t.Errorf("message %d = %+v, want %+v", i, got, want)
		}
	}
}

func TestLoadNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Load("bank1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveIsFullReplace(t *testing.T) {
	s := openTestStore(t)

	long := []model.Message{
		msg(model.RoleUser, "u1", 1, model.StatusDone),
		msg(model.RoleAssistant, "a1", 2, model.StatusDone),
		msg(model.RoleUser, "u2", 3, model.StatusDone),
	}
	if err := s.Save("b", "q", long); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	short := long[:1]
	if err := s.Save("b", "q", short); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	conv, err := s.Load("b", "q")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Text != "u1" {
		t.Errorf("Messages = %+v, want only u1", conv.Messages)
	}
}

// Messages persisted mid-exchange come back as errors, never as streaming,
// and nothing is dropped or reordered.
func TestLoadNormalizesInterruptedStreaming(t *testing.T) {
	s := openTestStore(t)

	msgs := []model.Message{
		msg(model.RoleUser, "question", 1, model.StatusDone),
		msg(model.RoleAssistant, "partial answ", 2, model.StatusStreaming),
	}
	if err := s.Save("b", "q", msgs); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	conv, err := s.Load("b", "q")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(conv.Messages) != 2 {
		t.Fatalf("Messages count = %d, want 2 (nothing dropped)", len(conv.Messages))
	}
	got := conv.Messages[1]
	if got.Status != model.StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if got.Text != InterruptedText {
		t.Errorf("Text = %q, want the interrupted text", got.Text)
	}
	if conv.Messages[0].Status != model.StatusDone {
		t.Errorf("Unrelated message was touched: %+v", conv.Messages[0])
	}
}

// =============================================================================
// LEGACY KEY FALLBACK
// =============================================================================

func TestLoadFallsBackToLegacyKey(t *testing.T) {
	s := openTestStore(t)

	// A record written before bank scoping: empty topic ID.
	legacy := []model.Message{msg(model.RoleUser, "old question", 1, model.StatusDone)}
	if err := s.Save("", "q7", legacy); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	conv, err := s.Load("bank-new", "q7")
	if err != nil {
		t.Fatalf("Load with legacy fallback failed: %v", err)
	}
	if !conv.Legacy() {
		t.Error("Fallback record should report legacy identity")
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Text != "old question" {
		t.Errorf("Messages = %+v", conv.Messages)
	}
}

func TestLoadPrefersCompositeKey(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("", "q7", []model.Message{msg(model.RoleUser, "legacy", 1, model.StatusDone)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save("bank", "q7", []model.Message{msg(model.RoleUser, "scoped", 1, model.StatusDone)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	conv, err := s.Load("bank", "q7")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if conv.Messages[0].Text != "scoped" {
		t.Errorf("Loaded %q, composite key must win", conv.Messages[0].Text)
	}
}

// =============================================================================
// CLEAR
// =============================================================================

func TestClear(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("b", "q", []model.Message{msg(model.RoleUser, "x", 1, model.StatusDone)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Clear("b", "q"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := s.Load("b", "q"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after Clear", err)
	}

	// Clearing a missing conversation is not an error.
	if err := s.Clear("b", "never-existed"); err != nil {
		t.Errorf("Clear on absent key failed: %v", err)
	}
}

func TestClearRemovesLegacyRecord(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("", "q9", []model.Message{msg(model.RoleUser, "legacy", 1, model.StatusDone)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Clear("bank", "q9"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := s.Load("bank", "q9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Legacy record survived Clear: %v", err)
	}
}

// =============================================================================
// LIST
// =============================================================================

func TestList(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("b", "q1", []model.Message{
		msg(model.RoleUser, "first question text", 1, model.StatusDone),
		msg(model.RoleAssistant, "answer", 2, model.StatusDone),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save("b", "q2", []model.Message{
		msg(model.RoleUser, "second", 1, model.StatusDone),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save("other", "q1", []model.Message{
		msg(model.RoleUser, "different bank", 1, model.StatusDone),
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	metas, err := s.List("b")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("List count = %d, want 2", len(metas))
	}

	byID := map[string]Meta{}
	for _, m := range metas {
		byID[m.SubTopicID] = m
	}
	if byID["q1"].MessageCount != 2 {
		t.Errorf("q1 count = %d, want 2", byID["q1"].MessageCount)
	}
	if byID["q1"].Preview != "first question text" {
		t.Errorf("q1 preview = %q", byID["q1"].Preview)
	}
}
