// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bank holds the question-bank read models consumed by the tutor
// pipeline.
package bank

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleBank = `
[meta]
id = "bank-networks"
title = "Computer Networks"
description = "Transport and application layer fundamentals"
tags = ["tcp", "http"]

[[questions]]
id = "q1"
stem = "Which TCP flag initiates a connection?"
options = ["A. ACK", "B. SYN", "C. FIN", "D. RST"]
answer = "B"
explanation = "The three-way handshake starts with SYN."

[[questions]]
id = "q2"
stem = "Which status class marks a client error?"
options = ["A. 2xx", "B. 3xx", "C. 4xx", "D. 5xx"]
answer = "C"
explanation = "4xx responses indicate client-side errors."
`

func writeBank(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bank.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write bank file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	b, err := Load(writeBank(t, sampleBank))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if b.Meta.ID != "bank-networks" {
		t.Errorf("Meta.ID = %q, want %q", b.Meta.ID, "bank-networks")
	}
	if len(b.Questions) != 2 {
		t.Fatalf("Questions count = %d, want 2", len(b.Questions))
	}
	if b.Questions[0].Answer != "B" {
		t.Errorf("Answer = %q, want %q", b.Questions[0].Answer, "B")
	}
	if len(b.Questions[0].Options) != 4 {
		t.Errorf("Options count = %d, want 4", len(b.Questions[0].Options))
	}
}

func TestLoadRejectsMissingID(t *testing.T) {
	if _, err := Load(writeBank(t, "[meta]\ntitle = \"no id\"\n")); err == nil {
		t.Error("Expected error for bank without meta.id")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestFindQuestion(t *testing.T) {
	b, err := Load(writeBank(t, sampleBank))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if q := b.FindQuestion("q2"); q == nil || q.Answer != "C" {
		t.Errorf("FindQuestion(q2) = %+v", q)
	}
	if q := b.FindQuestion("missing"); q != nil {
		t.Errorf("FindQuestion(missing) = %+v, want nil", q)
	}
}
