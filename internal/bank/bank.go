// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bank holds the question-bank read models consumed by the tutor
// pipeline.
//
// The pipeline never mutates these: bank contents, grading results, and the
// operator persona are read-only inputs to the prompt builder.
package bank

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// BANK TYPES
// =============================================================================

// Meta describes a quiz bank.
type Meta struct {
	ID          string   `toml:"id"`
	Title       string   `toml:"title"`
	Description string   `toml:"description"`
	Tags        []string `toml:"tags"`
}

// Question is a single quiz question.
type Question struct {
	ID          string   `toml:"id"`
	Stem        string   `toml:"stem"`
	Options     []string `toml:"options"`
	Answer      string   `toml:"answer"`
	Explanation string   `toml:"explanation"`
}

// Bank is a quiz bank file: metadata plus its questions.
type Bank struct {
	Meta      Meta       `toml:"meta"`
	Questions []Question `toml:"questions"`
}

// Attempt is the grading engine's result for one question, if the user has
// answered it.
type Attempt struct {
	UserAnswer string
	IsCorrect  bool
	Analysis   string // prior analysis text, if any
}

// QuestionContext bundles everything the prompt builder needs about one
// question: the question itself and the user's graded attempt, when present.
type QuestionContext struct {
	Question Question
	Attempt  *Attempt
}

// =============================================================================
// BANK FILE LOADING
// =============================================================================

// Load reads a quiz bank from a TOML file.
func Load(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bank file: %w", err)
	}

	var b Bank
	if err := toml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse bank file: %w", err)
	}

	if b.Meta.ID == "" {
		return nil, fmt.Errorf("bank file %s has no meta.id", path)
	}

	return &b, nil
}

// FindQuestion returns the question with the given ID, or nil.
func (b *Bank) FindQuestion(id string) *Question {
	for i := range b.Questions {
		if b.Questions[i].ID == id {
			return &b.Questions[i]
		}
	}
	return nil
}
