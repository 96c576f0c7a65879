// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt assembles the provider-facing instruction text for a tutor
// exchange.
//
// The builder is deterministic: identical inputs produce identical text, and
// a section is omitted entirely when its source object is absent. The text is
// rebuilt for every exchange so persona edits take effect on the next message
// without requiring a new conversation.
package prompt

import (
	"fmt"
	"strings"

	"github.com/kmgcc/quizmaster-ai/internal/bank"
	"github.com/kmgcc/quizmaster-ai/internal/model"
	"github.com/kmgcc/quizmaster-ai/internal/provider"
	"github.com/kmgcc/quizmaster-ai/internal/sanitize"
)

// =============================================================================
// PERSONA
// =============================================================================

// Persona is the operator-configurable tutor personality.
type Persona struct {
	// Name the tutor refers to itself as (optional).
	Name string
	// Instructions is free-form operator guidance (optional).
	Instructions string
	// Language fixes the response language. Empty defaults to English.
	Language string
}

// language returns the configured response language or the default. Safe on
// a nil receiver so Build can call it with no persona configured.
func (p *Persona) language() string {
	if p == nil || p.Language == "" {
		return "English"
	}
	return p.Language
}

// =============================================================================
// SYSTEM TEXT
// =============================================================================

// Build assembles the system instruction text from the bank metadata, the
// question context, and the persona. Absent inputs omit their section; there
// is no placeholder text. The closing instruction fixing response language
// and tone is always appended.
func Build(meta *bank.Meta, qc *bank.QuestionContext, persona *Persona) string {
	var sb strings.Builder

	sb.WriteString("You are a study tutor helping a student review quiz questions.\n")

	if persona != nil {
		if persona.Name != "" {
			sb.WriteString(fmt.Sprintf("Your name is %s.\n", persona.Name))
		}
		if persona.Instructions != "" {
			sb.WriteString(persona.Instructions)
			sb.WriteString("\n")
		}
	}

	if meta != nil {
		sb.WriteString("\nQuiz bank:\n")
		sb.WriteString(fmt.Sprintf("- Title: %s\n", meta.Title))
		if meta.Description != "" {
			sb.WriteString(fmt.Sprintf("- Description: %s\n", meta.Description))
		}
		if len(meta.Tags) > 0 {
			sb.WriteString(fmt.Sprintf("- Topics: %s\n", strings.Join(meta.Tags, ", ")))
		}
	}

	if qc != nil {
		sb.WriteString("\nCurrent question:\n")
		sb.WriteString(qc.Question.Stem)
		sb.WriteString("\n")
		for _, opt := range qc.Question.Options {
			sb.WriteString(opt)
			sb.WriteString("\n")
		}
		if qc.Question.Answer != "" {
			sb.WriteString(fmt.Sprintf("Correct answer: %s\n", qc.Question.Answer))
		}
		if qc.Question.Explanation != "" {
			sb.WriteString(fmt.Sprintf("Explanation: %s\n", qc.Question.Explanation))
		}
		if qc.Attempt != nil {
			sb.WriteString(fmt.Sprintf("The student answered: %s (%s)\n",
				qc.Attempt.UserAnswer, correctness(qc.Attempt.IsCorrect)))
			if qc.Attempt.Analysis != "" {
				sb.WriteString(fmt.Sprintf("Prior analysis: %s\n", qc.Attempt.Analysis))
			}
		}
	}

	sb.WriteString(fmt.Sprintf(
		"\nAlways answer in %s. Be cooperative and encouraging; help the student understand, never just hand over answers.",
		persona.language()))

	return sb.String()
}

func correctness(ok bool) string {
	if ok {
		return "correct"
	}
	return "incorrect"
}

// =============================================================================
// PROVIDER MESSAGE LIST
// =============================================================================

// Messages maps a conversation history onto the provider's two-role
// vocabulary, with the system text first. Transient messages (a streaming
// placeholder, an errored exchange) carry no useful context and are skipped;
// every retained text is sanitized before it is allowed near a payload.
func Messages(system string, history []model.Message) []provider.ChatMessage {
	out := make([]provider.ChatMessage, 0, len(history)+1)
	out = append(out, provider.ChatMessage{Role: "system", Content: system})

	for _, msg := range history {
		if msg.Status != model.StatusDone {
			continue
		}
		text := sanitize.Clean(msg.Text)
		if text == "" {
			continue
		}
		out = append(out, provider.ChatMessage{
			Role:    msg.Role.String(),
			Content: text,
		})
	}

	return out
}
