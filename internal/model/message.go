// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for tutor conversations and messages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Tutor"
	default:
		return string(r)
	}
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status tracks the lifecycle of a message.
//
// Pending and Streaming are transient: they exist only while an exchange is in
// flight and must never be the terminal state of a persisted message. A stored
// message found still marked Streaming is a data-integrity anomaly and is
// normalized to Error on load (see the store package).
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// Terminal reports whether the status is a valid end state for persistence.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a tutor conversation.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // milliseconds since epoch, monotonic per conversation
	Status    Status `json:"status"`
}

// NewMessage creates a new message with a generated ID and the current time.
func NewMessage(role Role, text string, status Status) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		Status:    status,
	}
}

// NewUserMessage creates a completed user message.
func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, text, StatusDone)
}

// NewStreamingMessage creates an empty assistant placeholder that is filled in
// as deltas arrive.
func NewStreamingMessage() Message {
	return NewMessage(RoleAssistant, "", StatusStreaming)
}

// NewAssistantMessage creates a completed assistant message.
func NewAssistantMessage(text string) Message {
	return NewMessage(RoleAssistant, text, StatusDone)
}
