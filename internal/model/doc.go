// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for tutor conversations and messages.
//
// This package defines the core domain types used throughout the application
// for representing per-question tutor conversations and their messages.
//
// # Key Types
//
//   - Conversation: Ordered message history keyed by (bank, question)
//   - Message: Single message with role, text, timestamp, and status
//   - Role: Message role enumeration (user, assistant)
//   - Status: Message lifecycle (pending, streaming, done, error)
//
// # Usage
//
// Create a conversation and append messages:
//
//	conv := model.NewConversation("bank-42", "q-7")
//	conv.Append(model.NewUserMessage("Why is option B wrong?"))
//
// Timestamps are clamped so they never decrease within a conversation, and
// insertion order is conversation order.
package model
