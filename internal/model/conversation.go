// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for tutor conversations and messages.
package model

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the ordered message history for one question in a bank.
//
// Identity is the composite key (TopicID, SubTopicID): a bank identifier plus
// a question identifier. Records written before banks existed carry an empty
// TopicID and are identified by SubTopicID alone; the store keeps them
// readable.
//
// Insertion order is conversation order and is load-bearing: messages are
// never re-sorted.
type Conversation struct {
	TopicID    string    `json:"topic_id"`
	SubTopicID string    `json:"sub_topic_id"`
	Messages   []Message `json:"messages"`
}

// NewConversation creates an empty conversation for the given key.
func NewConversation(topicID, subTopicID string) *Conversation {
	return &Conversation{
		TopicID:    topicID,
		SubTopicID: subTopicID,
		Messages:   make([]Message, 0),
	}
}

// Legacy reports whether this is a pre-bank record keyed by SubTopicID alone.
func (c *Conversation) Legacy() bool {
	return c.TopicID == ""
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message, clamping its timestamp so timestamps never decrease
// within a conversation.
func (c *Conversation) Append(msg Message) {
	if last := c.Last(); last != nil && msg.Timestamp < last.Timestamp {
		msg.Timestamp = last.Timestamp
	}
	c.Messages = append(c.Messages, msg)
}

// Last returns a pointer to the most recent message, or nil if empty.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// LastUserIndex returns the index of the most recent user message, or -1.
func (c *Conversation) LastUserIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// Streaming returns a pointer to the message currently being streamed, or nil.
// At most one message may be streaming at any time.
func (c *Conversation) Streaming() *Message {
	for i := range c.Messages {
		if c.Messages[i].Status == StatusStreaming {
			return &c.Messages[i]
		}
	}
	return nil
}

// TruncateAfter drops every message after index i (exclusive of i itself).
func (c *Conversation) TruncateAfter(i int) {
	if i < -1 || i >= len(c.Messages) {
		return
	}
	c.Messages = c.Messages[:i+1]
}

// Snapshot returns a copy of the message list safe to hand to subscribers.
// The UI holds only this read-projection and never mutates pipeline state.
func (c *Conversation) Snapshot() []Message {
	out := make([]Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}
