// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the chat-completions client for the tutor
// pipeline.
package provider

import (
	"encoding/json"
	"strings"
)

// Wire-format constants for the line-delimited event stream.
const (
	// lineMarker prefixes every payload line.
	lineMarker = "data:"

	// doneSentinel is the terminal line content that ends the stream.
	doneSentinel = "[DONE]"
)

// =============================================================================
// STREAM CHUNK
// =============================================================================

// StreamChunk is the JSON payload carried by one frame.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Content returns the content from the first choice's delta.
func (c *StreamChunk) Content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// =============================================================================
// FRAME PARSER
// =============================================================================

// FrameParser reassembles a chunked byte stream into discrete protocol frames
// and extracts incremental content units.
//
// Chunk boundaries carry no meaning: a single chunk may contain zero, one, or
// many complete lines, and the last line of a chunk may be incomplete. The
// parser keeps the unterminated remainder as a carry-over tail completed by a
// future chunk, so the emitted deltas are identical however the bytes were
// split.
//
// A line that fails to parse as JSON is skipped and counted, never fatal: a
// single malformed frame must not abort an otherwise-useful answer.
type FrameParser struct {
	tail    string
	onDelta func(string)
	skipped int
	done    bool
}

// NewFrameParser creates a parser that emits each non-empty delta to onDelta.
func NewFrameParser(onDelta func(string)) *FrameParser {
	return &FrameParser{onDelta: onDelta}
}

// Feed consumes one raw chunk. Complete lines are processed immediately; the
// trailing unterminated piece becomes the new carry-over tail.
func (p *FrameParser) Feed(chunk string) {
	if p.done || chunk == "" {
		return
	}

	pieces := strings.Split(p.tail+chunk, "\n")
	p.tail = pieces[len(pieces)-1]

	for _, line := range pieces[:len(pieces)-1] {
		p.processLine(line)
		if p.done {
			return
		}
	}
}

// Close marks end-of-stream. Any non-empty leftover tail is discarded as an
// incomplete trailing frame.
func (p *FrameParser) Close() {
	p.tail = ""
	p.done = true
}

// Done reports whether the terminal sentinel has been seen or Close called.
func (p *FrameParser) Done() bool {
	return p.done
}

// Skipped returns the number of malformed frames that were ignored.
func (p *FrameParser) Skipped() int {
	return p.skipped
}

// processLine handles one complete line of the event stream.
func (p *FrameParser) processLine(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}

	// Lines without the marker (comments, id:, event:) are not frames.
	if !strings.HasPrefix(line, lineMarker) {
		return
	}

	data := strings.TrimSpace(strings.TrimPrefix(line, lineMarker))
	if data == "" {
		return
	}

	if data == doneSentinel {
		p.done = true
		return
	}

	var chunk StreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		p.skipped++
		return
	}

	if content := chunk.Content(); content != "" {
		p.onDelta(content)
	}
}
