// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sanitize makes arbitrary text safe to serialize and to display.
//
// Generated text can carry leftovers from streaming: in-flight progress
// glyphs, unpaired UTF-16 surrogate halves smuggled through lax JSON, and
// stray control characters. Clean strips all of them so a payload built from
// the result always encodes as valid JSON and renders without artifacts.
package sanitize

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// progressMarkers are the streaming cursor glyphs appended to in-flight text
// by the renderer. They must never survive into payloads or storage.
const progressMarkers = "▍▌"

// Clean returns text safe to serialize and persist.
//
// It removes progress-marker glyphs, every code unit in the UTF-16 surrogate
// range [0xD800, 0xDFFF] that is not part of a valid pair, invalid UTF-8
// bytes, and ASCII control characters other than '\n' and '\t'.
//
// Clean is idempotent: Clean(Clean(s)) == Clean(s). It never panics; a failed
// sanitize must not block message delivery, so any internal inconsistency
// degrades to dropping the offending code unit.
func Clean(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])

		// Invalid byte sequence. DecodeRuneInString reports RuneError with
		// size 1 for bad input; a literal U+FFFD in the source decodes with
		// size 3 and is kept.
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}

		if keepRune(r) {
			b.WriteRune(r)
		}
		i += size
	}

	return b.String()
}

// keepRune reports whether a decoded rune survives sanitization.
func keepRune(r rune) bool {
	// Unpaired surrogate halves. Valid UTF-8 never decodes to these, but the
	// check stays so the contract holds for any rune source.
	if utf16.IsSurrogate(r) {
		return false
	}

	// ASCII control characters, newline and tab excepted.
	if r < 0x20 && r != '\n' && r != '\t' {
		return false
	}
	if r == 0x7F {
		return false
	}

	if strings.ContainsRune(progressMarkers, r) {
		return false
	}

	return true
}

// CleanAll applies Clean to every element of texts, in place semantics on a
// fresh slice.
func CleanAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = Clean(t)
	}
	return out
}
