// Package chunk implements the markdown chunker (C3): it splits markdown
// into size-bounded pieces that respect code fences and paragraph/sentence
// boundaries, and extracts per-chunk section metadata.
package chunk

import (
	"regexp"
	"strings"
)

const fenceMarker = "```"

// Chunk splits markdown into an ordered list of size-bounded pieces.
//
// No chunk exceeds chunkSize characters except when a single fenced code
// region is itself longer, in which case the boundary falls at the fence's
// closing marker and the over-size chunk is permitted. Every emitted chunk
// has an even number of fence markers: a chunk never starts or ends inside a
// fenced region. Concatenating the result reproduces the input exactly,
// including whitespace.
func Chunk(markdown string, chunkSize int) []string {
	if strings.TrimSpace(markdown) == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = 5000
	}

	var out []string
	remaining := markdown
	for len(remaining) > 0 {
		if len(remaining) <= chunkSize {
			out = append(out, remaining)
			break
		}
		cut := cutPoint(remaining, chunkSize)
		if cut <= 0 {
			cut = chunkSize
		}
		out = append(out, remaining[:cut])
		remaining = remaining[cut:]
	}
	return out
}

// fenceParity reports whether the number of fence markers in s[:pos] is
// even, i.e. pos does not sit inside an open fenced region.
func fenceParity(s string, pos int) bool {
	if pos > len(s) {
		pos = len(s)
	}
	return strings.Count(s[:pos], fenceMarker)%2 == 0
}

// cutPoint decides where, within remaining, the next chunk boundary falls.
func cutPoint(remaining string, chunkSize int) int {
	limit := chunkSize
	if limit > len(remaining) {
		limit = len(remaining)
	}

	if !fenceParity(remaining, limit) {
		// limit sits inside an open fence: extend to the fence's close.
		idx := strings.Index(remaining[limit:], fenceMarker)
		if idx == -1 {
			return len(remaining)
		}
		return limit + idx + len(fenceMarker)
	}

	threshold := int(0.3 * float64(limit))

	if end, ok := lastParagraphBreak(remaining, limit, threshold); ok {
		return end
	}
	if end, ok := lastSentenceBreak(remaining, limit, threshold); ok {
		return end
	}
	return limit
}

// lastParagraphBreak finds the last "\n\n" ending at or before limit whose
// end position is past threshold and does not land inside an open fence.
func lastParagraphBreak(s string, limit, threshold int) (int, bool) {
	window := s[:limit]
	searchEnd := limit
	for {
		idx := strings.LastIndex(window[:searchEnd], "\n\n")
		if idx == -1 {
			return 0, false
		}
		end := idx + 2
		if end > threshold && fenceParity(s, end) {
			return end, true
		}
		searchEnd = idx
		if searchEnd <= 0 {
			return 0, false
		}
	}
}

// lastSentenceBreak finds the last sentence terminator (. ! ?) followed by a
// space, ending at or before limit, past threshold, outside any open fence.
func lastSentenceBreak(s string, limit, threshold int) (int, bool) {
	for i := limit - 1; i > threshold; i-- {
		c := s[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 >= len(s) || s[i+1] != ' ' {
			continue
		}
		end := i + 2
		if end > limit {
			continue
		}
		if fenceParity(s, end) {
			return end, true
		}
	}
	return 0, false
}

var headerLine = regexp.MustCompile(`(?m)^(#+)\s+(.+)$`)

// SectionInfo reports the header breadcrumbs and size of a single chunk.
type SectionInfo struct {
	Headers   string
	CharCount int
	WordCount int
}

// Section extracts section metadata from a chunk: every line matching
// ^#+\s+.+$ joined in order (preserving hash depth), plus char/word counts.
func Section(c string) SectionInfo {
	matches := headerLine.FindAllString(c, -1)
	return SectionInfo{
		Headers:   strings.Join(matches, "; "),
		CharCount: len(c),
		WordCount: len(strings.Fields(c)),
	}
}
