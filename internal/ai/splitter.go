package ai

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// TextSplitter cuts plain text into windows of at most size runes, each starting
// overlap runes before the previous one ended. Cuts prefer paragraph, line, then
// word boundaries found in the back half of a window.
type TextSplitter struct {
	size    int
	overlap int
}

func NewTextSplitter(size, overlap int) *TextSplitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &TextSplitter{size: size, overlap: overlap}
}

func (s *TextSplitter) Split(text string) []string {
	return s.splitWithin(text, s.size)
}

// splitWithin splits with a window of at most size runes, keeping the overlap.
func (s *TextSplitter) splitWithin(text string, size int) []string {
	if size <= 0 || size > s.size {
		size = s.size
	}
	overlap := s.overlap
	if overlap >= size {
		overlap = size / 5
	}
	runes := []rune(normalizeSpace(text))
	if len(runes) == 0 {
		return nil
	}
	var parts []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = boundary(runes, start, end, size)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			parts = append(parts, part)
		}
		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return parts
}

func boundary(runes []rune, start, end, size int) int {
	min := start + size/2
	for _, sep := range []string{"\n\n", "\n", " "} {
		for i := end; i > min; i-- {
			if matchAt(runes, i-len(sep), sep) {
				return i
			}
		}
	}
	return end
}

func matchAt(runes []rune, pos int, sep string) bool {
	if pos < 0 {
		return false
	}
	for i, r := range sep {
		if pos+i >= len(runes) || runes[pos+i] != r {
			return false
		}
	}
	return true
}

// normalizeSpace collapses runs of blanks and limits blank lines to one.
func normalizeSpace(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, func(r rune) bool {
			return unicode.IsSpace(r)
		}), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
