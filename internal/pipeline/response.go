package pipeline

import (
	"regexp"
	"strings"
)

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	extraLines = regexp.MustCompile(`\n{3,}`)
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ProcessText normalizes final response text: reasoning blocks are removed
// unless showThinking is set, line endings become LF, runs of blank lines
// collapse to one and the result is trimmed.
func ProcessText(text string, showThinking bool) string {
	if !showThinking {
		text = thinkBlock.ReplaceAllString(text, "")
		// An unterminated block hides everything after it.
		if i := strings.Index(text, thinkOpen); i >= 0 {
			text = text[:i]
		}
	}
	return strings.TrimSpace(normalizeLines(text))
}

// normalizeLines converts CRLF to LF and collapses runs of blank lines.
func normalizeLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return extraLines.ReplaceAllString(text, "\n\n")
}

// lineFilter applies normalizeLines to a sequence of deltas. A CRLF or a
// run of newlines may be split across deltas, so a trailing CR and the
// trailing newlines are held back until the next delta or Flush.
type lineFilter struct {
	newlines int
	cr       bool
}

// Push normalizes one delta and returns the part that is final.
func (f *lineFilter) Push(s string) string {
	s = f.held() + s
	f.newlines, f.cr = 0, false

	s = strings.ReplaceAll(s, "\r\n", "\n")
	if strings.HasSuffix(s, "\r") {
		s, f.cr = s[:len(s)-1], true
	}
	s = extraLines.ReplaceAllString(s, "\n\n")

	out := strings.TrimRight(s, "\n")
	f.newlines = len(s) - len(out)
	return out
}

// Flush returns what is held back at the end of the stream.
func (f *lineFilter) Flush() string {
	rest := f.held()
	f.newlines, f.cr = 0, false
	return rest
}

func (f *lineFilter) held() string {
	s := strings.Repeat("\n", f.newlines)
	if f.cr {
		s += "\r"
	}
	return s
}

// thinkFilter removes reasoning blocks from a sequence of deltas. Tags may
// be split across deltas, so a possible partial tag is held back until the
// next delta decides it.
type thinkFilter struct {
	inside  bool
	pending string
}

// Push filters one delta and returns the visible part.
func (f *thinkFilter) Push(s string) string {
	s = f.pending + s
	f.pending = ""

	var out strings.Builder
	for s != "" {
		tag := thinkOpen
		if f.inside {
			tag = thinkClose
		}
		i := strings.Index(s, tag)
		if i < 0 {
			keep := partialSuffix(s, tag)
			if !f.inside {
				out.WriteString(s[:len(s)-keep])
			}
			f.pending = s[len(s)-keep:]
			break
		}
		if !f.inside {
			out.WriteString(s[:i])
		}
		s = s[i+len(tag):]
		f.inside = !f.inside
	}
	return out.String()
}

// Flush returns text held back at the end of the stream.
func (f *thinkFilter) Flush() string {
	p := f.pending
	f.pending = ""
	if f.inside {
		return ""
	}
	return p
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	for k := min(len(tag)-1, len(s)); k > 0; k-- {
		if strings.HasSuffix(s, tag[:k]) {
			return k
		}
	}
	return 0
}
