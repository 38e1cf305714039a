package rag

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/agentoven/notechat/pkg/models"
	"github.com/rs/zerolog/log"
)

// Context windows in characters, per provider.
var contextWindows = map[string]int{
	"openai":    16000,
	"anthropic": 100000,
	"ollama":    8000,
}

const defaultContextWindow = 4000

// NoNotesContext is the context used when retrieval found nothing.
const NoNotesContext = "I am an AI assistant helping you with your notes. " +
	"I couldn't find any specific notes related to your query, but I'll try to assist you " +
	"with general knowledge about the topics you're interested in."

const (
	anthropicHeader  = "I'm your AI assistant helping with your notes database. For your query: \"%s\", I found these relevant notes:\n\n"
	defaultHeader    = "I've found some relevant information in your notes that may help answer: \"%s\"\n\n"
	anthropicClosing = "\n\nPlease use this information to answer the user's query. If the notes don't contain enough information, you can use your general knowledge as well."
	defaultClosing   = "\n\nBased on this information from the user's notes, please provide a helpful response."
)

// Content limits.
const (
	minFragmentLength = 10
	closingReserve    = 100
	minTruncatedSpace = 200
	maxCodeLength     = 2000
)

// ContextWindow returns the character budget for provider.
func ContextWindow(provider string) int {
	if w, ok := contextWindows[provider]; ok {
		return w
	}
	return defaultContextWindow
}

// FormatContext renders fragments as prompt text for provider. Fragments
// are ordered by score and added as "### title" blocks until the provider's
// window is full. A first fragment that alone overflows the window is
// truncated instead of dropped.
func FormatContext(fragments []models.NoteFragment, query, provider string) string {
	if len(fragments) == 0 {
		return NoNotesContext
	}

	window := ContextWindow(provider)
	anthropic := provider == "anthropic"

	header, closing := fmt.Sprintf(defaultHeader, query), defaultClosing
	if anthropic {
		header, closing = fmt.Sprintf(anthropicHeader, query), anthropicClosing
	}

	sorted := make([]models.NoteFragment, len(fragments))
	copy(sorted, fragments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	total := utf8.RuneCountInString(header)
	var blocks []string
	skipped := 0
	for _, f := range sorted {
		content := SanitizeContent(f.Content, f.Mime)
		if utf8.RuneCountInString(strings.TrimSpace(content)) <= minFragmentLength {
			skipped++
			continue
		}
		title := f.Title
		if title == "" {
			title = "Untitled Note"
		}

		block := fmt.Sprintf("### %s\n%s\n", title, content)
		size := utf8.RuneCountInString(block)
		if total+size > window {
			if len(blocks) == 0 {
				if avail := window - total - closingReserve; avail > minTruncatedSpace {
					block = fmt.Sprintf("### %s\n%s...\n", title, truncateRunes(content, avail))
					blocks = append(blocks, block)
					total += utf8.RuneCountInString(block)
				}
			}
			break
		}
		blocks = append(blocks, block)
		total += size
	}

	out := header + strings.Join(blocks, "\n")
	if total+utf8.RuneCountInString(closing) <= window {
		out += closing
	}

	log.Debug().
		Str("provider", provider).
		Int("window", window).
		Int("included", len(blocks)).
		Int("skipped", skipped).
		Int("chars", utf8.RuneCountInString(out)).
		Msg("Context built")
	return out
}

var blankRuns = regexp.MustCompile(`\n\s*\n\s*\n`)

// SanitizeContent reduces note content to prompt text. HTML is converted to
// plain text and code is capped in length. Other content passes through.
func SanitizeContent(content, mime string) string {
	if content == "" {
		return ""
	}
	switch {
	case mime == "text/html" || (mime == "" && looksLikeHTML(content)):
		return htmlToText(content)
	case strings.HasPrefix(mime, "application/"):
		if utf8.RuneCountInString(content) > maxCodeLength {
			return truncateRunes(content, maxCodeLength) + "...\n\n[Content truncated for brevity]"
		}
	}
	return content
}

func htmlToText(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	// Block elements would otherwise glue their text together.
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, br, tr, pre").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	text := strings.ReplaceAll(doc.Text(), "\u00a0", " ")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func looksLikeHTML(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "<") && strings.Contains(s, "</")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
