package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// span is a half-open byte range of the source text.
type span struct{ start, end int }

type heading struct {
	level int
	title string
}

// unit is the smallest piece the packer places: a heading line, a
// paragraph, a sentence of a long paragraph, or a word run of a long
// sentence. Units never straddle a chunk boundary.
type unit struct {
	start, end int
	words      []span
	heading    *heading
}

var (
	markdownHeading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*$`)
	numberedHeading = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s+(\S.*)$`)
	romanHeading    = regexp.MustCompile(`^([IVXLCDM]+)\.\s+(\S.*)$`)
	chapterHeading  = regexp.MustCompile(`(?i)^chapter\s+(\d+|[ivxlcdm]+)\b[\s:.\-]*(.*)$`)
)

// maxHeadingWords keeps numbered list items from being read as headings.
const maxHeadingWords = 12

// parseHeading recognises a structural heading line.
func parseHeading(line string) *heading {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if m := markdownHeading.FindStringSubmatch(line); m != nil {
		return &heading{level: len(m[1]), title: strings.TrimSpace(m[2])}
	}
	if m := chapterHeading.FindStringSubmatch(line); m != nil {
		title := strings.TrimSpace(line)
		return &heading{level: 1, title: title}
	}
	if m := numberedHeading.FindStringSubmatch(line); m != nil && looksLikeTitle(m[2]) {
		return &heading{level: strings.Count(m[1], ".") + 1, title: line}
	}
	if m := romanHeading.FindStringSubmatch(line); m != nil && looksLikeTitle(m[2]) {
		return &heading{level: 1, title: line}
	}
	return nil
}

func looksLikeTitle(s string) bool {
	if len(strings.Fields(s)) > maxHeadingWords {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(strings.TrimSpace(s))
	return !strings.ContainsRune(".!?;,", last)
}

// wordSpans returns the byte ranges of whitespace-delimited tokens in
// text[start:end].
func wordSpans(text string, start, end int) []span {
	var out []span
	inWord := false
	wordStart := 0
	for i, r := range text[start:end] {
		pos := start + i
		if unicode.IsSpace(r) {
			if inWord {
				out = append(out, span{wordStart, pos})
				inWord = false
			}
			continue
		}
		if !inWord {
			wordStart = pos
			inWord = true
		}
	}
	if inWord {
		out = append(out, span{wordStart, end})
	}
	return out
}

// blocks splits text into heading lines and paragraphs. Paragraphs end at
// blank lines and at headings.
func blocks(text string) []unit {
	var (
		out       []unit
		paraStart = -1
		paraEnd   int
	)
	flush := func() {
		if paraStart >= 0 {
			if words := wordSpans(text, paraStart, paraEnd); len(words) > 0 {
				out = append(out, unit{start: words[0].start, end: words[len(words)-1].end, words: words})
			}
			paraStart = -1
		}
	}

	lineStart := 0
	for lineStart <= len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
		}
		line := text[lineStart:lineEnd]

		switch {
		case strings.TrimSpace(line) == "":
			flush()
		case parseHeading(line) != nil:
			flush()
			words := wordSpans(text, lineStart, lineEnd)
			out = append(out, unit{
				start:   words[0].start,
				end:     words[len(words)-1].end,
				words:   words,
				heading: parseHeading(line),
			})
		default:
			if paraStart < 0 {
				paraStart = lineStart
			}
			paraEnd = lineEnd
		}

		if lineEnd == len(text) {
			break
		}
		lineStart = lineEnd + 1
	}
	flush()
	return out
}

// sentences splits a run of words at sentence-ending punctuation.
func sentences(text string, words []span) [][]span {
	var (
		out   [][]span
		start int
	)
	for i, w := range words {
		if endsSentence(text[w.start:w.end]) {
			out = append(out, words[start:i+1])
			start = i + 1
		}
	}
	if start < len(words) {
		out = append(out, words[start:])
	}
	return out
}

func endsSentence(word string) bool {
	word = strings.TrimRight(word, `"')]}»”’`)
	if word == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(word)
	return last == '.' || last == '!' || last == '?'
}

// splitOversized breaks paragraphs longer than limit words into sentences,
// and sentences longer than target words into word runs of at most target.
func splitOversized(text string, in []unit, limit, target int) []unit {
	out := make([]unit, 0, len(in))
	for _, u := range in {
		if u.heading != nil || len(u.words) <= limit {
			out = append(out, u)
			continue
		}
		for _, s := range sentences(text, u.words) {
			for len(s) > target {
				out = append(out, unitOf(s[:target]))
				s = s[target:]
			}
			if len(s) > 0 {
				out = append(out, unitOf(s))
			}
		}
	}
	return out
}

func unitOf(words []span) unit {
	return unit{start: words[0].start, end: words[len(words)-1].end, words: words}
}
