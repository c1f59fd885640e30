package chunker

import (
	"regexp"
	"strings"
)

// unit is one structural segment of the source text: a heading, a list item,
// or a paragraph.
type unit struct {
	start, end int
	tokens     int
	section    string
	heading    bool
}

var (
	listItemRe = regexp.MustCompile(`^(?:[-*+]\s|\d+[.)]\s)`)
	// setextRe matches a heading underline (=== or ---). Two characters
	// minimum so a stray "-" stays paragraph text.
	setextRe = regexp.MustCompile(`^(?:==+|--+)$`)
)

// oversizeFactor is how far a structural unit may exceed ChunkSize and still
// be kept intact. Units within ChunkSize*1.5 are never split; this takes
// precedence over the exact target.
const oversizeFactor = 1.5

// chunkStructureAware segments text at headings, blank-line paragraph breaks,
// and enumerated list items; merges consecutive short units until they
// approach ChunkSize; and windows only units exceeding ChunkSize*1.5.
func chunkStructureAware(text string, opts Options) []Draft {
	units := segment(text)
	if len(units) == 0 {
		return nil
	}

	limit := int(float64(opts.ChunkSize) * oversizeFactor)
	var out []Draft

	// merge buffer: [mergeStart, mergeEnd) with accumulated token count
	mergeStart, mergeEnd, mergeTokens := -1, -1, 0
	mergeSection := ""

	flush := func() {
		if mergeStart < 0 {
			return
		}
		toks := tokenize(text[mergeStart:mergeEnd])
		if len(toks) > 0 {
			first, last := toks[0], toks[len(toks)-1]
			out = append(out, Draft{
				Ordinal:     len(out),
				Content:     text[mergeStart+first.start : mergeStart+last.end],
				TokenCount:  len(toks),
				StartOffset: mergeStart + first.start,
				EndOffset:   mergeStart + last.end,
				Section:     mergeSection,
			})
		}
		mergeStart, mergeEnd, mergeTokens = -1, -1, 0
		mergeSection = ""
	}

	for _, u := range units {
		if u.tokens == 0 {
			continue
		}
		if u.tokens > limit {
			// Oversized unit: flush pending merges, then window it independently.
			flush()
			out = windowTokens(text[u.start:u.end], tokenize(text[u.start:u.end]), opts, u.start, u.section, out)
			continue
		}
		if mergeStart >= 0 && mergeTokens+u.tokens > opts.ChunkSize {
			flush()
		}
		if mergeStart < 0 {
			mergeStart, mergeSection = u.start, u.section
		}
		mergeEnd = u.end
		mergeTokens += u.tokens
	}
	flush()
	return out
}

// segment splits text into structural units, tracking the nearest preceding
// heading as each unit's section title. Headings are #-prefixed lines and
// setext-style lines underlined with === or ---.
func segment(text string) []unit {
	var units []unit
	section := ""

	paraStart, paraTokens := -1, 0
	endPara := func(end int) {
		if paraStart >= 0 && paraTokens > 0 {
			units = append(units, unit{start: paraStart, end: end, tokens: paraTokens, section: section})
		}
		paraStart, paraTokens = -1, 0
	}

	// Previous plain text line, candidate for a setext underline on the next line.
	lastTextStart, lastTextEnd, lastTextTokens := -1, 0, 0

	pos := 0
	for pos <= len(text) {
		lineEnd := strings.IndexByte(text[pos:], '\n')
		var next int
		if lineEnd < 0 {
			lineEnd = len(text)
			next = len(text) + 1
		} else {
			lineEnd += pos
			next = lineEnd + 1
		}
		line := text[pos:lineEnd]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			endPara(pos)
			lastTextStart = -1
		case strings.HasPrefix(trimmed, "#"):
			endPara(pos)
			section = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			units = append(units, unit{start: pos, end: lineEnd, tokens: TokenCount(line), section: section, heading: true})
			lastTextStart = -1
		case setextRe.MatchString(trimmed) && lastTextStart >= 0:
			// The previous line is an underlined heading: pull it out of the
			// open paragraph and drop the underline itself.
			paraTokens -= lastTextTokens
			endPara(lastTextStart)
			section = strings.TrimSpace(text[lastTextStart:lastTextEnd])
			units = append(units, unit{start: lastTextStart, end: lastTextEnd, tokens: lastTextTokens, section: section, heading: true})
			lastTextStart = -1
		case listItemRe.MatchString(trimmed):
			endPara(pos)
			units = append(units, unit{start: pos, end: lineEnd, tokens: TokenCount(line), section: section})
			lastTextStart = -1
		default:
			if paraStart < 0 {
				paraStart = pos
			}
			paraTokens += TokenCount(line)
			lastTextStart, lastTextEnd, lastTextTokens = pos, lineEnd, TokenCount(line)
		}
		pos = next
	}
	endPara(len(text))
	return units
}
