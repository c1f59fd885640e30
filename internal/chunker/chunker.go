// Package chunker splits extracted text into ordered, bounded, overlapping segments.
package chunker

import (
	"unicode"

	"github.com/hyperjump/kioku/internal/models"
)

// Strategy selects the chunk-boundary policy.
type Strategy string

const (
	// StrategyFixed emits consecutive token windows of the target size.
	StrategyFixed Strategy = "fixed"
	// StrategyStructureAware segments at structural boundaries first, then
	// windows only oversized units.
	StrategyStructureAware Strategy = "structure_aware"
)

// Options configure chunking. ChunkSize is the target token count per chunk;
// Overlap is the number of tokens shared by consecutive chunks.
type Options struct {
	ChunkSize int
	Overlap   int
	Strategy  Strategy
}

// Validate rejects malformed options before any processing happens.
func (o Options) Validate() error {
	if o.ChunkSize <= 0 {
		return models.Validationf("chunk_size must be positive, got %d", o.ChunkSize)
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		return models.Validationf("overlap must satisfy 0 <= overlap < chunk_size, got overlap=%d chunk_size=%d", o.Overlap, o.ChunkSize)
	}
	switch o.Strategy {
	case StrategyFixed, StrategyStructureAware, "":
	default:
		return models.Validationf("unknown chunking strategy %q", o.Strategy)
	}
	return nil
}

// Draft is a chunk before it is assigned an ID and dataset. Offsets are byte
// positions of the first and last token in the source text.
type Draft struct {
	Ordinal     int
	Content     string
	TokenCount  int
	StartOffset int
	EndOffset   int
	Section     string
}

// token is a whitespace-delimited field with its byte offsets in the source.
type token struct {
	start, end int
}

// tokenize returns the offsets of all whitespace-delimited tokens in text.
func tokenize(text string) []token {
	var toks []token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, token{start: start, end: i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, token{start: start, end: len(text)})
	}
	return toks
}

// TokenCount returns the number of whitespace-delimited tokens in text.
func TokenCount(text string) int {
	return len(tokenize(text))
}

// Chunk splits text into ordered drafts according to opts. Empty or
// whitespace-only input yields zero drafts and no error.
func Chunk(text string, opts Options) ([]Draft, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	switch opts.Strategy {
	case StrategyStructureAware:
		return chunkStructureAware(text, opts), nil
	default:
		return chunkFixed(text, opts), nil
	}
}

// chunkFixed emits windows of ChunkSize tokens advancing by ChunkSize-Overlap
// per step. The final window may be shorter. Content is the original text
// slice between the first and last token, so source offsets stay exact.
func chunkFixed(text string, opts Options) []Draft {
	return windowTokens(text, tokenize(text), opts, 0, "", nil)
}

// windowTokens applies the fixed windowing policy over toks, offsetting all
// positions by base (used when windowing inside a structural unit). Drafts are
// appended to out with consecutive ordinals.
func windowTokens(text string, toks []token, opts Options, base int, section string, out []Draft) []Draft {
	if len(toks) == 0 {
		return out
	}
	step := opts.ChunkSize - opts.Overlap
	for i := 0; i < len(toks); i += step {
		end := i + opts.ChunkSize
		if end > len(toks) {
			end = len(toks)
		}
		first, last := toks[i], toks[end-1]
		out = append(out, Draft{
			Ordinal:     len(out),
			Content:     text[first.start:last.end],
			TokenCount:  end - i,
			StartOffset: base + first.start,
			EndOffset:   base + last.end,
			Section:     section,
		})
		if end >= len(toks) {
			break
		}
	}
	return out
}
