package chunking

import (
	"strings"

	"github.com/poiesic/chunkstore/core"
)

// DefaultSeparators is the natural-break ladder, most preferred first.
// Separators on the same level compete; the latest break in the window wins.
var DefaultSeparators = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? ", "。"},
	{" ", "\t"},
}

// Span is a half-open rune range [Start, End) of the source text.
type Span struct {
	Start int
	End   int
}

// Chunker splits text according to a size/overlap policy.
// A Chunker is immutable and safe for concurrent use.
type Chunker struct {
	size       int
	overlap    int
	separators [][]rune
	levels     []int // level of each entry in separators
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSeparators replaces the natural-break ladder.
// Each separator becomes its own level, in the given order of preference.
func WithSeparators(seps ...string) Option {
	return func(c *Chunker) {
		levels := make([][]string, 0, len(seps))
		for _, sep := range seps {
			levels = append(levels, []string{sep})
		}
		c.setSeparators(levels)
	}
}

// New creates a Chunker. It fails with core.ErrConfiguration when
// size <= 0 or overlap is not in [0, size).
func New(size, overlap int, opts ...Option) (*Chunker, error) {
	if err := core.ValidateChunkParams(size, overlap); err != nil {
		return nil, err
	}
	c := &Chunker{
		size:    size,
		overlap: overlap,
	}
	c.setSeparators(DefaultSeparators)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Chunker) setSeparators(levels [][]string) {
	c.separators = c.separators[:0]
	c.levels = c.levels[:0]
	for level, seps := range levels {
		for _, sep := range seps {
			if sep == "" {
				continue
			}
			c.separators = append(c.separators, []rune(sep))
			c.levels = append(c.levels, level)
		}
	}
}

// Size returns the maximum chunk length in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunks of text in source order.
// Empty or whitespace-only text produces no chunks.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}
	}
	spans := c.spans(runes)
	chunks := make([]string, len(spans))
	for i, s := range spans {
		chunks[i] = string(runes[s.Start:s.End])
	}
	return chunks
}

// Spans returns the rune ranges Split would cut text into.
func (c *Chunker) Spans(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.spans([]rune(text))
}

func (c *Chunker) spans(runes []rune) []Span {
	n := len(runes)
	if n <= c.size {
		return []Span{{Start: 0, End: n}}
	}

	stride := c.size - c.overlap
	spans := make([]Span, 0, n/stride+2)
	for start := 0; start < n; {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = c.breakBefore(runes, start, end)
		}
		spans = append(spans, Span{Start: start, End: end})

		if end == n {
			start += stride
		} else {
			// breakBefore guarantees end > start+overlap
			start = end - c.overlap
		}
	}
	return spans
}

// breakBefore returns the cut position for the window [start, end).
// It picks the latest break on the most preferred level that still leaves
// more than overlap runes in the chunk, or end for a hard cut.
func (c *Chunker) breakBefore(runes []rune, start, end int) int {
	minCut := start + c.overlap + 1
	best, bestLevel := -1, -1
	for i, sep := range c.separators {
		level := c.levels[i]
		if bestLevel != -1 && level != bestLevel {
			break
		}
		idx := lastIndex(runes[start:end], sep)
		if idx < 0 {
			continue
		}
		cut := start + idx + len(sep)
		if cut < minCut {
			continue
		}
		if cut > best {
			best, bestLevel = cut, level
		}
	}
	if best < 0 {
		return end
	}
	return best
}

// lastIndex returns the index of the last occurrence of sep in s, or -1.
func lastIndex(s, sep []rune) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if s[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
