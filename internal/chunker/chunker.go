package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// DefaultSeparators lists split points from coarsest to finest. The empty
// separator splits into single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

type Chunker struct {
	size       int
	overlap    int
	separators []string
}

type Option func(*Chunker)

func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		c.size = size
	}
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

func WithSeparators(separators []string) Option {
	return func(c *Chunker) {
		c.separators = append([]string(nil), separators...)
	}
}

func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		size:       DefaultChunkSize,
		overlap:    DefaultOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", appErr.ErrConfig, c.size)
	}
	if c.overlap < 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", appErr.ErrConfig, c.overlap, c.size)
	}
	if len(c.separators) == 0 {
		return nil, fmt.Errorf("%w: at least one separator is required", appErr.ErrConfig)
	}
	return c, nil
}

func (c *Chunker) Size() int {
	return c.size
}

func (c *Chunker) Overlap() int {
	return c.overlap
}

// Split cuts text into chunks of at most Size characters where possible,
// preferring the coarsest separator that keeps pieces under the bound.
// Consecutive chunks repeat up to Overlap trailing characters.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.split(text, c.separators)
}

func (c *Chunker) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var finer []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			finer = separators[i+1:]
			break
		}
	}

	var (
		chunks []string
		small  []string
	)
	for _, piece := range splitKeepSeparator(text, separator) {
		if length(piece) < c.size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			chunks = append(chunks, c.merge(small)...)
			small = nil
		}
		if len(finer) == 0 {
			chunks = append(chunks, piece)
			continue
		}
		chunks = append(chunks, c.split(piece, finer)...)
	}
	if len(small) > 0 {
		chunks = append(chunks, c.merge(small)...)
	}
	return chunks
}

// merge packs pieces greedily into chunks, carrying whole trailing pieces
// worth at most overlap characters into the next chunk.
func (c *Chunker) merge(pieces []string) []string {
	var (
		chunks  []string
		current []string
		total   int
	)
	for _, piece := range pieces {
		n := length(piece)
		if total+n > c.size && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > c.overlap || (total+n > c.size && total > 0) {
				total -= length(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitKeepSeparator splits text on sep and attaches each separator to the
// start of the piece that follows it.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if i > 0 {
			part = sep + part
		}
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
