// Package chunker splits extracted documents into bounded, overlapping,
// content-hashed segments. Sizes are counted in runes.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/datapull/internal/crawler"
	"github.com/JakeFAU/datapull/internal/hash/sha256"
)

// Default size bounds for every emitted chunk.
const (
	MinSize = 100
	MaxSize = 800
	Overlap = 50
)

// Config sets the chunk size bounds in runes.
type Config struct {
	Min     int
	Max     int
	Overlap int
}

// DefaultConfig returns the 100/800/50 bounds.
func DefaultConfig() Config {
	return Config{Min: MinSize, Max: MaxSize, Overlap: Overlap}
}

// Validate reports bounds the splitter cannot honor. Max must leave room for
// a re-split of an oversized trailing merge, hence at least twice Min.
func (c Config) Validate() error {
	var errs []error
	if c.Min <= 0 {
		errs = append(errs, errors.New("min must be > 0"))
	}
	if c.Max < 2*c.Min {
		errs = append(errs, fmt.Errorf("max %d must be >= 2*min (%d)", c.Max, 2*c.Min))
	}
	if c.Overlap < 0 || c.Overlap >= c.Min {
		errs = append(errs, fmt.Errorf("overlap %d must be >= 0 and < min", c.Overlap))
	}
	return errors.Join(errs...)
}

// maxSegment keeps a sub-minimum buffer plus one segment under Max.
func (c Config) maxSegment() int {
	return c.Max - c.Min
}

// Chunker splits text using fixed size bounds.
type Chunker struct {
	cfg Config
}

// New validates cfg and returns a Chunker.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("chunker config: %w", err)
	}
	return &Chunker{cfg: cfg}, nil
}

var std = &Chunker{cfg: DefaultConfig()}

// Chunk is one piece of a document. It has no identity until stored.
type Chunk struct {
	Index       int              `json:"chunkIndex"`
	Total       int              `json:"totalChunks"`
	Content     string           `json:"content"`
	Lang        crawler.Language `json:"lang"`
	ContentHash string           `json:"contentHash"`
	URL         string           `json:"url"`
	SourceID    string           `json:"sourceId"`
}

// Document chunks an extracted document with the default bounds.
func Document(doc crawler.ExtractedDocument) []Chunk {
	return std.Document(doc)
}

// Text chunks raw text with the default bounds.
func Text(content string, lang crawler.Language, url, sourceID string) []Chunk {
	return std.Text(content, lang, url, sourceID)
}

// Config returns the bounds in use.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Document chunks an extracted document using its language's boundaries.
func (c *Chunker) Document(doc crawler.ExtractedDocument) []Chunk {
	return c.Text(doc.Content, doc.Lang, doc.URL, doc.SourceID)
}

// Text chunks raw text. Concatenating the chunks after dropping the first
// Overlap runes of every chunk but the first reproduces the trimmed input.
func (c *Chunker) Text(content string, lang crawler.Language, url, sourceID string) []Chunk {
	cfg := c.cfg
	text := strings.TrimSpace(content)
	if utf8.RuneCountInString(text) < cfg.Min {
		return nil
	}

	var (
		pieces  [][]rune
		current []rune
		fresh   int // runes in current that are not overlap
	)
	for _, seg := range segments(text, lang, cfg.maxSegment()) {
		if len(current)+len(seg) > cfg.Max && len(current) >= cfg.Min {
			pieces = append(pieces, current)
			current = append(tail(current, cfg.Overlap), seg...)
			fresh = len(seg)
			continue
		}
		current = append(current, seg...)
		fresh += len(seg)
	}

	switch {
	case len(current) >= cfg.Min || len(pieces) == 0:
		pieces = append(pieces, current)
	case fresh > 0:
		pieces = mergeTrailing(cfg, pieces, current[len(current)-fresh:])
	}

	chunks := make([]Chunk, 0, len(pieces))
	for i, p := range pieces {
		body := string(p)
		chunks = append(chunks, Chunk{
			Index:       i + 1,
			Content:     body,
			Lang:        lang,
			ContentHash: sha256.Content(body),
			URL:         url,
			SourceID:    sourceID,
		})
	}
	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// mergeTrailing folds a sub-minimum remainder into the last chunk. If that
// pushes the chunk past Max it is re-split into two valid chunks.
func mergeTrailing(cfg Config, pieces [][]rune, rest []rune) [][]rune {
	last := len(pieces) - 1
	merged := append(append([]rune{}, pieces[last]...), rest...)
	if len(merged) <= cfg.Max {
		pieces[last] = merged
		return pieces
	}
	cut := len(merged) - cfg.Min
	head := merged[:cut]
	pieces[last] = head
	return append(pieces, append(tail(head, cfg.Overlap), merged[cut:]...))
}

func tail(r []rune, n int) []rune {
	if len(r) <= n {
		return append([]rune{}, r...)
	}
	return append([]rune{}, r[len(r)-n:]...)
}
