// -----------------------------------------------------------------------
// Chunker - Token-estimating text splitter with paragraph preservation
// -----------------------------------------------------------------------

package extraction

import (
	"fmt"
	"strings"
)

const (
	// DefaultMaxTokens is the per-chunk token budget
	DefaultMaxTokens = 3000
	// DefaultOverlapTokens is carried from the tail of one chunk into the next
	DefaultOverlapTokens = 200
)

// Chunk is one extraction unit with its synthetic source
type Chunk struct {
	Text   string
	Source string
	Index  int
}

// EstimateTokens approximates token count as len/4, which tracks actual
// tokenizer output closely enough for budget decisions.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// ChunkText splits text into chunks of at most maxTokens estimated tokens,
// preserving paragraph boundaries, with overlapTokens of trailing context
// repeated at the start of each following chunk. Text at or under the
// budget stays a single chunk with the original source.
func ChunkText(text, source string, maxTokens, overlapTokens int) []Chunk {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = DefaultOverlapTokens
	}

	if EstimateTokens(text) <= maxTokens {
		return []Chunk{{Text: text, Source: source, Index: 0}}
	}

	paragraphs := splitParagraphs(text)
	maxChars := maxTokens * 4
	overlapChars := overlapTokens * 4

	var chunks []Chunk
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Text:  strings.TrimSpace(current.String()),
			Index: len(chunks),
		})
		// Seed the next chunk with trailing overlap for context continuity
		tail := overlapTail(current.String(), overlapChars)
		current.Reset()
		if tail != "" {
			current.WriteString(tail)
			current.WriteString("\n\n")
		}
	}

	for _, para := range paragraphs {
		// A single paragraph over budget is split hard; everything else
		// keeps its paragraph boundary.
		if len(para) > maxChars {
			flush()
			for start := 0; start < len(para); start += maxChars {
				end := start + maxChars
				if end > len(para) {
					end = len(para)
				}
				current.WriteString(para[start:end])
				if end < len(para) {
					flush()
				}
			}
			current.WriteString("\n\n")
			continue
		}

		if current.Len()+len(para) > maxChars {
			flush()
		}
		current.WriteString(para)
		current.WriteString("\n\n")
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, Chunk{
			Text:  strings.TrimSpace(current.String()),
			Index: len(chunks),
		})
	}

	for i := range chunks {
		chunks[i].Source = fmt.Sprintf("%s_chunk_%d", source, i)
	}

	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// overlapTail returns up to maxChars of trailing text, cut at a word
// boundary where possible
func overlapTail(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars <= 0 || text == "" {
		return ""
	}
	if len(text) <= maxChars {
		return text
	}

	tail := text[len(text)-maxChars:]
	if idx := strings.IndexAny(tail, " \n\t"); idx >= 0 && idx < len(tail)-1 {
		tail = tail[idx+1:]
	}
	return tail
}
