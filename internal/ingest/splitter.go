package ingest

import "strings"

const (
	// DefaultChunkSize is the target chunk length in runes.
	DefaultChunkSize = 512
	// DefaultChunkOverlap is carried from the tail of one chunk into the
	// head of the next so retrieval does not lose context at boundaries.
	DefaultChunkOverlap = 50
)

// Splitter cuts document text into overlapping chunks, preferring
// paragraph breaks, then sentence ends, before falling back to a hard cut.
// Splitting is deterministic: the same text always produces the same
// chunks.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter builds a splitter; non-positive arguments fall back to the
// defaults.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	return &Splitter{size: size, overlap: overlap}
}

// Split returns the chunk texts for one document.
func (s *Splitter) Split(text string) []string {
	segments := s.segments(text)
	if len(segments) == 0 {
		return nil
	}

	var chunks []string
	var current []rune
	for _, seg := range segments {
		runes := []rune(seg)
		if len(current) > 0 && len(current)+1+len(runes) > s.size {
			chunks = append(chunks, string(current))
			current = s.carryOverlap(current)
			// A chunk must never be pure overlap: when the next segment
			// does not fit beside the carried tail, drop the carry.
			if len(current) > 0 && len(current)+1+len(runes) > s.size {
				current = nil
			}
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, runes...)
	}
	if trimmed := strings.TrimSpace(string(current)); trimmed != "" {
		chunks = append(chunks, trimmed)
	}
	return chunks
}

// segments breaks text into units that each fit within the chunk size:
// paragraphs first, long paragraphs into sentences, and oversized
// sentences into hard cuts.
func (s *Splitter) segments(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(strings.Join(strings.Fields(para), " "))
		if para == "" {
			continue
		}
		if len([]rune(para)) <= s.size {
			out = append(out, para)
			continue
		}
		for _, sentence := range splitSentences(para) {
			runes := []rune(sentence)
			if len(runes) <= s.size {
				out = append(out, sentence)
				continue
			}
			for start := 0; start < len(runes); start += s.size {
				end := start + s.size
				if end > len(runes) {
					end = len(runes)
				}
				part := strings.TrimSpace(string(runes[start:end]))
				if part != "" {
					out = append(out, part)
				}
			}
		}
	}
	return out
}

// carryOverlap returns the tail of the finished chunk to seed the next
// one, snapped back to a word boundary so the overlap never starts
// mid-word.
func (s *Splitter) carryOverlap(chunk []rune) []rune {
	if s.overlap <= 0 || len(chunk) <= s.overlap {
		return nil
	}
	tail := chunk[len(chunk)-s.overlap:]
	for i, r := range tail {
		if r == ' ' {
			trimmed := strings.TrimSpace(string(tail[i:]))
			return []rune(trimmed)
		}
	}
	return nil
}

func splitSentences(text string) []string {
	var out []string
	var sb strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// Sentence end only when followed by whitespace or EOF, so
			// decimals like "2.5" do not split.
			if i == len(runes)-1 || runes[i+1] == ' ' {
				if sentence := strings.TrimSpace(sb.String()); sentence != "" {
					out = append(out, sentence)
				}
				sb.Reset()
			}
		}
	}
	if sentence := strings.TrimSpace(sb.String()); sentence != "" {
		out = append(out, sentence)
	}
	return out
}
