package retriever

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order; the empty separator splits into
// single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text into chunks of at most ChunkSize characters, preferring
// paragraph, then line, then word boundaries. Consecutive chunks share up to
// Overlap characters.
type Splitter struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap, Separators: DefaultSeparators}
}

// Split returns the non-empty chunks of text.
func (s *Splitter) Split(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		pieces = splitRunes(text)
	} else {
		pieces = strings.Split(text, separator)
	}

	var (
		chunks []string
		good   []string
	)
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		if length(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good, separator)...)
			good = nil
		}
		if len(rest) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good, separator)...)
	}
	return chunks
}

// merge packs small pieces into chunks, carrying a tail of at most Overlap
// characters into the next chunk.
func (s *Splitter) merge(pieces []string, separator string) []string {
	sepLen := length(separator)
	var (
		chunks  []string
		current []string
		total   int
	)
	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, piece := range pieces {
		n := length(piece)
		if total+n+joinLen() > s.ChunkSize {
			if len(current) > 0 {
				if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
					chunks = append(chunks, chunk)
				}
				for len(current) > 0 && (total > s.Overlap || total+n+joinLen() > s.ChunkSize) {
					drop := length(current[0])
					if len(current) > 1 {
						drop += sepLen
					}
					total -= drop
					current = current[1:]
				}
			}
		}
		current = append(current, piece)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func splitRunes(text string) []string {
	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
