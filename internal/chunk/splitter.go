// Package chunk splits normalized text into bounded, overlapping chunks.
//
// Splitting is recursive over a priority-ordered separator list: the text
// is divided at the highest-priority separator that exists, fragments are
// greedily merged back up to the size budget, and any fragment still over
// budget recurses into the lower-priority separators. The empty-string
// separator is the last resort and splits at character level, so every
// input can be chunked. Identical input and parameters always yield an
// identical chunk sequence.
package chunk

// DefaultChunkSize is the maximum chunk length in characters.
const DefaultChunkSize = 400

// DefaultChunkOverlap is the number of trailing source characters from
// the previous chunk prefixed onto each subsequent chunk.
const DefaultChunkOverlap = 50

// DefaultSeparators is the split-point priority order: paragraph break,
// line break, sentence punctuation, comma, space, then character level.
var DefaultSeparators = []string{"\n\n", "\n", ".", "!", "?", ",", " ", ""}

// Chunk is one bounded slice of the source text.
type Chunk struct {
	Index int
	Text  string
}

// Splitter produces overlapping chunks from text.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithSeparators overrides the separator priority list.
func WithSeparators(seps []string) Option {
	return func(s *Splitter) {
		if len(seps) > 0 {
			s.separators = seps
		}
	}
}

// NewSplitter creates a splitter with the given chunk size and overlap,
// both measured in characters. Overlap must be smaller than size; an
// oversized overlap is clamped to a quarter of the chunk size.
func NewSplitter(chunkSize, overlap int, opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: DefaultSeparators,
	}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultChunkSize
	}
	if s.overlap < 0 {
		s.overlap = 0
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Split divides text into chunks of at most the configured size. Each
// chunk after the first begins with the trailing overlap characters of
// the source text preceding it.
func (s *Splitter) Split(text string) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)

	// Pieces are packed against a reduced budget so that prefixing the
	// overlap never pushes a chunk past the size limit.
	budget := s.chunkSize - s.overlap
	if budget <= 0 {
		budget = s.chunkSize
	}

	pieces := splitRunes(runes, s.separators, budget)

	chunks := make([]Chunk, 0, len(pieces))
	consumed := 0
	for _, piece := range pieces {
		if len(piece) == 0 {
			continue
		}
		var text []rune
		if len(chunks) > 0 && s.overlap > 0 {
			start := consumed - s.overlap
			if start < 0 {
				start = 0
			}
			text = append(text, runes[start:consumed]...)
		}
		text = append(text, piece...)
		chunks = append(chunks, Chunk{Index: len(chunks), Text: string(text)})
		consumed += len(piece)
	}
	return chunks
}

// splitRunes partitions r into contiguous pieces of at most budget runes,
// preferring splits at the first separator in seps that occurs in r.
func splitRunes(r []rune, seps []string, budget int) [][]rune {
	if len(r) <= budget {
		return [][]rune{r}
	}
	if len(seps) == 0 {
		return chop(r, budget)
	}

	sep := []rune(seps[0])
	rest := seps[1:]
	if len(sep) == 0 {
		return chop(r, budget)
	}

	frags := splitAfter(r, sep)
	if len(frags) == 1 {
		// Separator absent; fall through to the next priority.
		return splitRunes(r, rest, budget)
	}

	var pieces [][]rune
	var current []rune
	flush := func() {
		if len(current) > 0 {
			pieces = append(pieces, current)
			current = nil
		}
	}

	for _, frag := range frags {
		if len(frag) > budget {
			flush()
			pieces = append(pieces, splitRunes(frag, rest, budget)...)
			continue
		}
		if len(current)+len(frag) > budget {
			flush()
		}
		current = append(current, frag...)
	}
	flush()

	return pieces
}

// splitAfter splits r after each occurrence of sep, keeping the separator
// attached so the fragments concatenate back to r exactly.
func splitAfter(r, sep []rune) [][]rune {
	var frags [][]rune
	start := 0
	for i := 0; i+len(sep) <= len(r); {
		if match(r[i:], sep) {
			frags = append(frags, r[start:i+len(sep)])
			i += len(sep)
			start = i
			continue
		}
		i++
	}
	if start < len(r) {
		frags = append(frags, r[start:])
	}
	if len(frags) == 0 {
		frags = append(frags, r)
	}
	return frags
}

func match(r, sep []rune) bool {
	for i := range sep {
		if r[i] != sep[i] {
			return false
		}
	}
	return true
}

// chop divides r into budget-sized pieces at character level.
func chop(r []rune, budget int) [][]rune {
	var pieces [][]rune
	for start := 0; start < len(r); start += budget {
		end := start + budget
		if end > len(r) {
			end = len(r)
		}
		pieces = append(pieces, r[start:end])
	}
	return pieces
}
