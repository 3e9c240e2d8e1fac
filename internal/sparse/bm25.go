// Package sparse provides a BM25 sparse vector encoder for hybrid search.
//
// The encoder is fitted on a corpus to learn document frequencies and the
// average document length, then encodes documents (term-frequency side)
// and queries (inverse-document-frequency side) into sparse vectors keyed
// by a 32-bit token hash. Fitted state round-trips through JSON so an
// index rebuild can reuse or replace it atomically.
package sparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"
)

// Default BM25 parameters.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// ErrNotFitted is returned when encoding is attempted before Fit or Load.
var ErrNotFitted = errors.New("sparse: encoder not fitted")

// Vector is a sparse vector: parallel slices sorted by ascending index.
type Vector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Encoder computes BM25 sparse vectors over a fitted corpus.
type Encoder struct {
	K1 float64 `json:"k1"`
	B  float64 `json:"b"`

	// DocFreq maps token hashes to the number of fitted documents
	// containing the token.
	DocFreq map[uint32]int `json:"doc_freq"`
	// DocCount is the number of documents seen during Fit.
	DocCount int `json:"doc_count"`
	// AvgDocLen is the mean token count per fitted document.
	AvgDocLen float64 `json:"avg_doc_len"`
}

// NewEncoder returns an unfitted encoder with default parameters.
func NewEncoder() *Encoder {
	return &Encoder{K1: DefaultK1, B: DefaultB}
}

// Fit learns document frequencies and average length from the corpus,
// replacing any previous fitted state.
func (e *Encoder) Fit(docs []string) {
	e.DocFreq = make(map[uint32]int)
	e.DocCount = len(docs)
	e.AvgDocLen = 0

	total := 0
	for _, doc := range docs {
		tokens := Tokenize(doc)
		total += len(tokens)
		seen := make(map[uint32]struct{}, len(tokens))
		for _, tok := range tokens {
			h := hashToken(tok)
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			e.DocFreq[h]++
		}
	}
	if e.DocCount > 0 {
		e.AvgDocLen = float64(total) / float64(e.DocCount)
	}
}

func (e *Encoder) fitted() bool {
	return e.DocFreq != nil && e.DocCount > 0
}

// Encode produces the document-side vector: per-token BM25 term
// frequency saturated by k1 and length-normalized by b.
func (e *Encoder) Encode(doc string) (Vector, error) {
	if !e.fitted() {
		return Vector{}, ErrNotFitted
	}

	tokens := Tokenize(doc)
	if len(tokens) == 0 {
		return Vector{}, nil
	}

	tf := make(map[uint32]int, len(tokens))
	for _, tok := range tokens {
		tf[hashToken(tok)]++
	}

	docLen := float64(len(tokens))
	norm := 1 - e.B + e.B*docLen/e.AvgDocLen

	vec := Vector{
		Indices: make([]uint32, 0, len(tf)),
		Values:  make([]float32, 0, len(tf)),
	}
	for h := range tf {
		vec.Indices = append(vec.Indices, h)
	}
	sort.Slice(vec.Indices, func(i, j int) bool { return vec.Indices[i] < vec.Indices[j] })
	for _, h := range vec.Indices {
		f := float64(tf[h])
		score := f * (e.K1 + 1) / (f + e.K1*norm)
		vec.Values = append(vec.Values, float32(score))
	}
	return vec, nil
}

// EncodeQuery produces the query-side vector: per-token IDF weights.
// Tokens never seen during Fit carry zero weight and are omitted.
func (e *Encoder) EncodeQuery(query string) (Vector, error) {
	if !e.fitted() {
		return Vector{}, ErrNotFitted
	}

	seen := make(map[uint32]struct{})
	var indices []uint32
	for _, tok := range Tokenize(query) {
		h := hashToken(tok)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		if e.DocFreq[h] == 0 {
			continue
		}
		indices = append(indices, h)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	vec := Vector{Indices: indices, Values: make([]float32, 0, len(indices))}
	n := float64(e.DocCount)
	for _, h := range indices {
		df := float64(e.DocFreq[h])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		vec.Values = append(vec.Values, float32(idf))
	}
	return vec, nil
}

// Dump writes the fitted state to path as JSON.
func (e *Encoder) Dump(path string) error {
	if !e.fitted() {
		return ErrNotFitted
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal encoder state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write encoder state: %w", err)
	}
	return nil
}

// Load reads fitted state previously written by Dump.
func Load(path string) (*Encoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read encoder state: %w", err)
	}
	e := NewEncoder()
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("unmarshal encoder state: %w", err)
	}
	if !e.fitted() {
		return nil, ErrNotFitted
	}
	return e, nil
}

// Tokenize lowercases text and splits it on any non-alphanumeric rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// hashToken maps a token into the 32-bit sparse index space.
func hashToken(tok string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(tok))
	return h.Sum32()
}
