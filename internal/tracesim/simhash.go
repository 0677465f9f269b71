// Package tracesim provides fuzzy similarity hashing for crash stack
// traces, used to collapse near-duplicate crashes into the "trace3"
// unique-bug tier (same top frames, different noise below them).
package tracesim

import (
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"
)

// SimHashBits is the number of bits in a SimHash.
const SimHashBits = 64

// SimHash is a locality-sensitive hash over a trace's tokens: traces that
// differ only in volatile details (addresses, timestamps) hash close
// together.
type SimHash uint64

// SimHasher computes SimHash values over crash-trace text.
type SimHasher struct {
	nGramSize      int
	caseSensitive  bool
	ignoreNumbers  bool
	ignorePatterns []*regexp.Regexp
}

// SimHasherOption configures a SimHasher.
type SimHasherOption func(*SimHasher)

// WithNGramSize sets the n-gram size for tokenization.
func WithNGramSize(n int) SimHasherOption {
	return func(s *SimHasher) {
		if n > 0 {
			s.nGramSize = n
		}
	}
}

// WithCaseSensitive enables case-sensitive comparison.
func WithCaseSensitive(enabled bool) SimHasherOption {
	return func(s *SimHasher) { s.caseSensitive = enabled }
}

// WithIgnoreNumbers enables stripping numeric literals (addresses, offsets)
// before hashing.
func WithIgnoreNumbers(enabled bool) SimHasherOption {
	return func(s *SimHasher) { s.ignoreNumbers = enabled }
}

// NewSimHasher creates a SimHasher tuned for stack-trace text: addresses,
// hex offsets and hashes are ignored by default since they vary run to run
// even for the same underlying bug.
func NewSimHasher(opts ...SimHasherOption) *SimHasher {
	s := &SimHasher{
		nGramSize:     3,
		caseSensitive: false,
		ignoreNumbers: true,
	}

	defaultPatterns := []string{
		`0x[a-f0-9]+`,  // addresses / offsets
		`[a-f0-9]{32}`, // MD5-length hash
		`[a-f0-9]{40}`, // SHA1-length hash
	}
	for _, p := range defaultPatterns {
		if re, err := regexp.Compile(p); err == nil {
			s.ignorePatterns = append(s.ignorePatterns, re)
		}
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compute calculates the SimHash of a crash trace's text.
func (s *SimHasher) Compute(content string) SimHash {
	processed := s.preprocess(content)
	features := s.extractFeatures(processed)
	if len(features) == 0 {
		return 0
	}
	return computeSimHash(features)
}

func (s *SimHasher) preprocess(content string) string {
	result := content
	for _, re := range s.ignorePatterns {
		result = re.ReplaceAllString(result, " ")
	}
	result = normalizeWhitespace(result)
	if !s.caseSensitive {
		result = strings.ToLower(result)
	}
	if s.ignoreNumbers {
		result = removeNumbers(result)
	}
	return result
}

func (s *SimHasher) extractFeatures(content string) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}
	if len(words) < s.nGramSize {
		return words
	}
	features := make([]string, 0, len(words)-s.nGramSize+1)
	for i := 0; i <= len(words)-s.nGramSize; i++ {
		features = append(features, strings.Join(words[i:i+s.nGramSize], " "))
	}
	return features
}

func computeSimHash(features []string) SimHash {
	var vector [SimHashBits]int
	for _, feature := range features {
		hash := hashFeature(feature)
		for i := 0; i < SimHashBits; i++ {
			if hash&(1<<i) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}
	var simhash SimHash
	for i := 0; i < SimHashBits; i++ {
		if vector[i] > 0 {
			simhash |= 1 << i
		}
	}
	return simhash
}

func hashFeature(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// Distance returns the Hamming distance between two SimHash values: 0
// (identical) to 64 (completely different).
func (h SimHash) Distance(other SimHash) int {
	diff := h ^ other
	count := 0
	for diff != 0 {
		count++
		diff &= diff - 1
	}
	return count
}

// Similarity returns the similarity percentage (0-100).
func (h SimHash) Similarity(other SimHash) float64 {
	return (1.0 - float64(h.Distance(other))/float64(SimHashBits)) * 100.0
}

// IsSimilar reports whether two hashes are within threshold Hamming
// distance of each other.
func (h SimHash) IsSimilar(other SimHash, threshold int) bool {
	return h.Distance(other) <= threshold
}

func normalizeWhitespace(content string) string {
	re := regexp.MustCompile(`\s+`)
	return strings.TrimSpace(re.ReplaceAllString(content, " "))
}

func removeNumbers(content string) string {
	var result strings.Builder
	result.Grow(len(content))
	for _, r := range content {
		if !unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
