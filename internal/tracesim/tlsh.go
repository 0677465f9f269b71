package tracesim

import (
	"errors"

	"github.com/glaslos/tlsh"
)

// TLSHHash is a fuzzy hash over a crash trace's raw bytes, used when a
// trace is long enough that TLSH's locality-sensitive comparison
// outperforms the n-gram SimHash above.
type TLSHHash struct {
	hash *tlsh.TLSH
	raw  string
}

// TLSHConfig configures a TLSHAnalyzer.
type TLSHConfig struct {
	// MinDataSize is the minimum trace size in bytes TLSH can hash
	// meaningfully.
	MinDataSize int
	// SimilarityThreshold is the maximum distance for two traces to be
	// considered the same underlying bug.
	SimilarityThreshold int
	// HighSimilarityThreshold flags near-certain duplicates.
	HighSimilarityThreshold int
}

// DefaultTLSHConfig returns sensible defaults for crash-trace comparison.
func DefaultTLSHConfig() *TLSHConfig {
	return &TLSHConfig{
		MinDataSize:             50,
		SimilarityThreshold:     100,
		HighSimilarityThreshold: 30,
	}
}

// TLSHAnalyzer computes and compares TLSH hashes of crash traces.
type TLSHAnalyzer struct {
	config *TLSHConfig
}

// NewTLSHAnalyzer constructs a TLSHAnalyzer.
func NewTLSHAnalyzer(config *TLSHConfig) *TLSHAnalyzer {
	if config == nil {
		config = DefaultTLSHConfig()
	}
	return &TLSHAnalyzer{config: config}
}

// ComputeHash computes the TLSH hash for a trace's raw bytes.
func (a *TLSHAnalyzer) ComputeHash(content []byte) (*TLSHHash, error) {
	if len(content) < a.config.MinDataSize {
		return nil, errors.New("tracesim: trace too small for TLSH computation")
	}
	hash, err := tlsh.HashBytes(content)
	if err != nil {
		return nil, err
	}
	return &TLSHHash{hash: hash, raw: hash.String()}, nil
}

// ComputeHashString computes a TLSH hash from a trace string.
func (a *TLSHAnalyzer) ComputeHashString(content string) (*TLSHHash, error) {
	return a.ComputeHash([]byte(content))
}

// TLSHResult is the outcome of comparing two crash traces.
type TLSHResult struct {
	Distance        int
	Similarity       float64
	IsSimilar        bool
	IsHighlySimilar  bool
	BaselineHash     string
	CurrentHash      string
}

// CompareHashes compares two TLSH hashes directly.
func (a *TLSHAnalyzer) CompareHashes(hash1, hash2 *TLSHHash) *TLSHResult {
	distance := hash1.hash.Diff(hash2.hash)
	maxDistance := 300.0
	similarity := (1.0 - float64(distance)/maxDistance) * 100.0
	if similarity < 0 {
		similarity = 0
	}
	return &TLSHResult{
		Distance:        distance,
		Similarity:      similarity,
		IsSimilar:       distance <= a.config.SimilarityThreshold,
		IsHighlySimilar: distance <= a.config.HighSimilarityThreshold,
		BaselineHash:    hash1.raw,
		CurrentHash:     hash2.raw,
	}
}

// CompareContents compares two raw traces directly.
func (a *TLSHAnalyzer) CompareContents(content1, content2 []byte) (*TLSHResult, error) {
	hash1, err := a.ComputeHash(content1)
	if err != nil {
		return nil, err
	}
	hash2, err := a.ComputeHash(content2)
	if err != nil {
		return nil, err
	}
	return a.CompareHashes(hash1, hash2), nil
}

// String returns the hash's string representation.
func (h *TLSHHash) String() string {
	if h == nil || h.hash == nil {
		return ""
	}
	return h.raw
}
