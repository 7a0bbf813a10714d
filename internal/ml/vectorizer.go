package ml

import (
	"errors"
	"math"
	"sort"
)

// ErrEmptyVocabulary is returned when document-frequency pruning leaves no terms.
var ErrEmptyVocabulary = errors.New("empty vocabulary after pruning; documents too few or too similar")

// VectorizerConfig controls vocabulary construction.
type VectorizerConfig struct {
	MinN        int     `json:"min_n"`
	MaxN        int     `json:"max_n"`
	MaxFeatures int     `json:"max_features"`
	MinDF       int     `json:"min_df"`
	MaxDF       float64 `json:"max_df"` // fraction of documents
}

// DefaultVectorizerConfig returns unigrams+bigrams, 5000 terms, min_df=2, max_df=0.95.
func DefaultVectorizerConfig() VectorizerConfig {
	return VectorizerConfig{
		MinN:        1,
		MaxN:        2,
		MaxFeatures: 5000,
		MinDF:       2,
		MaxDF:       0.95,
	}
}

// SparseVector holds the non-zero entries of a document vector, sorted by index.
type SparseVector struct {
	Indices []int
	Values  []float64
}

// TFIDFVectorizer maps text to L2-normalised TF-IDF vectors with smoothed idf.
type TFIDFVectorizer struct {
	Config     VectorizerConfig `json:"config"`
	Vocabulary map[string]int   `json:"vocabulary"`
	IDF        []float64        `json:"idf"`
}

// NewTFIDFVectorizer creates an unfitted vectorizer.
func NewTFIDFVectorizer(cfg VectorizerConfig) *TFIDFVectorizer {
	if cfg.MaxN < cfg.MinN || cfg.MaxN == 0 {
		cfg.MaxN = cfg.MinN
	}
	return &TFIDFVectorizer{Config: cfg}
}

func (v *TFIDFVectorizer) terms(doc string) []string {
	return NGrams(Tokenize(doc), v.Config.MinN, v.Config.MaxN)
}

// Fit learns the vocabulary and idf weights from docs.
func (v *TFIDFVectorizer) Fit(docs []string) error {
	n := len(docs)
	if n == 0 {
		return ErrEmptyVocabulary
	}

	df := make(map[string]int)
	tf := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, term := range v.terms(doc) {
			tf[term]++
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				df[term]++
			}
		}
	}

	maxDocs := float64(n)
	if v.Config.MaxDF > 0 && v.Config.MaxDF < 1 {
		maxDocs = v.Config.MaxDF * float64(n)
	}

	kept := make([]string, 0, len(df))
	for term, count := range df {
		if count < v.Config.MinDF || float64(count) > maxDocs {
			continue
		}
		kept = append(kept, term)
	}
	if len(kept) == 0 {
		return ErrEmptyVocabulary
	}

	if v.Config.MaxFeatures > 0 && len(kept) > v.Config.MaxFeatures {
		sort.Slice(kept, func(i, j int) bool {
			if tf[kept[i]] != tf[kept[j]] {
				return tf[kept[i]] > tf[kept[j]]
			}
			return kept[i] < kept[j]
		})
		kept = kept[:v.Config.MaxFeatures]
	}
	sort.Strings(kept)

	v.Vocabulary = make(map[string]int, len(kept))
	v.IDF = make([]float64, len(kept))
	for i, term := range kept {
		v.Vocabulary[term] = i
		v.IDF[i] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}
	return nil
}

// Transform vectorises a single document. Unknown terms are ignored.
func (v *TFIDFVectorizer) Transform(doc string) SparseVector {
	counts := make(map[int]float64)
	for _, term := range v.terms(doc) {
		if idx, ok := v.Vocabulary[term]; ok {
			counts[idx]++
		}
	}

	vec := SparseVector{
		Indices: make([]int, 0, len(counts)),
		Values:  make([]float64, 0, len(counts)),
	}
	for idx := range counts {
		vec.Indices = append(vec.Indices, idx)
	}
	sort.Ints(vec.Indices)

	var norm float64
	for _, idx := range vec.Indices {
		w := counts[idx] * v.IDF[idx]
		vec.Values = append(vec.Values, w)
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec.Values {
			vec.Values[i] /= norm
		}
	}
	return vec
}

// TransformAll vectorises every document.
func (v *TFIDFVectorizer) TransformAll(docs []string) []SparseVector {
	out := make([]SparseVector, len(docs))
	for i, d := range docs {
		out[i] = v.Transform(d)
	}
	return out
}

// Size is the vocabulary size.
func (v *TFIDFVectorizer) Size() int {
	return len(v.IDF)
}
