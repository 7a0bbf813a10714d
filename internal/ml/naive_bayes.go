package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrSingleClass is returned when training data carries fewer than two labels.
var ErrSingleClass = errors.New("training data needs at least two distinct labels")

// MultinomialNB is a multinomial Naive Bayes classifier over non-negative
// (TF-IDF) features with additive smoothing.
type MultinomialNB struct {
	Alpha          float64     `json:"alpha"`
	Classes        []string    `json:"classes"`
	ClassLogPrior  []float64   `json:"class_log_prior"`
	FeatureLogProb [][]float64 `json:"feature_log_prob"`
}

// NewMultinomialNB creates an unfitted classifier.
func NewMultinomialNB(alpha float64) *MultinomialNB {
	if alpha <= 0 {
		alpha = 1.0
	}
	return &MultinomialNB{Alpha: alpha}
}

// Fit estimates class priors and per-class feature log probabilities.
func (nb *MultinomialNB) Fit(X []SparseVector, y []string, nFeatures int) error {
	if len(X) != len(y) {
		return fmt.Errorf("features/labels length mismatch: %d vs %d", len(X), len(y))
	}
	if nFeatures <= 0 {
		return ErrEmptyVocabulary
	}

	classIndex := make(map[string]int)
	for _, label := range y {
		classIndex[label] = 0
	}
	if len(classIndex) < 2 {
		return ErrSingleClass
	}
	nb.Classes = make([]string, 0, len(classIndex))
	for label := range classIndex {
		nb.Classes = append(nb.Classes, label)
	}
	sort.Strings(nb.Classes)
	for i, label := range nb.Classes {
		classIndex[label] = i
	}

	k := len(nb.Classes)
	classCount := make([]float64, k)
	featureCount := make([][]float64, k)
	for c := range featureCount {
		featureCount[c] = make([]float64, nFeatures)
	}
	for i, vec := range X {
		c := classIndex[y[i]]
		classCount[c]++
		for j, idx := range vec.Indices {
			featureCount[c][idx] += vec.Values[j]
		}
	}

	total := float64(len(y))
	nb.ClassLogPrior = make([]float64, k)
	nb.FeatureLogProb = make([][]float64, k)
	for c := 0; c < k; c++ {
		nb.ClassLogPrior[c] = math.Log(classCount[c] / total)

		var rowSum float64
		row := make([]float64, nFeatures)
		for j, v := range featureCount[c] {
			row[j] = v + nb.Alpha
			rowSum += row[j]
		}
		logSum := math.Log(rowSum)
		for j := range row {
			row[j] = math.Log(row[j]) - logSum
		}
		nb.FeatureLogProb[c] = row
	}
	return nil
}

// PredictProba returns the posterior for each class, aligned with Classes.
func (nb *MultinomialNB) PredictProba(x SparseVector) []float64 {
	k := len(nb.Classes)
	jll := make([]float64, k)
	maxLL := math.Inf(-1)
	for c := 0; c < k; c++ {
		ll := nb.ClassLogPrior[c]
		row := nb.FeatureLogProb[c]
		for j, idx := range x.Indices {
			if idx < len(row) {
				ll += x.Values[j] * row[idx]
			}
		}
		jll[c] = ll
		if ll > maxLL {
			maxLL = ll
		}
	}

	var sum float64
	proba := make([]float64, k)
	for c, ll := range jll {
		proba[c] = math.Exp(ll - maxLL)
		sum += proba[c]
	}
	for c := range proba {
		proba[c] /= sum
	}
	return proba
}

// Predict returns the most probable class.
func (nb *MultinomialNB) Predict(x SparseVector) string {
	proba := nb.PredictProba(x)
	best := 0
	for c := range proba {
		if proba[c] > proba[best] {
			best = c
		}
	}
	return nb.Classes[best]
}
