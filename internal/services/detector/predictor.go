package detector

import (
	"context"
	"math"
)

const (
	CategoryHam      = "ham"
	CategorySpam     = "spam"
	CategoryPhishing = "phishing"

	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"

	ModelRuleOnly = "rule_only"
	ModelHybrid   = "hybrid"

	phishingConfidence = 0.99
)

// Weights control the blend between heuristic and trained scores.
type Weights struct {
	Heuristic float64 `json:"heuristic"`
	Trained   float64 `json:"trained"`
	Threshold float64 `json:"threshold"`
}

func DefaultWeights() Weights {
	return Weights{Heuristic: 0.4, Trained: 0.6, Threshold: 0.5}
}

func (w Weights) normalized() Weights {
	d := DefaultWeights()
	if w.Heuristic < 0 || w.Trained < 0 || w.Heuristic+w.Trained == 0 {
		w.Heuristic, w.Trained = d.Heuristic, d.Trained
	}
	if sum := w.Heuristic + w.Trained; sum != 1 {
		w.Heuristic /= sum
		w.Trained /= sum
	}
	if w.Threshold <= 0 || w.Threshold >= 1 {
		w.Threshold = d.Threshold
	}
	return w
}

// Scores are the raw sub-scores behind a prediction. Trained is nil when no
// model took part.
type Scores struct {
	Heuristic float64  `json:"heuristic"`
	Trained   *float64 `json:"trained"`
	Final     float64  `json:"final"`
}

// Prediction is produced fresh for every request and never mutated.
type Prediction struct {
	Category     string        `json:"category"`
	IsSpam       bool          `json:"is_spam"`
	Confidence   float64       `json:"confidence"`
	SpamScore    float64       `json:"spam_score"`
	RiskLevel    string        `json:"risk_level"`
	Reasons      []string      `json:"reasons"`
	Flags        []string      `json:"flags"`
	ModelUsed    string        `json:"model_used"`
	ModelVersion string        `json:"model_version,omitempty"`
	Language     string        `json:"language"`
	Scores       Scores        `json:"scores"`
	Features     FeatureVector `json:"-"`
}

// Predictor blends the heuristic scorer with the trained classifier.
type Predictor struct {
	extractor  *Extractor
	scorer     *HeuristicScorer
	classifier *Classifier
	weights    Weights
}

func NewPredictor(extractor *Extractor, scorer *HeuristicScorer, classifier *Classifier, weights Weights) *Predictor {
	if extractor == nil {
		extractor = NewExtractor(nil)
	}
	if scorer == nil {
		scorer = NewHeuristicScorer()
	}
	return &Predictor{extractor: extractor, scorer: scorer, classifier: classifier, weights: weights.normalized()}
}

// Classifier returns the adapter used for trained scores (may be nil).
func (p *Predictor) Classifier() *Classifier { return p.classifier }

// Extract runs only the feature extractor.
func (p *Predictor) Extract(s Submission) FeatureVector { return p.extractor.Extract(s) }

// Weights returns the effective blend.
func (p *Predictor) Weights() Weights { return p.weights }

// Predict classifies a submission. It does not fail for well-formed input.
func (p *Predictor) Predict(ctx context.Context, s Submission) *Prediction {
	features := p.extractor.Extract(s)
	h := p.scorer.Score(features)

	pred := &Prediction{
		Flags:     h.Flags,
		ModelUsed: ModelRuleOnly,
		Language:  features.Language(),
		Features:  features,
		Scores:    Scores{Heuristic: round4(h.Score)},
	}

	final := h.Score
	if p.classifier != nil {
		if trained, version, ok := p.classifier.SpamProbability(ctx, s.Content); ok {
			final = h.Score*p.weights.Heuristic + trained*p.weights.Trained
			t := round4(trained)
			pred.Scores.Trained = &t
			pred.ModelUsed = ModelHybrid
			pred.ModelVersion = version
		}
	}
	final = clamp01(final)

	switch {
	case h.Phishing:
		pred.Category = CategoryPhishing
		pred.IsSpam = true
		pred.Confidence = phishingConfidence
		final = phishingConfidence
		pred.RiskLevel = RiskCritical
	case final > p.weights.Threshold:
		pred.Category = CategorySpam
		pred.IsSpam = true
		pred.Confidence = final
		pred.RiskLevel = riskFor(final)
	default:
		pred.Category = CategoryHam
		pred.Confidence = 1 - final
		pred.RiskLevel = RiskLow
	}

	pred.Confidence = round4(pred.Confidence)
	pred.Scores.Final = round4(final)
	pred.SpamScore = round2(final * 100)
	pred.Reasons = p.scorer.Explain(features, pred.IsSpam)
	return pred
}

func riskFor(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return RiskHigh
	case confidence >= 0.6:
		return RiskMedium
	default:
		return RiskLow
	}
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
