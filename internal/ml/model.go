package ml

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ModelFormat is bumped whenever the serialized layout changes incompatibly.
const ModelFormat = 1

// DefaultAlpha is the Naive Bayes smoothing used for retraining.
const DefaultAlpha = 0.1

// Model is the vectorizer+classifier pair served by the trained adapter.
type Model struct {
	Format     int              `json:"format"`
	Vectorizer *TFIDFVectorizer `json:"vectorizer"`
	Classifier *MultinomialNB   `json:"classifier"`
}

// TrainConfig bundles the hyperparameters of a training run.
type TrainConfig struct {
	Vectorizer VectorizerConfig
	Alpha      float64
}

// DefaultTrainConfig mirrors the production retraining parameters.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{Vectorizer: DefaultVectorizerConfig(), Alpha: DefaultAlpha}
}

// Train fits a new model on already-normalised texts.
func Train(texts, labels []string, cfg TrainConfig) (*Model, error) {
	if len(texts) != len(labels) {
		return nil, fmt.Errorf("texts/labels length mismatch: %d vs %d", len(texts), len(labels))
	}
	vec := NewTFIDFVectorizer(cfg.Vectorizer)
	if err := vec.Fit(texts); err != nil {
		return nil, err
	}
	nb := NewMultinomialNB(cfg.Alpha)
	if err := nb.Fit(vec.TransformAll(texts), labels, vec.Size()); err != nil {
		return nil, err
	}
	return &Model{Format: ModelFormat, Vectorizer: vec, Classifier: nb}, nil
}

// PredictProba normalises text and returns the posterior per label.
func (m *Model) PredictProba(text string) map[string]float64 {
	proba := m.Classifier.PredictProba(m.Vectorizer.Transform(Normalize(text)))
	out := make(map[string]float64, len(proba))
	for i, label := range m.Classifier.Classes {
		out[label] = proba[i]
	}
	return out
}

// Predict returns the most probable label for text.
func (m *Model) Predict(text string) string {
	return m.Classifier.Predict(m.Vectorizer.Transform(Normalize(text)))
}

// PredictAll labels a batch of texts.
func (m *Model) PredictAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = m.Predict(t)
	}
	return out
}

// Validate checks the internal shapes of a decoded model.
func (m *Model) Validate() error {
	if m.Format != ModelFormat {
		return fmt.Errorf("unsupported model format %d (want %d)", m.Format, ModelFormat)
	}
	if m.Vectorizer == nil || m.Classifier == nil {
		return errors.New("model is missing vectorizer or classifier")
	}
	n := m.Vectorizer.Size()
	if n == 0 || len(m.Vectorizer.Vocabulary) != n {
		return errors.New("vectorizer vocabulary and idf disagree")
	}
	k := len(m.Classifier.Classes)
	if k < 2 || len(m.Classifier.ClassLogPrior) != k || len(m.Classifier.FeatureLogProb) != k {
		return errors.New("classifier class tables disagree")
	}
	for _, row := range m.Classifier.FeatureLogProb {
		if len(row) != n {
			return errors.New("classifier feature table does not match vocabulary")
		}
	}
	return nil
}

// EncodeModel serializes a model.
func EncodeModel(m *Model) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeModel deserializes and validates a model.
func DecodeModel(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
