package ml

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VersionMajor is the leading component of generated model versions.
const VersionMajor = 2

// Metadata describes a saved model. It is written next to the model bytes and
// read back by the serving adapter and the admin endpoints.
type Metadata struct {
	Version         string    `json:"model_version"`
	PreviousVersion string    `json:"previous_version,omitempty"`
	TrainedAt       time.Time `json:"trained_at"`
	TrainingSamples int       `json:"training_samples"`
	UniqueSamples   int       `json:"unique_samples"`
	FeatureSchema   string    `json:"feature_schema"`
	Labels          []string  `json:"labels"`
	VocabularySize  int       `json:"vocabulary_size"`
	Metrics         Metrics   `json:"metrics"`
	DurationMS      int64     `json:"duration_ms"`
	SiteID          string    `json:"site_id,omitempty"`
}

// EncodeMetadata serializes metadata as indented JSON for operators.
func EncodeMetadata(m *Metadata) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// DecodeMetadata parses a metadata blob.
func DecodeMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &m, nil
}

// NextVersion returns the version following prev ("v2.3" -> "v2.4").
// Unparseable or foreign-major versions restart at v<major>.1.
func NextVersion(prev string) string {
	prefix := fmt.Sprintf("v%d.", VersionMajor)
	if n, err := strconv.Atoi(strings.TrimPrefix(prev, prefix)); err == nil && strings.HasPrefix(prev, prefix) && n > 0 {
		return prefix + strconv.Itoa(n+1)
	}
	return prefix + "1"
}
