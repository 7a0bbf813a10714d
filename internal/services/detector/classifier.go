package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/huangang/spamguard/internal/ml"
	"github.com/huangang/spamguard/internal/services/artifact"
	"github.com/huangang/spamguard/pkg/logger"
)

// HamLabel is the negative class; every other label counts as spam-like.
const HamLabel = "ham"

// ModelLoader fetches the active model artifact.
type ModelLoader interface {
	Load(ctx context.Context) (*ml.Model, *ml.Metadata, error)
}

// LoadState tags what the adapter currently holds.
type LoadState int

const (
	StateUnloaded LoadState = iota
	StateLoaded
	StateLoadFailed
)

func (s LoadState) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateLoadFailed:
		return "load_failed"
	default:
		return "unloaded"
	}
}

// MarshalText lets the state render as a string in JSON.
func (s LoadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// loaded is an immutable snapshot; the adapter never mutates one in place.
type loaded struct {
	state    LoadState
	model    *ml.Model
	meta     *ml.Metadata
	reason   string
	loadedAt time.Time
}

// ModelInfo is the operator view of the adapter.
type ModelInfo struct {
	State    LoadState    `json:"state"`
	Version  string       `json:"version,omitempty"`
	LoadedAt *time.Time   `json:"loaded_at,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Metadata *ml.Metadata `json:"metadata,omitempty"`
}

// Classifier adapts an optional trained model. Predictions read a single
// atomically published snapshot, so a concurrent Reload is observed either
// entirely or not at all.
type Classifier struct {
	loader  ModelLoader
	current atomic.Pointer[loaded]
	group   singleflight.Group
	// reloadMu serialises Reload so every call reads the artifact after it
	// was made instead of joining a load already in flight.
	reloadMu sync.Mutex
	now      func() time.Time
}

func NewClassifier(loader ModelLoader) *Classifier {
	c := &Classifier{loader: loader, now: time.Now}
	c.current.Store(&loaded{state: StateUnloaded})
	return c
}

func (c *Classifier) snapshot(ctx context.Context) *loaded {
	snap := c.current.Load()
	if snap.state != StateUnloaded {
		return snap
	}
	// First use: concurrent callers share one load. It only replaces the
	// unloaded snapshot, never one published by a Reload meanwhile.
	c.group.Do("lazy", func() (interface{}, error) {
		if cur := c.current.Load(); cur.state == StateUnloaded {
			c.current.CompareAndSwap(cur, c.load(ctx))
		}
		return nil, nil
	})
	return c.current.Load()
}

// load never returns nil and never panics past this point.
func (c *Classifier) load(ctx context.Context) (snap *loaded) {
	defer func() {
		if r := recover(); r != nil {
			snap = &loaded{state: StateLoadFailed, reason: fmt.Sprintf("panic while loading model: %v", r)}
			logger.Warnf("[Classifier] %s", snap.reason)
		}
	}()

	if c.loader == nil {
		return &loaded{state: StateLoadFailed, reason: "no model store configured"}
	}
	model, meta, err := c.loader.Load(ctx)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			logger.Info().Msg("[Classifier] No trained model found, using heuristics only")
		} else {
			logger.Warn().Err(err).Msg("[Classifier] Failed to load trained model, using heuristics only")
		}
		return &loaded{state: StateLoadFailed, reason: err.Error()}
	}
	if meta != nil && meta.FeatureSchema != "" && meta.FeatureSchema != FeatureSchemaVersion {
		reason := fmt.Sprintf("model %s uses feature schema %s, want %s", meta.Version, meta.FeatureSchema, FeatureSchemaVersion)
		logger.Warnf("[Classifier] %s", reason)
		return &loaded{state: StateLoadFailed, reason: reason}
	}
	version := ""
	if meta != nil {
		version = meta.Version
	}
	logger.Info().Str("version", version).Int("vocabulary", model.Vectorizer.Size()).
		Strs("labels", model.Classifier.Classes).Msg("[Classifier] Trained model loaded")
	return &loaded{state: StateLoaded, model: model, meta: meta, loadedAt: c.now()}
}

// PredictProba returns per-label probabilities, or ok=false when no model is
// available.
func (c *Classifier) PredictProba(ctx context.Context, text string) (proba map[string]float64, ok bool) {
	snap := c.snapshot(ctx)
	if snap.state != StateLoaded {
		return nil, false
	}
	return snap.model.PredictProba(text), true
}

// SpamProbability sums the probability of every non-ham label. version is
// the model that produced the score, read from the same snapshot.
func (c *Classifier) SpamProbability(ctx context.Context, text string) (p float64, version string, ok bool) {
	snap := c.snapshot(ctx)
	if snap.state != StateLoaded {
		return 0, "", false
	}
	for label, v := range snap.model.PredictProba(text) {
		if label != HamLabel {
			p += v
		}
	}
	if snap.meta != nil {
		version = snap.meta.Version
	}
	return clamp01(p), version, true
}

// Available reports whether a model is loaded, loading it lazily.
func (c *Classifier) Available(ctx context.Context) bool {
	return c.snapshot(ctx).state == StateLoaded
}

// Version of the loaded model, or "" when none.
func (c *Classifier) Version() string {
	snap := c.current.Load()
	if snap.state != StateLoaded || snap.meta == nil {
		return ""
	}
	return snap.meta.Version
}

// Reload swaps in the currently active artifact. If loading fails while
// another model is being served, the old one stays active and the error is
// returned.
func (c *Classifier) Reload(ctx context.Context) error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	next := c.load(ctx)
	if next.state != StateLoaded {
		if c.current.Load().state != StateLoaded {
			c.current.Store(next)
		}
		return errors.New(next.reason)
	}
	c.current.Store(next)
	return nil
}

// Info describes the current state without forcing a load.
func (c *Classifier) Info() ModelInfo {
	snap := c.current.Load()
	info := ModelInfo{State: snap.state, Reason: snap.reason, Metadata: snap.meta}
	if snap.state == StateLoaded {
		t := snap.loadedAt
		info.LoadedAt = &t
		if snap.meta != nil {
			info.Version = snap.meta.Version
		}
	}
	return info
}
