// Package retrain turns operator feedback into new model versions and guards
// the job against overlapping or too frequent runs.
package retrain

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/huangang/spamguard/internal/ml"
	"github.com/huangang/spamguard/internal/services/artifact"
	"github.com/huangang/spamguard/internal/services/detector"
	"github.com/huangang/spamguard/pkg/logger"
)

// Stage names a step of a run.
type Stage string

const (
	StageFetch    Stage = "FETCH"
	StagePrepare  Stage = "PREPARE"
	StageTrain    Stage = "TRAIN"
	StageEvaluate Stage = "EVALUATE"
	StageBackup   Stage = "BACKUP"
	StageSave     Stage = "SAVE"
	StageMark     Stage = "MARK_FEEDBACK_PROCESSED"
	StageDone     Stage = "DONE"
)

var (
	ErrNoFeedback       = errors.New("no unprocessed feedback")
	ErrInsufficientData = errors.New("not enough usable training samples")
)

const (
	DefaultMinSamples    = 100
	DefaultMinTextLength = 10
	DefaultTestSize      = 0.2
	overfitGap           = 0.10
)

// Sample is one feedback row joined to the text it corrects.
type Sample struct {
	FeedbackID     string
	SiteID         string
	Text           string
	PredictedLabel string
	CorrectedLabel string
}

// FeedbackSource reads unprocessed feedback and marks consumed rows.
type FeedbackSource interface {
	FetchUnprocessed(ctx context.Context, siteID string) ([]Sample, error)
	MarkProcessed(ctx context.Context, feedbackIDs []string) error
}

// Options tune a single run. Zero values fall back to the defaults.
type Options struct {
	MinSamples    int
	MinTextLength int
	SiteID        string
	TestSize      float64
	Seed          uint64
	Train         ml.TrainConfig
}

func (o Options) withDefaults() Options {
	if o.MinSamples <= 0 {
		o.MinSamples = DefaultMinSamples
	}
	if o.MinTextLength <= 0 {
		o.MinTextLength = DefaultMinTextLength
	}
	if o.TestSize <= 0 || o.TestSize >= 1 {
		o.TestSize = DefaultTestSize
	}
	if o.Seed == 0 {
		o.Seed = ml.DefaultSeed
	}
	if o.Train.Vectorizer.MaxN == 0 {
		o.Train.Vectorizer = ml.DefaultVectorizerConfig()
	}
	if o.Train.Alpha <= 0 {
		o.Train.Alpha = ml.DefaultAlpha
	}
	return o
}

// Report describes a finished run, successful or not.
type Report struct {
	Success         bool        `json:"success"`
	Stage           Stage       `json:"stage"`
	SiteID          string      `json:"site_id,omitempty"`
	RawSamples      int         `json:"raw_samples"`
	DroppedSamples  int         `json:"dropped_samples"`
	UniqueSamples   int         `json:"unique_samples"`
	Labels          []string    `json:"labels,omitempty"`
	Version         string      `json:"version,omitempty"`
	PreviousVersion string      `json:"previous_version,omitempty"`
	Backup          string      `json:"backup,omitempty"`
	Metrics         *ml.Metrics `json:"metrics,omitempty"`
	OverfitWarning  bool        `json:"overfit_warning"`
	MarkedProcessed int         `json:"marked_processed"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`
	Error           string      `json:"error,omitempty"`

	err error
}

// Err is the failure cause, nil on success.
func (r *Report) Err() error { return r.err }

// ModelSaved reports whether a new version became active, even if a later
// stage failed.
func (r *Report) ModelSaved() bool {
	return r.Version != "" && (r.Success || r.Stage == StageMark)
}

func (r *Report) fail(stage Stage, err error) *Report {
	r.Stage = stage
	r.err = err
	r.Error = err.Error()
	return r
}

// Pipeline runs FETCH through MARK_FEEDBACK_PROCESSED. Any failing stage
// leaves the active artifact untouched, and feedback is only marked after the
// new artifact is durably saved.
type Pipeline struct {
	source FeedbackSource
	store  artifact.Store
	now    func() time.Time
}

func NewPipeline(source FeedbackSource, store artifact.Store) *Pipeline {
	return &Pipeline{source: source, store: store, now: time.Now}
}

// Run executes one retraining pass.
func (p *Pipeline) Run(ctx context.Context, opts Options) *Report {
	opts = opts.withDefaults()
	rep := &Report{StartedAt: p.now(), SiteID: opts.SiteID}
	defer func() {
		rep.FinishedAt = p.now()
		ev := logger.Info()
		if rep.err != nil {
			ev = logger.Error().Err(rep.err)
		}
		ev.Bool("success", rep.Success).Str("stage", string(rep.Stage)).
			Int("raw", rep.RawSamples).Int("unique", rep.UniqueSamples).
			Str("version", rep.Version).Dur("took", rep.FinishedAt.Sub(rep.StartedAt)).
			Msg("[Retrain] Run finished")
	}()

	// FETCH
	rep.Stage = StageFetch
	samples, err := p.source.FetchUnprocessed(ctx, opts.SiteID)
	if err != nil {
		return rep.fail(StageFetch, eris.Wrap(err, "fetch unprocessed feedback"))
	}
	rep.RawSamples = len(samples)
	if len(samples) == 0 {
		return rep.fail(StageFetch, ErrNoFeedback)
	}
	// Only rows in this snapshot are ever marked, whatever happens meanwhile.
	consumed := make([]string, 0, len(samples))
	for _, s := range samples {
		consumed = append(consumed, s.FeedbackID)
	}
	logger.Info().Int("samples", len(samples)).Str("site", opts.SiteID).Msg("[Retrain] Feedback fetched")

	// PREPARE
	rep.Stage = StagePrepare
	texts, labels, dropped := prepare(samples, opts.MinTextLength)
	rep.DroppedSamples = dropped
	rep.UniqueSamples = len(texts)
	rep.Labels = ml.SortedLabels(labels)
	if len(texts) < opts.MinSamples {
		return rep.fail(StagePrepare, eris.Wrapf(ErrInsufficientData,
			"%d unique samples after filtering, need %d", len(texts), opts.MinSamples))
	}
	if err := ctx.Err(); err != nil {
		return rep.fail(StagePrepare, eris.Wrap(err, "prepare"))
	}

	// TRAIN
	rep.Stage = StageTrain
	trainIdx, testIdx := ml.StratifiedSplit(labels, opts.TestSize, opts.Seed)
	trainX, trainY := ml.Select(texts, trainIdx), ml.Select(labels, trainIdx)
	testX, testY := ml.Select(texts, testIdx), ml.Select(labels, testIdx)
	trainCfg := opts.Train
	model, err := ml.Train(trainX, trainY, trainCfg)
	if err != nil {
		return rep.fail(StageTrain, eris.Wrap(err, "train classifier"))
	}
	if err := ctx.Err(); err != nil {
		return rep.fail(StageTrain, eris.Wrap(err, "train"))
	}

	// EVALUATE
	rep.Stage = StageEvaluate
	metrics, err := evaluate(ctx, model, trainX, trainY, testX, testY)
	if err != nil {
		return rep.fail(StageEvaluate, eris.Wrap(err, "evaluate"))
	}
	rep.Metrics = metrics
	if len(testX) > 0 && metrics.OverfitGap() > overfitGap {
		rep.OverfitWarning = true
		logger.Warn().Float64("train_accuracy", metrics.TrainAccuracy).Float64("test_accuracy", metrics.TestAccuracy).
			Msg("[Retrain] Possible overfitting: train/test accuracy gap above 0.10")
	}

	// BACKUP
	rep.Stage = StageBackup
	var prevVersion string
	prev, err := p.store.LoadMetadata(ctx)
	switch {
	case err == nil:
		prevVersion = prev.Version
	case errors.Is(err, artifact.ErrNotFound):
	default:
		// Damaged metadata: take the version from the active pointer.
		logger.Warn().Err(err).Msg("[Retrain] Could not read active model metadata")
		v, verr := p.store.ActiveVersion(ctx)
		if verr != nil {
			return rep.fail(StageBackup, eris.Wrap(verr, "resolve active model version"))
		}
		prevVersion = v
	}
	backup, err := p.store.Backup(ctx)
	if err != nil {
		return rep.fail(StageBackup, eris.Wrap(err, "backup active model"))
	}
	rep.Backup = backup

	// SAVE
	rep.Stage = StageSave
	meta := &ml.Metadata{
		TrainedAt:       p.now(),
		TrainingSamples: rep.RawSamples,
		UniqueSamples:   rep.UniqueSamples,
		FeatureSchema:   detector.FeatureSchemaVersion,
		Labels:          model.Classifier.Classes,
		VocabularySize:  model.Vectorizer.Size(),
		Metrics:         *metrics,
		DurationMS:      p.now().Sub(rep.StartedAt).Milliseconds(),
		SiteID:          opts.SiteID,
	}
	meta.PreviousVersion = prevVersion
	meta.Version = ml.NextVersion(prevVersion)
	if err := p.store.Save(ctx, model, meta); err != nil {
		return rep.fail(StageSave, eris.Wrap(err, "save model"))
	}
	rep.Version = meta.Version
	rep.PreviousVersion = meta.PreviousVersion

	// MARK_FEEDBACK_PROCESSED
	rep.Stage = StageMark
	if err := p.source.MarkProcessed(ctx, consumed); err != nil {
		return rep.fail(StageMark, eris.Wrap(err, "mark feedback processed"))
	}
	rep.MarkedProcessed = len(consumed)

	rep.Stage = StageDone
	rep.Success = true
	return rep
}

// prepare drops near-empty rows, deduplicates by exact text (surrounding
// whitespace aside) and normalises what is kept for training. When the same
// text was corrected more than once the latest label wins.
func prepare(samples []Sample, minLen int) (texts, labels []string, dropped int) {
	index := make(map[string]int, len(samples))
	for _, s := range samples {
		key := strings.TrimSpace(s.Text)
		text := ml.Normalize(key)
		label := strings.ToLower(strings.TrimSpace(s.CorrectedLabel))
		if label == "" || utf8.RuneCountInString(text) < minLen {
			dropped++
			continue
		}
		if i, ok := index[key]; ok {
			labels[i] = label
			continue
		}
		index[key] = len(texts)
		texts = append(texts, text)
		labels = append(labels, label)
	}
	return texts, labels, dropped
}

func evaluate(ctx context.Context, model *ml.Model, trainX, trainY, testX, testY []string) (*ml.Metrics, error) {
	var trainPred, testPred []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		trainPred = model.PredictAll(trainX)
		return gctx.Err()
	})
	g.Go(func() error {
		testPred = model.PredictAll(testX)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &ml.Metrics{
		TrainAccuracy: ml.Accuracy(trainY, trainPred),
		TestAccuracy:  ml.Accuracy(testY, testPred),
		TrainSize:     len(trainX),
		TestSize:      len(testX),
	}
	m.Precision, m.Recall, m.F1 = ml.BinaryScores(testY, testPred, detector.HamLabel)
	m.Labels = ml.SortedLabels(trainY, testY, testPred)
	m.ConfusionMatrix = ml.ConfusionMatrix(testY, testPred, m.Labels)
	return m, nil
}
