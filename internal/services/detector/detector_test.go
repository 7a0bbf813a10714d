package detector

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/spamguard/internal/ml"
	"github.com/huangang/spamguard/internal/services/artifact"
)

// Wednesday afternoon, not a public holiday in the default calendar.
var afternoon = time.Date(2026, 10, 14, 14, 0, 0, 0, time.UTC)

func newTestExtractor() *Extractor {
	return NewExtractor(NewHolidayCalendar()).WithClock(func() time.Time { return afternoon })
}

// fakeLoader serves whatever model/metadata/error it was given.
type fakeLoader struct {
	mu    sync.Mutex
	model *ml.Model
	meta  *ml.Metadata
	err   error
	calls atomic.Int32
}

func (f *fakeLoader) Load(ctx context.Context) (*ml.Model, *ml.Metadata, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.model, f.meta, nil
}

func (f *fakeLoader) set(model *ml.Model, meta *ml.Metadata, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model, f.meta, f.err = model, meta, err
}

// fixedModel predicts spam with probability p for any text.
func fixedModel(p float64) *ml.Model {
	return &ml.Model{
		Format: ml.ModelFormat,
		Vectorizer: &ml.TFIDFVectorizer{
			Config:     ml.DefaultVectorizerConfig(),
			Vocabulary: map[string]int{"hello": 0},
			IDF:        []float64{1},
		},
		Classifier: &ml.MultinomialNB{
			Alpha:          0.1,
			Classes:        []string{"ham", "spam"},
			ClassLogPrior:  []float64{math.Log(1 - p), math.Log(p)},
			FeatureLogProb: [][]float64{{0}, {0}},
		},
	}
}

func meta(version string) *ml.Metadata {
	return &ml.Metadata{Version: version, FeatureSchema: FeatureSchemaVersion}
}

const (
	spamText = "FREE VIAGRA!!! http://pharmacy.ru http://pharmacy2.tk"
	hamText  = "Thanks, this really helped me understand the configuration step."
)

func TestExtractDeclaresEverySchemaFeature(t *testing.T) {
	ex := newTestExtractor()
	submissions := []Submission{
		{},
		{Content: spamText},
		{Content: hamText, Author: "Ana", AuthorEmail: "ana@example.com", AuthorIP: "10.0.0.1", UserAgent: "Mozilla/5.0"},
		{Content: "<script>alert(1)</script> $$$ win win win €€€", AuthorEmail: "broken", AuthorURL: "http://%zz"},
		{Content: strings.Repeat("http://a.b.c.d.e.tk ", 20), Author: "BOT99", UserAgent: "Googlebot/2.1"},
	}
	ratios := []string{"uppercase_ratio", "digit_ratio", "special_char_ratio", "url_to_text_ratio", "spam_keyword_density", "word_repetition_ratio"}

	for _, s := range submissions {
		f := ex.Extract(s)
		m := f.Map()
		require.Len(t, m, len(FeatureNames()))
		for _, name := range FeatureNames() {
			_, ok := m[name]
			assert.True(t, ok, "missing %s", name)
			assert.GreaterOrEqual(t, m[name], 0.0, name)
		}
		for _, name := range ratios {
			assert.LessOrEqual(t, f.Get(name), 1.0, name)
		}
	}
}

func TestExtractSignals(t *testing.T) {
	ex := newTestExtractor()

	f := ex.Extract(Submission{Content: spamText})
	assert.Equal(t, 2, f.Int("url_count"))
	assert.Equal(t, 2, f.Int("suspicious_link_count"))
	assert.Equal(t, 2, f.Int("unique_domains"))
	assert.True(t, f.Bool("has_suspicious_tld"))
	assert.InDelta(t, 1.0, f.Get("uppercase_ratio"), 1e-9)
	assert.Equal(t, 1, f.Int("multiple_exclamation"))
	assert.Equal(t, 2, f.Int("all_caps_words"))
	assert.Greater(t, f.Int("money_word_count"), 0)

	f = ex.Extract(Submission{
		Content:     "check https://bit.ly/x and https://paypal-secure.com/login",
		AuthorEmail: "x1@mailinator.com",
		UserAgent:   "python scraper",
		Referer:     "https://example.com",
	})
	assert.Equal(t, 1, f.Int("shortened_url_count"))
	assert.True(t, f.Bool("has_phishing_url"))
	assert.True(t, f.Bool("email_domain_suspicious"))
	assert.True(t, f.Bool("email_has_numbers"))
	assert.True(t, f.Bool("is_bot"))
	assert.True(t, f.Bool("has_referer"))

	// "est.com" must not count as the t.co shortener.
	f = ex.Extract(Submission{Content: "see https://best.com/page"})
	assert.Equal(t, 0, f.Int("shortened_url_count"))
	assert.Equal(t, 0, f.Int("suspicious_link_count"))
}

func TestExtractTemporalFeatures(t *testing.T) {
	ex := newTestExtractor()

	f := ex.Extract(Submission{Content: "hi"})
	assert.Equal(t, 14, f.Int("hour_of_day"))
	assert.False(t, f.Bool("is_night_time"))
	assert.False(t, f.Bool("is_weekend"))

	saturdayNight := time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)
	f = ex.Extract(Submission{Content: "hi", CreatedAt: saturdayNight})
	assert.Equal(t, 3, f.Int("hour_of_day"))
	assert.True(t, f.Bool("is_night_time"))
	assert.True(t, f.Bool("is_weekend"))
	assert.True(t, f.Bool("is_holiday"))
}

func TestExtractLanguage(t *testing.T) {
	ex := newTestExtractor()
	assert.Equal(t, "en", ex.Extract(Submission{Content: hamText}).Language())
	assert.Equal(t, "es", ex.Extract(Submission{Content: "El gato de los vecinos"}).Language())
	assert.Equal(t, "unknown", ex.Extract(Submission{Content: "qwerty asdf"}).Language())
}

func TestExtractIsDeterministic(t *testing.T) {
	ex := newTestExtractor()
	s := Submission{Content: spamText, Author: "x", AuthorEmail: "a@b.com"}
	a, err := ex.Extract(s).MarshalJSON()
	require.NoError(t, err)
	b, err := ex.Extract(s).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.True(t, strings.HasPrefix(string(a), `{"text_length":53,`))
}

func TestHeuristicScoreBounds(t *testing.T) {
	ex := newTestExtractor()
	scorer := NewHeuristicScorer()
	inputs := []string{
		"",
		hamText,
		spamText,
		strings.Repeat("BUY NOW CHEAP VIAGRA CASINO LOTTERY WINNER $$$ !!! http://x.tk ", 10) + "<script>",
	}
	for _, in := range inputs {
		res := scorer.Score(ex.Extract(Submission{Content: in, UserAgent: "bot"}))
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
		assert.NotEmpty(t, res.Reasons)
	}
}

func TestHeuristicRules(t *testing.T) {
	ex := newTestExtractor()
	scorer := NewHeuristicScorer()

	tests := []struct {
		name    string
		sub     Submission
		wantMin float64
		flag    string
	}{
		{"html", Submission{Content: "hello <b>there</b> friend"}, 0.15, "html"},
		{"script", Submission{Content: "<script>x</script>"}, 0.35, "script_tag"},
		{"bot", Submission{Content: "hello", UserAgent: "EvilCrawler"}, 0.30, "bot_user_agent"},
		{"urgency", Submission{Content: "this is urgent please hurry"}, 0.25, "urgency_words"},
		{"links", Submission{Content: "http://a.com http://b.com http://c.com http://d.com"}, 0.30, "excessive_links"},
		{"disposable", Submission{Content: "hi", AuthorEmail: "joe@tempmail.com"}, 0.20, "disposable_email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := scorer.Score(ex.Extract(tt.sub))
			assert.GreaterOrEqual(t, res.Score, tt.wantMin-1e-9)
			assert.Contains(t, res.Flags, tt.flag)
		})
	}
}

func TestPredictSpamScenarioWithoutModel(t *testing.T) {
	p := NewPredictor(newTestExtractor(), nil, nil, DefaultWeights())
	pred := p.Predict(context.Background(), Submission{Content: spamText})

	assert.Equal(t, CategorySpam, pred.Category)
	assert.True(t, pred.IsSpam)
	assert.Contains(t, []string{RiskHigh, RiskCritical}, pred.RiskLevel)
	assert.Equal(t, ModelRuleOnly, pred.ModelUsed)
	assert.Nil(t, pred.Scores.Trained)
	assert.Contains(t, pred.Reasons, "Contains 2 links")
	for _, flag := range []string{"excessive_caps", "money_words", "suspicious_links"} {
		assert.Contains(t, pred.Flags, flag)
	}
	assert.InDelta(t, pred.Scores.Final*100, pred.SpamScore, 0.01)
}

func TestPredictHamScenario(t *testing.T) {
	p := NewPredictor(newTestExtractor(), nil, nil, DefaultWeights())
	pred := p.Predict(context.Background(), Submission{Content: hamText})

	assert.Equal(t, CategoryHam, pred.Category)
	assert.Equal(t, RiskLow, pred.RiskLevel)
	assert.False(t, pred.IsSpam)
	assert.Contains(t, pred.Reasons, "No typical spam keywords")
	assert.Contains(t, pred.Reasons, "No promotional links")
	assert.InDelta(t, 1-pred.Scores.Final, pred.Confidence, 1e-4)
}

func TestPredictPhishingOverride(t *testing.T) {
	loader := &fakeLoader{model: fixedModel(0.01), meta: meta("v2.1")}
	p := NewPredictor(newTestExtractor(), nil, NewClassifier(loader), DefaultWeights())

	pred := p.Predict(context.Background(), Submission{Content: "Thanks! Please log in at http://paypal-verify.example.com"})
	assert.Equal(t, CategoryPhishing, pred.Category)
	assert.Equal(t, RiskCritical, pred.RiskLevel)
	assert.InDelta(t, 0.99, pred.Confidence, 1e-9)
	assert.Equal(t, FlagPhishingURL, pred.Flags[0])
}

func TestPredictWithoutModelEqualsHeuristic(t *testing.T) {
	ex := newTestExtractor()
	scorer := NewHeuristicScorer()
	unavailable := NewClassifier(&fakeLoader{err: artifact.ErrNotFound})
	p := NewPredictor(ex, scorer, unavailable, DefaultWeights())

	for _, text := range []string{spamText, hamText, "limited offer today only"} {
		pred := p.Predict(context.Background(), Submission{Content: text})
		h := scorer.Score(ex.Extract(Submission{Content: text}))
		assert.Equal(t, ModelRuleOnly, pred.ModelUsed)
		assert.InDelta(t, h.Score, pred.Scores.Final, 1e-4)
	}
}

func TestPredictBlendIsMonotonicInTrainedScore(t *testing.T) {
	ctx := context.Background()
	sub := Submission{Content: "hello world"}

	var finals []float64
	for _, prob := range []float64{0.1, 0.5, 0.8, 0.9} {
		c := NewClassifier(&fakeLoader{model: fixedModel(prob), meta: meta("v2.1")})
		pred := NewPredictor(newTestExtractor(), nil, c, DefaultWeights()).Predict(ctx, sub)
		require.Equal(t, ModelHybrid, pred.ModelUsed)
		require.NotNil(t, pred.Scores.Trained)
		assert.InDelta(t, prob, *pred.Scores.Trained, 1e-4)
		assert.InDelta(t, 0.4*pred.Scores.Heuristic+0.6*prob, pred.Scores.Final, 1e-3)
		assert.Equal(t, "v2.1", pred.ModelVersion)
		finals = append(finals, pred.Scores.Final)
	}
	for i := 1; i < len(finals); i++ {
		assert.Greater(t, finals[i], finals[i-1])
	}

	// 0.6*0.8 stays below the threshold, 0.6*0.9 crosses it.
	c := NewClassifier(&fakeLoader{model: fixedModel(0.8), meta: meta("v2.1")})
	assert.Equal(t, CategoryHam, NewPredictor(newTestExtractor(), nil, c, DefaultWeights()).Predict(ctx, sub).Category)
	c = NewClassifier(&fakeLoader{model: fixedModel(0.9), meta: meta("v2.1")})
	assert.Equal(t, CategorySpam, NewPredictor(newTestExtractor(), nil, c, DefaultWeights()).Predict(ctx, sub).Category)
}

func TestClassifierLazyLoadOnce(t *testing.T) {
	loader := &fakeLoader{model: fixedModel(0.7), meta: meta("v2.3")}
	c := NewClassifier(loader)
	assert.Equal(t, StateUnloaded, c.Info().State)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := c.PredictProba(context.Background(), "hello")
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loader.calls.Load())
	info := c.Info()
	assert.Equal(t, StateLoaded, info.State)
	assert.Equal(t, "v2.3", info.Version)
	assert.NotNil(t, info.LoadedAt)
}

func TestClassifierDegradesOnLoadFailure(t *testing.T) {
	tests := []struct {
		name   string
		loader *fakeLoader
	}{
		{"missing", &fakeLoader{err: artifact.ErrNotFound}},
		{"corrupt", &fakeLoader{err: errors.New("decode model: unexpected EOF")}},
		{"schema", &fakeLoader{model: fixedModel(0.5), meta: &ml.Metadata{Version: "v1.9", FeatureSchema: "v1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(tt.loader)
			_, ok := c.PredictProba(context.Background(), "hello")
			assert.False(t, ok)
			assert.Equal(t, StateLoadFailed, c.Info().State)
			assert.NotEmpty(t, c.Info().Reason)

			// Failed state is sticky until an explicit reload.
			c.Available(context.Background())
			assert.Equal(t, int32(1), tt.loader.calls.Load())
		})
	}

	c := NewClassifier(nil)
	assert.False(t, c.Available(context.Background()))
}

func TestClassifierReload(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{err: artifact.ErrNotFound}
	c := NewClassifier(loader)
	require.False(t, c.Available(ctx))

	loader.set(fixedModel(0.2), meta("v2.1"), nil)
	require.NoError(t, c.Reload(ctx))
	assert.Equal(t, "v2.1", c.Version())

	loader.set(nil, nil, errors.New("disk on fire"))
	assert.Error(t, c.Reload(ctx))
	assert.Equal(t, "v2.1", c.Version(), "old model keeps serving")

	loader.set(fixedModel(0.9), meta("v2.2"), nil)
	require.NoError(t, c.Reload(ctx))
	assert.Equal(t, "v2.2", c.Version())
	p, version, ok := c.SpamProbability(ctx, "hello")
	require.True(t, ok)
	assert.InDelta(t, 0.9, p, 1e-9)
	assert.Equal(t, "v2.2", version)
}

// gatedLoader blocks its first Load until release is closed.
type gatedLoader struct {
	*fakeLoader
	started atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLoader) Load(ctx context.Context) (*ml.Model, *ml.Metadata, error) {
	first := g.started.CompareAndSwap(false, true)
	model, m, err := g.fakeLoader.Load(ctx)
	if first {
		close(g.entered)
		<-g.release
	}
	return model, m, err
}

func TestClassifierReloadWhileLazyLoadInFlight(t *testing.T) {
	ctx := context.Background()
	loader := &gatedLoader{
		fakeLoader: &fakeLoader{model: fixedModel(0.2), meta: meta("v2.1")},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	c := NewClassifier(loader)

	lazy := make(chan bool)
	go func() { lazy <- c.Available(ctx) }()
	<-loader.entered

	// A new artifact is activated while the first load still holds v2.1.
	loader.set(fixedModel(0.8), meta("v2.2"), nil)
	require.NoError(t, c.Reload(ctx))
	assert.Equal(t, "v2.2", c.Version())

	close(loader.release)
	assert.True(t, <-lazy)
	assert.Equal(t, "v2.2", c.Version(), "stale lazy load must not replace the reloaded model")

	p, version, ok := c.SpamProbability(ctx, "hello")
	require.True(t, ok)
	assert.InDelta(t, 0.8, p, 1e-9)
	assert.Equal(t, "v2.2", version)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestClassifierReloadDuringPredictions(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{model: fixedModel(0.2), meta: meta("v2.1")}
	c := NewClassifier(loader)
	require.True(t, c.Available(ctx))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				p, version, ok := c.SpamProbability(ctx, "hello")
				if !ok {
					t.Error("model became unavailable during reload")
					return
				}
				if math.Abs(p-0.2) > 1e-9 && math.Abs(p-0.8) > 1e-9 {
					t.Errorf("observed a mixed model: %f", p)
					return
				}
				// Score and version come from the same snapshot.
				if (version == "v2.1") != (math.Abs(p-0.2) <= 1e-9) {
					t.Errorf("score %f stamped with version %s", p, version)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			loader.set(fixedModel(0.8), meta("v2.2"), nil)
		} else {
			loader.set(fixedModel(0.2), meta("v2.1"), nil)
		}
		require.NoError(t, c.Reload(ctx))
	}
	close(stop)
	wg.Wait()
}

func TestHolidayCalendar(t *testing.T) {
	h := NewHolidayCalendar()
	saturday := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	wednesday := afternoon

	assert.True(t, h.IsHoliday(saturday, CountryNone))
	assert.False(t, h.IsHoliday(wednesday, CountryNone))
	assert.False(t, h.IsHoliday(wednesday, ""))
	assert.True(t, h.IsHoliday(time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC), "us"))
	assert.True(t, h.IsHoliday(time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC), "CN"))
	assert.True(t, h.IsHoliday(saturday, "XX"))

	assert.True(t, IsSupportedCountry("de"))
	assert.False(t, IsSupportedCountry("XX"))
	assert.NotEmpty(t, SupportedCountries())
}
