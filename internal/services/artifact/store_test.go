package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/spamguard/internal/ml"
)

func trainedModel(t *testing.T) *ml.Model {
	t.Helper()
	texts := []string{
		"cheap pills buy now", "buy cheap pills today", "cheap offer buy now",
		"thanks for the article", "great article thanks", "thanks great post",
	}
	labels := []string{"spam", "spam", "spam", "ham", "ham", "ham"}
	m, err := ml.Train(texts, labels, ml.DefaultTrainConfig())
	require.NoError(t, err)
	return m
}

func newStore(t *testing.T) (*FileStore, *time.Time) {
	t.Helper()
	s := NewFileStore(t.TempDir(), 5)
	clock := time.Date(2026, 10, 14, 9, 0, 0, 0, time.Local)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestLoadEmptyStore(t *testing.T) {
	s, _ := newStore(t)
	_, _, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LoadMetadata(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ActiveVersion(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	name, err := s.Backup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	model := trainedModel(t)

	require.NoError(t, s.Save(ctx, model, &ml.Metadata{Version: "v2.1", UniqueSamples: 6}))
	loaded, meta, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2.1", meta.Version)
	assert.Equal(t, 6, meta.UniqueSamples)
	assert.Equal(t, model.Predict("cheap pills"), loaded.Predict("cheap pills"))

	require.NoError(t, s.Save(ctx, model, &ml.Metadata{Version: "v2.2"}))
	meta, err = s.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2.2", meta.Version)

	// The previous version stays on disk for in-flight readers.
	assert.DirExists(t, filepath.Join(s.Dir(), versionsDir, "v2.1"))

	require.NoError(t, s.Save(ctx, model, &ml.Metadata{Version: "v2.3"}))
	assert.NoDirExists(t, filepath.Join(s.Dir(), versionsDir, "v2.1"))
}

func TestSaveRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	model := trainedModel(t)

	assert.Error(t, s.Save(ctx, model, nil))
	assert.Error(t, s.Save(ctx, model, &ml.Metadata{}))

	require.NoError(t, s.Save(ctx, model, &ml.Metadata{Version: "v2.1"}))
	assert.Error(t, s.Save(ctx, model, &ml.Metadata{Version: "v2.1"}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.Save(cancelled, model, &ml.Metadata{Version: "v2.9"}), context.Canceled)

	meta, err := s.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2.1", meta.Version)
}

func TestLoadCorruptModel(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.Save(ctx, trainedModel(t), &ml.Metadata{Version: "v2.1"}))

	path := filepath.Join(s.Dir(), versionsDir, "v2.1", modelFile)
	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0o644))

	_, _, err := s.Load(ctx)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestBackupRotation(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)
	model := trainedModel(t)
	require.NoError(t, s.Save(ctx, model, &ml.Metadata{Version: "v2.1"}))

	var names []string
	for i := 0; i < 7; i++ {
		*clock = clock.Add(time.Minute)
		name, err := s.Backup(ctx)
		require.NoError(t, err)
		names = append(names, name)
	}
	assert.Equal(t, "spam_model_20261014_090100", names[0])

	backups, err := s.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 5)
	assert.Equal(t, names[6], backups[0].Name, "newest first")
	assert.Equal(t, names[2], backups[4].Name)
	assert.Equal(t, "v2.1", backups[0].Version)
	assert.Positive(t, backups[0].Size)
	assert.True(t, clock.Equal(backups[0].CreatedAt))
}

func TestBackupSameSecondGetsSuffix(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.Save(ctx, trainedModel(t), &ml.Metadata{Version: "v2.1"}))

	a, err := s.Backup(ctx)
	require.NoError(t, err)
	b, err := s.Backup(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a+"_1", b)
}
