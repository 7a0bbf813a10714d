// Package artifact persists trained models and their metadata.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/huangang/spamguard/internal/ml"
)

// ErrNotFound means no model has been saved yet.
var ErrNotFound = errors.New("model artifact not found")

const (
	modelFile    = "model.json"
	metadataFile = "metadata.json"
	currentFile  = "CURRENT"
	versionsDir  = "versions"
	backupsDir   = "backups"
	backupPrefix = "spam_model_"
	backupLayout = "20060102_150405"

	// DefaultKeepBackups bounds the backup directory.
	DefaultKeepBackups = 5
)

// Store is the get/put/list-backups surface used by the classifier adapter
// and the retraining pipeline.
type Store interface {
	Load(ctx context.Context) (*ml.Model, *ml.Metadata, error)
	LoadMetadata(ctx context.Context) (*ml.Metadata, error)
	ActiveVersion(ctx context.Context) (string, error)
	Save(ctx context.Context, model *ml.Model, meta *ml.Metadata) error
	Backup(ctx context.Context) (string, error)
	ListBackups(ctx context.Context) ([]Backup, error)
}

// Backup describes one archived model.
type Backup struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// FileStore keeps every version in its own directory and publishes the active
// one through a CURRENT pointer that is replaced with a rename, so a reader
// sees either the old model and metadata or the new pair.
type FileStore struct {
	dir  string
	keep int
	now  func() time.Time
	mu   sync.Mutex
}

func NewFileStore(dir string, keepBackups int) *FileStore {
	if keepBackups <= 0 {
		keepBackups = DefaultKeepBackups
	}
	return &FileStore{dir: dir, keep: keepBackups, now: time.Now}
}

// Dir is the root directory of the store.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(string(data))
	if version == "" {
		return "", ErrNotFound
	}
	return version, nil
}

func (s *FileStore) versionDir(version string) string {
	return filepath.Join(s.dir, versionsDir, version)
}

// Load returns the active model and its metadata.
func (s *FileStore) Load(ctx context.Context) (*ml.Model, *ml.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	version, err := s.current()
	if err != nil {
		return nil, nil, err
	}
	dir := s.versionDir(version)

	raw, err := os.ReadFile(filepath.Join(dir, modelFile))
	if err != nil {
		return nil, nil, fmt.Errorf("read model %s: %w", version, err)
	}
	model, err := ml.DecodeModel(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("model %s: %w", version, err)
	}
	meta, err := readMetadata(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("model %s: %w", version, err)
	}
	return model, meta, nil
}

// LoadMetadata reads only the metadata of the active model.
func (s *FileStore) LoadMetadata(ctx context.Context) (*ml.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	version, err := s.current()
	if err != nil {
		return nil, err
	}
	return readMetadata(s.versionDir(version))
}

// ActiveVersion reads only the CURRENT pointer, so it answers even when the
// active version's files are damaged.
func (s *FileStore) ActiveVersion(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.current()
}

func readMetadata(dir string) (*ml.Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return ml.DecodeMetadata(raw)
}

// Save writes a new version and makes it active. The previous active version
// is kept on disk so readers that resolved it before the swap can finish.
func (s *FileStore) Save(ctx context.Context, model *ml.Model, meta *ml.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if meta == nil || meta.Version == "" {
		return errors.New("metadata must carry a version")
	}
	modelBytes, err := ml.EncodeModel(model)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	metaBytes, err := ml.EncodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, _ := s.current()
	if meta.Version == previous {
		return fmt.Errorf("version %s is already active", meta.Version)
	}
	root := filepath.Join(s.dir, versionsDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(root, ".tmp-"+meta.Version+"-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := writeFileSync(filepath.Join(tmp, modelFile), modelBytes); err != nil {
		return err
	}
	if err := writeFileSync(filepath.Join(tmp, metadataFile), metaBytes); err != nil {
		return err
	}

	final := s.versionDir(meta.Version)
	if err := os.RemoveAll(final); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish version dir: %w", err)
	}
	if err := s.swapCurrent(meta.Version); err != nil {
		return err
	}
	s.pruneVersions(meta.Version, previous)
	return nil
}

func (s *FileStore) swapCurrent(version string) error {
	tmp, err := os.CreateTemp(s.dir, ".current-")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.WriteString(version + "\n"); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, filepath.Join(s.dir, currentFile)); err != nil {
		os.Remove(name)
		return fmt.Errorf("swap current pointer: %w", err)
	}
	return nil
}

func (s *FileStore) pruneVersions(keep ...string) {
	entries, err := os.ReadDir(filepath.Join(s.dir, versionsDir))
	if err != nil {
		return
	}
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	for _, e := range entries {
		if !e.IsDir() || keepSet[e.Name()] || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		os.RemoveAll(filepath.Join(s.dir, versionsDir, e.Name()))
	}
}

// Backup copies the active version into backups/spam_model_<timestamp> and
// prunes old backups. It returns "" when there is nothing to back up.
func (s *FileStore) Backup(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.current()
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	root := filepath.Join(s.dir, backupsDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	name := backupPrefix + s.now().Format(backupLayout)
	dst := filepath.Join(root, name)
	for i := 1; exists(dst); i++ {
		name = fmt.Sprintf("%s%s_%d", backupPrefix, s.now().Format(backupLayout), i)
		dst = filepath.Join(root, name)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	src := s.versionDir(version)
	for _, f := range []string{modelFile, metadataFile} {
		if err := copyFile(filepath.Join(src, f), filepath.Join(dst, f)); err != nil {
			os.RemoveAll(dst)
			return "", fmt.Errorf("backup %s: %w", f, err)
		}
	}
	s.pruneBackups()
	return name, nil
}

func (s *FileStore) backupNames() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, backupsDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) {
			names = append(names, e.Name())
		}
	}
	// Timestamps sort lexically; newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (s *FileStore) pruneBackups() {
	names, err := s.backupNames()
	if err != nil || len(names) <= s.keep {
		return
	}
	for _, n := range names[s.keep:] {
		os.RemoveAll(filepath.Join(s.dir, backupsDir, n))
	}
}

// ListBackups returns the retained backups, newest first.
func (s *FileStore) ListBackups(ctx context.Context) ([]Backup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := s.backupNames()
	if err != nil {
		return nil, err
	}
	out := make([]Backup, 0, len(names))
	for _, n := range names {
		dir := filepath.Join(s.dir, backupsDir, n)
		b := Backup{Name: n}
		if stamp := strings.TrimPrefix(n, backupPrefix); len(stamp) >= len(backupLayout) {
			if t, err := time.ParseInLocation(backupLayout, stamp[:len(backupLayout)], time.Local); err == nil {
				b.CreatedAt = t
			}
		}
		if meta, err := readMetadata(dir); err == nil {
			b.Version = meta.Version
		}
		if fi, err := os.Stat(filepath.Join(dir, modelFile)); err == nil {
			b.Size = fi.Size()
		}
		out = append(out, b)
	}
	return out, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
