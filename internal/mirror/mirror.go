// Package mirror keeps a local JSON copy of the workspace document. It backs
// offline use and lets out-of-band edits to the file flow back in.
package mirror

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/focusspace/internal/workspace"
)

type Mirror struct {
	path   string
	logger zerolog.Logger

	mu       sync.Mutex
	lastHash string
}

func New(path string, logger zerolog.Logger) *Mirror {
	return &Mirror{
		path:   filepath.Clean(path),
		logger: logger.With().Str("mirror", path).Logger(),
	}
}

func (m *Mirror) Path() string {
	return m.path
}

// Load reads the mirror file. A missing, unreadable or malformed file yields
// the seed document.
func (m *Mirror) Load(now time.Time) workspace.Document {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn().Err(err).Msg("read mirror, using seed document")
		}
		return workspace.Seed(now)
	}
	doc, err := decode(data)
	if err != nil {
		m.logger.Warn().Err(err).Msg("malformed mirror, using seed document")
		return workspace.Seed(now)
	}
	m.mu.Lock()
	m.lastHash = hashBytes(data)
	m.mu.Unlock()
	return doc
}

func (m *Mirror) Save(doc workspace.Document) error {
	data, err := workspace.Encode(doc)
	if err != nil {
		return fmt.Errorf("encode mirror: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := writeFileAtomic(m.path, data, 0o644); err != nil {
		return err
	}
	m.lastHash = hashBytes(data)
	return nil
}

// Watcher delivers out-of-band edits of a mirror file.
type Watcher struct {
	mirror   *Mirror
	fs       *fsnotify.Watcher
	onChange func(workspace.Patch)
	done     chan struct{}
}

// Watch calls onChange with a full replacement patch whenever the file is
// changed by someone other than this Mirror. Content that fails to parse is
// logged and skipped.
func (m *Mirror) Watch(onChange func(workspace.Patch)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Atomic saves replace the file, so watch the directory rather than the inode.
	if err := fs.Add(filepath.Dir(m.path)); err != nil {
		_ = fs.Close()
		return nil, err
	}
	w := &Watcher{mirror: m, fs: fs, onChange: onChange, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	m := w.mirror
	for {
		select {
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			m.logger.Warn().Err(err).Msg("mirror watcher error")
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if patch, ok := m.reload(); ok {
				w.onChange(patch)
			}
		}
	}
}

func (m *Mirror) reload() (workspace.Patch, bool) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn().Err(err).Msg("re-read mirror")
		}
		return workspace.Patch{}, false
	}
	hash := hashBytes(data)
	m.mu.Lock()
	if hash == m.lastHash {
		m.mu.Unlock()
		return workspace.Patch{}, false
	}
	m.mu.Unlock()

	doc, err := decode(data)
	if err != nil {
		m.logger.Warn().Err(err).Msg("ignoring malformed mirror edit")
		return workspace.Patch{}, false
	}
	m.mu.Lock()
	m.lastHash = hash
	m.mu.Unlock()
	m.logger.Info().Msg("mirror changed on disk")
	return workspace.ReplaceAll(doc), true
}

func decode(data []byte) (workspace.Document, error) {
	if err := workspace.ValidateDocumentJSON(data); err != nil {
		return workspace.Document{}, err
	}
	return workspace.Decode(data)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
