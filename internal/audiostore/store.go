package audiostore

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/perchlabs/voicerelay/internal/config"
)

// Store keeps synthesized responses on disk and serves them back over
// HTTP. Files are named response-<uuid>.wav so locators are unguessable
// and never collide across sessions.
type Store struct {
	dir        string
	publicPath string
	maxAge     time.Duration
	log        *slog.Logger
	now        func() time.Time
}

func Open(cfg config.AudioStoreConfig, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}
	return &Store{
		dir:        cfg.Directory,
		publicPath: strings.TrimSuffix(cfg.PublicPath, "/"),
		maxAge:     time.Duration(cfg.MaxAgeHrs) * time.Hour,
		log:        log,
		now:        time.Now,
	}, nil
}

// Put writes audio to a fresh file and returns its public locator.
func (s *Store) Put(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("audiostore: empty audio")
	}
	name := fmt.Sprintf("response-%s.wav", uuid.NewString())
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return s.publicPath + "/" + name, nil
}

// ServeHTTP serves stored audio by filename. Only flat response-*.wav
// names are accepted; anything with a path separator is rejected.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.URL.Path)
	if !validName(name) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	full := filepath.Join(s.dir, name)
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, full)
}

func validName(name string) bool {
	if !strings.HasPrefix(name, "response-") || !strings.HasSuffix(name, ".wav") {
		return false
	}
	return !strings.ContainsAny(name, "/\\") && name == filepath.Base(name)
}

// Prune removes files older than the configured retention window.
func (s *Store) Prune() error {
	if s.maxAge <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan audio directory: %w", err)
	}
	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !validName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.log.Info("pruned stale audio files", "count", removed)
	}
	return nil
}
