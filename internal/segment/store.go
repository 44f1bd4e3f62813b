package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
)

// ErrNoGeneration is returned by Latest when the directory holds no
// generation files.
var ErrNoGeneration = errors.New("no persisted generation")

// Store keeps generation files in one directory and prunes old ones.
type Store struct {
	dir    string
	keep   int
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir that retains the newest keep
// files. keep <= 0 retains two.
func NewStore(dir string, keep int) *Store {
	if keep <= 0 {
		keep = 2
	}
	return &Store{
		dir:    dir,
		keep:   keep,
		logger: slog.Default().With("component", "generation-store", "dir", dir),
	}
}

func (s *Store) Dir() string { return s.dir }

// Save writes g and removes files beyond the retention count.
func (s *Store) Save(g *index.Generation) error {
	path, err := Write(s.dir, g)
	if err != nil {
		return err
	}
	s.logger.Info("generation persisted", "generation", g.ID(), "path", path)
	s.prune()
	return nil
}

// Latest loads the newest readable generation file.
func (s *Store) Latest() (*index.Generation, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := len(files) - 1; i >= 0; i-- {
		g, err := Read(files[i])
		if err != nil {
			s.logger.Warn("skipping unreadable generation file", "path", files[i], "error", err)
			continue
		}
		return g, nil
	}
	return nil, ErrNoGeneration
}

// List returns generation file paths, oldest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing generation directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExt) {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) prune() {
	files, err := s.List()
	if err != nil {
		s.logger.Warn("listing generations for pruning failed", "error", err)
		return
	}
	for len(files) > s.keep {
		if err := os.Remove(files[0]); err != nil {
			s.logger.Warn("removing old generation failed", "path", files[0], "error", err)
		}
		files = files[1:]
	}
}
