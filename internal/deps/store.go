package deps

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
)

// bundlePatterns are the file shapes the store indexes. Bundles may be
// stored gzip-compressed to keep the distribution small.
var bundlePatterns = []string{"**/*.js", "**/*.js.gz"}

// Store indexes and loads bundle files from a local directory tree.
type Store struct {
	dir string

	mu    sync.RWMutex
	files map[string]string // base name -> absolute path
}

// NewStore scans dir for bundle files and indexes them by base name.
func NewStore(dir string) (*Store, error) {
	s := &Store{dir: dir, files: make(map[string]string)}

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range bundlePatterns {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				s.files[filepath.Base(path)] = path
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deps: scan bundle dir %s: %w", dir, err)
	}
	return s, nil
}

// Has reports whether a bundle file (plain or compressed) is indexed.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, plain := s.files[name]
	_, packed := s.files[name+".gz"]
	return plain || packed
}

// Load reads a bundle's source text, transparently decompressing .gz
// bundles and validating the content looks like script, not a stray
// binary that wandered into the bundle directory.
func (s *Store) Load(name string) (string, error) {
	s.mu.RLock()
	path, ok := s.files[name]
	if !ok {
		path, ok = s.files[name+".gz"]
	}
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("deps: bundle file %s not found in %s", name, s.dir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("deps: read bundle %s: %w", name, err)
	}

	if strings.HasSuffix(path, ".gz") {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("deps: open compressed bundle %s: %w", name, err)
		}
		defer r.Close()
		data, err = io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("deps: decompress bundle %s: %w", name, err)
		}
	}

	if err := validateScript(data); err != nil {
		return "", fmt.Errorf("deps: bundle %s: %w", name, err)
	}
	return string(data), nil
}

// validateScript rejects content whose detected type is not text.
func validateScript(data []byte) error {
	mime := mimetype.Detect(data)
	if mime.Is("text/javascript") || mime.Is("application/javascript") {
		return nil
	}
	for m := mime; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "text/") {
			return nil
		}
	}
	return fmt.Errorf("unexpected content type %s", mime.String())
}
