// Package resume loads extracted resume text from a local directory.
//
// Text extraction itself (PDF/DOCX parsing) happens outside this process;
// the store only reads the already-extracted .txt/.md files. The filename
// stem is the resume id; the first markdown heading, when present, becomes
// the human-readable label.
package resume

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resume is one stored resume: extracted text plus its label.
type Resume struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Text  string `json:"-"`
}

// Store reads resumes from a directory on demand. Reads are not cached so
// edited files take effect on the next evaluation.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory may be empty or
// absent; both mean "no resumes".
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// List returns all available resumes without their text, sorted by id.
func (s *Store) List() ([]Resume, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	out := make([]Resume, 0, len(ids))
	for _, id := range ids {
		r, err := s.load(id)
		if err != nil {
			return nil, err
		}
		r.Text = ""
		out = append(out, r)
	}
	return out, nil
}

// Get returns the resumes for the given ids, with text, in selection order.
// Unknown ids are an error: a stale selection should fail loudly rather
// than silently score against fewer resumes than the caller intended.
func (s *Store) Get(ids []string) ([]Resume, error) {
	out := make([]Resume, 0, len(ids))
	for _, id := range ids {
		r, err := s.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) ids() ([]string, error) {
	if s.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading resume dir %s: %w", s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) load(id string) (Resume, error) {
	for _, ext := range []string{".md", ".txt"} {
		path := filepath.Join(s.dir, id+ext)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return Resume{}, fmt.Errorf("reading resume %s: %w", path, err)
		}
		text := string(data)
		return Resume{ID: id, Label: labelFor(id, text), Text: text}, nil
	}
	return Resume{}, fmt.Errorf("resume %q not found in %s", id, s.dir)
}

// labelFor derives a display label: the first markdown heading if the file
// starts with one, else the filename stem.
func labelFor(id, text string) string {
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "#"); ok {
			rest = strings.TrimLeft(rest, "# ")
			if rest != "" {
				return rest
			}
		}
		break
	}
	return id
}
