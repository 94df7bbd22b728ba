package benchmark

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultCategory is the name of the fallback table.
const DefaultCategory = "default"

// Set is a validated collection of category tables with a fallback.
type Set struct {
	tables   map[string]Table
	fallback Table
}

// NewSet validates every table and indexes them by normalized category.
func NewSet(fallback Table, tables ...Table) (*Set, error) {
	if fallback.Category == "" {
		fallback.Category = DefaultCategory
	}
	if err := fallback.Validate(); err != nil {
		return nil, eris.Wrap(err, "benchmark: default table")
	}
	s := &Set{tables: make(map[string]Table, len(tables)), fallback: fallback}
	for _, t := range tables {
		if strings.TrimSpace(t.Category) == "" {
			return nil, eris.New("benchmark: table without category")
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		key := categoryKey(t.Category)
		if _, dup := s.tables[key]; dup {
			return nil, eris.Errorf("benchmark: duplicate table for category %q", t.Category)
		}
		s.tables[key] = t
	}
	return s, nil
}

// Lookup returns the table for category. When the category is unknown it
// returns the default table and false.
func (s *Set) Lookup(category string) (Table, bool) {
	if t, ok := s.tables[categoryKey(category)]; ok {
		return t, true
	}
	return s.fallback, false
}

// Default returns the fallback table.
func (s *Set) Default() Table { return s.fallback }

// Categories lists the configured category names, sorted.
func (s *Set) Categories() []string {
	out := make([]string, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t.Category)
	}
	sort.Strings(out)
	return out
}

// categoryKey folds AMFI-style names ("Equity Scheme", "Debt Schemes") onto
// the plain category.
func categoryKey(category string) string {
	k := normalize(category)
	k = strings.TrimSuffix(k, " schemes")
	k = strings.TrimSuffix(k, " scheme")
	return k
}

type fileFormat struct {
	Default    *Table  `yaml:"default"`
	Categories []Table `yaml:"categories"`
}

// Parse decodes a YAML benchmark file. A file without a default section
// uses the built-in default table.
func Parse(data []byte) (*Set, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "benchmark: parse yaml")
	}
	if len(f.Categories) == 0 {
		return nil, eris.New("benchmark: file defines no categories")
	}
	fallback := DefaultTable()
	if f.Default != nil {
		fallback = *f.Default
	}
	return NewSet(fallback, f.Categories...)
}

// LoadFile reads and validates a YAML benchmark file.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "benchmark: read %s", path)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "benchmark: load %s", path)
	}
	return s, nil
}

// Load returns the built-in set when path is empty, else the file's set.
func Load(path string) (*Set, error) {
	if path == "" {
		return Defaults(), nil
	}
	return LoadFile(path)
}
