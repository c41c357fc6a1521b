// Package terminology serves the SNOMED CT concepts used for clinical coding.
package terminology

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed snomed.yaml
var snomedYAML []byte

const defaultLimit = 10

type Concept struct {
	Code    string `yaml:"code" json:"code"`
	Display string `yaml:"display" json:"display"`
}

// Table is an immutable, display-ordered set of concepts.
type Table struct {
	concepts []Concept
	byCode   map[string]Concept
}

// Load parses a YAML document with a top-level concepts list.
func Load(raw []byte) (*Table, error) {
	var doc struct {
		Concepts []Concept `yaml:"concepts"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("terminology: parse: %w", err)
	}
	t := &Table{byCode: make(map[string]Concept, len(doc.Concepts))}
	for _, c := range doc.Concepts {
		c.Code = strings.TrimSpace(c.Code)
		c.Display = strings.TrimSpace(c.Display)
		if c.Code == "" || c.Display == "" {
			return nil, fmt.Errorf("terminology: concept %q is incomplete", c.Code)
		}
		if _, dup := t.byCode[c.Code]; dup {
			return nil, fmt.Errorf("terminology: duplicate code %s", c.Code)
		}
		t.byCode[c.Code] = c
		t.concepts = append(t.concepts, c)
	}
	sort.Slice(t.concepts, func(i, j int) bool { return t.concepts[i].Display < t.concepts[j].Display })
	return t, nil
}

// Default returns the embedded SNOMED table.
func Default() *Table {
	t, err := Load(snomedYAML)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup reports whether code is a known concept.
func (t *Table) Lookup(code string) (Concept, bool) {
	c, ok := t.byCode[strings.TrimSpace(code)]
	return c, ok
}

// Search matches a code prefix or a case-insensitive display substring.
func (t *Table) Search(q string, limit int) []Concept {
	if limit <= 0 {
		limit = defaultLimit
	}
	q = strings.ToLower(strings.TrimSpace(q))
	out := make([]Concept, 0, limit)
	for _, c := range t.concepts {
		if len(out) == limit {
			break
		}
		if q == "" || strings.HasPrefix(c.Code, q) || strings.Contains(strings.ToLower(c.Display), q) {
			out = append(out, c)
		}
	}
	return out
}

func (t *Table) Len() int { return len(t.concepts) }
