package rewrite

import (
	"fmt"
	"net/url"
)

// Definition is an uncompiled rewrite as it appears in site content.
type Definition struct {
	Source      string `yaml:"source" validate:"required,startswith=/"`
	Destination string `yaml:"destination" validate:"required,url"`
}

// Table is an ordered rule list; the first matching rule wins.
type Table struct {
	rules []*Rule
}

// NewTable compiles the site's rewrites in order.
func NewTable(rewrites []Definition) (*Table, error) {
	t := &Table{rules: make([]*Rule, 0, len(rewrites))}
	for i, rw := range rewrites {
		r, err := Compile(rw.Source, rw.Destination)
		if err != nil {
			return nil, fmt.Errorf("rewrite %d: %w", i, err)
		}
		t.rules = append(t.rules, r)
	}
	return t, nil
}

func (t *Table) Rules() []*Rule {
	return t.rules
}

// Resolve returns the first rule matching the escaped path along with its
// destination URL.
func (t *Table) Resolve(path, rawQuery string) (*Rule, *url.URL, bool) {
	for _, r := range t.rules {
		if u, ok := r.Target(path, rawQuery); ok {
			return r, u, true
		}
	}
	return nil, nil, false
}

// Matches reports whether any rule handles path.
func (t *Table) Matches(path string) bool {
	for _, r := range t.rules {
		if _, ok := r.Match(path); ok {
			return true
		}
	}
	return false
}
