// Package routes maps page URLs to the widget kinds that should be live on
// them.
package routes

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/moneymask/internal/widget"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Route is one entry of the routing file.
type Route struct {
	Pattern string        `yaml:"pattern" json:"pattern"`
	Widgets []widget.Kind `yaml:"widgets" json:"widgets"`

	re *regexp.Regexp
}

type file struct {
	Routes []Route `yaml:"routes"`
}

// Table is an immutable, validated routing table.
type Table struct {
	routes []Route
}

// Default returns the embedded routing table.
func Default() *Table {
	t, err := Parse(defaultRoutes)
	if err != nil {
		panic(fmt.Sprintf("routes: embedded table: %v", err))
	}
	return t
}

// Load reads a routing table from path. An empty path yields Default.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return t, nil
}

// Parse decodes and validates a YAML routing table.
func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	if len(f.Routes) == 0 {
		return nil, fmt.Errorf("routes: no routes defined")
	}
	for i := range f.Routes {
		r := &f.Routes[i]
		if r.Pattern == "" {
			return nil, fmt.Errorf("routes: route[%d] missing pattern", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("routes: route[%d] pattern %q: %w", i, r.Pattern, err)
		}
		if len(r.Widgets) == 0 {
			return nil, fmt.Errorf("routes: route[%d] (%s) has no widgets", i, r.Pattern)
		}
		r.re = re
	}
	return &Table{routes: f.Routes}, nil
}

// Match returns the union of widget kinds of every route matching url, in
// declaration order and without duplicates.
func (t *Table) Match(url string) []widget.Kind {
	if t == nil {
		return nil
	}
	var kinds []widget.Kind
	seen := make(map[widget.Kind]bool)
	for _, r := range t.routes {
		if !r.re.MatchString(url) {
			continue
		}
		for _, k := range r.Widgets {
			if seen[k] {
				continue
			}
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Routes returns a copy of the table's routes.
func (t *Table) Routes() []Route {
	if t == nil {
		return nil
	}
	out := make([]Route, len(t.routes))
	for i, r := range t.routes {
		r.Widgets = append([]widget.Kind(nil), r.Widgets...)
		out[i] = r
	}
	return out
}
