// Package formatter provides a pluggable output formatting system.
// Formatters convert listings of configuration actions and introspection
// runs to table, json or yaml output.
package formatter

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Listing describes the records being formatted.
type Listing struct {
	// Kind names the records, e.g. "actions" or "runs".
	Kind string

	// Columns is the default column order. When empty the sorted keys of
	// the first record are used.
	Columns []string

	// Hidden columns are left out unless requested explicitly.
	Hidden []string
}

// columns returns the requested columns, or the listing's visible ones.
func (l Listing) columns(records []map[string]any, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	cols := l.Columns
	if len(cols) == 0 && len(records) > 0 {
		for k := range records[0] {
			cols = append(cols, k)
		}
		sort.Strings(cols)
	}
	hidden := make(map[string]bool, len(l.Hidden))
	for _, h := range l.Hidden {
		hidden[h] = true
	}
	visible := make([]string, 0, len(cols))
	for _, c := range cols {
		if !hidden[c] {
			visible = append(visible, c)
		}
	}
	return visible
}

// filter keeps the requested columns of each record, or drops the hidden
// ones when none are requested.
func (l Listing) filter(records []map[string]any, requested []string) []map[string]any {
	result := make([]map[string]any, len(records))
	for i, record := range records {
		result[i] = l.filterRecord(record, requested)
	}
	return result
}

func (l Listing) filterRecord(record map[string]any, requested []string) map[string]any {
	result := make(map[string]any)
	if len(requested) > 0 {
		for _, col := range requested {
			if val, ok := record[col]; ok {
				result[col] = val
			}
		}
		return result
	}

	hidden := make(map[string]bool, len(l.Hidden))
	for _, h := range l.Hidden {
		hidden[h] = true
	}
	for k, v := range record {
		if !hidden[k] {
			result[k] = v
		}
	}
	return result
}

// Formatter converts structured data to a specific output format.
type Formatter interface {
	// Name returns the formatter name (e.g., "table", "json", "yaml").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// FormatList formats a list of records.
	FormatList(w io.Writer, l Listing, records []map[string]any, opts FormatOptions) error

	// FormatRecord formats a single record.
	FormatRecord(w io.Writer, l Listing, record map[string]any, opts FormatOptions) error

	// FormatError formats an error.
	FormatError(w io.Writer, err error) error
}

// FormatOptions configures formatting behavior.
type FormatOptions struct {
	// Columns specifies which fields to include (nil = all visible).
	Columns []string

	// NoHeader disables header row for tabular formats.
	NoHeader bool

	// Compact minimizes whitespace (for json/yaml).
	Compact bool

	// MaxWidth truncates long values (0 = no limit).
	MaxWidth int
}

// Registry manages registered formatters.
type Registry struct {
	mu         sync.RWMutex
	formatters map[string]Formatter
	defaultFmt string
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		formatters: make(map[string]Formatter),
		defaultFmt: "table",
	}
}

// Register adds a formatter to the registry.
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[f.Name()]; exists {
		return fmt.Errorf("formatter %q already registered", f.Name())
	}

	r.formatters[f.Name()] = f
	return nil
}

// Get returns a formatter by name.
func (r *Registry) Get(name string) (Formatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formatters[name]
	return f, ok
}

// Default returns the default formatter.
func (r *Registry) Default() Formatter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formatters[r.defaultFmt]
	if !ok {
		// Fallback to first available
		for _, f := range r.formatters {
			return f
		}
		return nil
	}
	return f
}

// SetDefault sets the default formatter.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formatters[name]; !exists {
		return fmt.Errorf("formatter %q not registered", name)
	}

	r.defaultFmt = name
	return nil
}

// List returns all registered formatter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter to the default registry.
func Register(f Formatter) error {
	return DefaultRegistry.Register(f)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, bool) {
	return DefaultRegistry.Get(name)
}

// Default returns the default formatter from the default registry.
func Default() Formatter {
	return DefaultRegistry.Default()
}

// List returns all formatter names from the default registry.
func List() []string {
	return DefaultRegistry.List()
}
