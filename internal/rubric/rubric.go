package rubric

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Row is one scoring criterion within a rubric.
type Row struct {
	Key       string `toml:"key"`
	Label     string `toml:"label"`
	MaxPoints int    `toml:"max_points"`
}

// Rubric is an ordered scoring definition consumed read-only by the event
// recorder and the artifact packager.
type Rubric struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
	Rows []Row  `toml:"rows"`
}

// Provider supplies the currently active rubric definition.
type Provider interface {
	Active(ctx context.Context) (*Rubric, error)
}

// MaxTotal returns the sum of max points across all rows.
func (r *Rubric) MaxTotal() int {
	total := 0
	for _, row := range r.Rows {
		total += row.MaxPoints
	}
	return total
}

// RowByKey returns the row matching key, if any.
func (r *Rubric) RowByKey(key string) (Row, bool) {
	for _, row := range r.Rows {
		if row.Key == key {
			return row, true
		}
	}
	return Row{}, false
}

// DisplayLabel returns the row label in title case, falling back to the key.
func (row Row) DisplayLabel() string {
	label := strings.TrimSpace(row.Label)
	if label == "" {
		label = strings.ReplaceAll(row.Key, "_", " ")
	}
	return cases.Title(language.Und).String(label)
}

// Validate checks structural requirements on a rubric definition.
func (r *Rubric) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("rubric id is required")
	}
	if len(r.Rows) == 0 {
		return errors.New("rubric must define at least one row")
	}
	seen := make(map[string]struct{}, len(r.Rows))
	for i, row := range r.Rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			return fmt.Errorf("rubric row %d has an empty key", i)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("rubric row key %q is duplicated", key)
		}
		seen[key] = struct{}{}
		if row.MaxPoints <= 0 {
			return fmt.Errorf("rubric row %q must have positive max points", key)
		}
	}
	return nil
}

// FileProvider loads the rubric from a TOML file on every call so edits are
// picked up without restarting the daemon.
type FileProvider struct {
	path string
}

// NewFileProvider constructs a provider reading from path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Active implements Provider.
func (p *FileProvider) Active(ctx context.Context) (*Rubric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.path) == "" {
		return nil, errors.New("rubric path not configured")
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read rubric: %w", err)
	}
	var r Rubric
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse rubric: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// StaticProvider wraps a fixed rubric, used by tests and one-shot commands.
type StaticProvider struct {
	Rubric *Rubric
}

// Active implements Provider.
func (p StaticProvider) Active(ctx context.Context) (*Rubric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Rubric == nil {
		return nil, errors.New("no rubric configured")
	}
	return p.Rubric, nil
}
