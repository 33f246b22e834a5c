// Package directory resolves provider IDs to display details.
package directory

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"
)

var ErrProviderNotFound = errors.New("provider not found")

type Provider struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
}

type Directory interface {
	GetProvider(ctx context.Context, id string) (Provider, error)
	List(ctx context.Context) ([]Provider, error)
}

// Static is a fixed in-memory directory.
type Static struct {
	byID  map[string]Provider
	order []string
}

func NewStatic(providers ...Provider) *Static {
	s := &Static{byID: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := s.byID[p.ID]; !dup {
			s.order = append(s.order, p.ID)
		}
		s.byID[p.ID] = p
	}
	return s
}

func (s *Static) GetProvider(_ context.Context, id string) (Provider, error) {
	p, ok := s.byID[id]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, nil
}

func (s *Static) List(context.Context) ([]Provider, error) {
	out := make([]Provider, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out, nil
}

// FileDirectory reads id,name,specialization lines. The file is re-read
// when its modification time changes.
type FileDirectory struct {
	path string

	mu     sync.Mutex
	cached *Static
	stamp  int64
}

func NewFileDirectory(path string) *FileDirectory {
	return &FileDirectory{path: path}
}

func (d *FileDirectory) GetProvider(ctx context.Context, id string) (Provider, error) {
	s, err := d.load(ctx)
	if err != nil {
		return Provider{}, err
	}
	return s.GetProvider(ctx, id)
}

func (d *FileDirectory) List(ctx context.Context) ([]Provider, error) {
	s, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	return s.List(ctx)
}

func (d *FileDirectory) load(ctx context.Context) (*Static, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := os.Stat(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewStatic(), nil
	}
	if err != nil {
		return nil, err
	}
	if d.cached != nil && info.ModTime().UnixNano() == d.stamp {
		return d.cached, nil
	}

	file, err := os.Open(d.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	providers, err := Parse(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("read providers %s: %w", d.path, err)
	}
	d.cached = NewStatic(providers...)
	d.stamp = info.ModTime().UnixNano()
	return d.cached, nil
}

// Parse decodes provider lines. Blank lines are skipped.
func Parse(src io.Reader) ([]Provider, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = 3
	r.TrimLeadingSpace = true

	var out []Provider
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		p := Provider{
			ID:             strings.TrimSpace(fields[0]),
			Name:           strings.TrimSpace(fields[1]),
			Specialization: strings.TrimSpace(fields[2]),
		}
		if p.ID == "" {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("line %d: empty provider id", line)
		}
		out = append(out, p)
	}
}

// Write encodes providers in the format Parse reads, sorted by ID.
func Write(dst io.Writer, providers []Provider) error {
	sorted := slices.Clone(providers)
	slices.SortFunc(sorted, func(a, b Provider) int { return strings.Compare(a.ID, b.ID) })

	w := csv.NewWriter(dst)
	for _, p := range sorted {
		if err := w.Write([]string{p.ID, p.Name, p.Specialization}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
