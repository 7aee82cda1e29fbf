package mapping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/fieldexport/internal/logging"
	"github.com/JonMunkholm/fieldexport/internal/schema"
)

var (
	// ErrNotFound is returned when a mapping index does not exist.
	ErrNotFound = errors.New("mapping not found")

	// ErrDefaultImmutable is returned when a caller tries to modify or
	// delete the AUTO mapping.
	ErrDefaultImmutable = errors.New("the AUTO mapping cannot be modified")
)

// Repository persists the mappings of a project.
type Repository interface {
	// List returns the project's mappings ordered by index.
	List(ctx context.Context, projectID int64) ([]Mapping, error)
	// Save inserts or replaces the mapping at m.MapIndex.
	Save(ctx context.Context, projectID int64, m Mapping) error
	// Delete removes the mapping at index.
	Delete(ctx context.Context, projectID int64, index int) error
}

// Store manages a project's mappings on top of a Repository.
type Store struct {
	repo Repository
	gen  Generator
}

// NewStore creates a mapping store.
func NewStore(repo Repository, gen Generator) *Store {
	return &Store{repo: repo, gen: gen}
}

// List returns every mapping of the project, generating and saving the AUTO
// mapping first when the project has none.
func (s *Store) List(ctx context.Context, p *schema.Project) ([]Mapping, error) {
	mappings, err := s.repo.List(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	if len(mappings) > 0 {
		sort.Slice(mappings, func(i, j int) bool { return mappings[i].MapIndex < mappings[j].MapIndex })
		return mappings, nil
	}

	auto := s.gen.Generate(p, NewCounter(0))
	if err := s.repo.Save(ctx, p.ID, auto); err != nil {
		return nil, fmt.Errorf("save default mapping: %w", err)
	}
	logging.WithFields(ctx, "project", p.Slug).Info("generated default mapping")
	return []Mapping{auto}, nil
}

// Resolve returns the mapping to export with. An index that does not exist
// falls back to the AUTO mapping. Mappings that lag behind the schema are
// reconciled and saved before being returned.
func (s *Store) Resolve(ctx context.Context, p *schema.Project, index int) (Mapping, error) {
	mappings, err := s.List(ctx, p)
	if err != nil {
		return Mapping{}, err
	}

	m, ok := pick(mappings, index)
	if !ok {
		logging.WithFields(ctx, "project", p.Slug, "map_index", index).
			Warn("mapping index not found, using default")
		if m, ok = pick(mappings, DefaultIndex); !ok {
			m = mappings[0]
		}
	}

	reconciled, changed := s.gen.Reconcile(p, m)
	if !changed {
		return m, nil
	}
	if err := s.repo.Save(ctx, p.ID, reconciled); err != nil {
		return Mapping{}, fmt.Errorf("save reconciled mapping: %w", err)
	}
	logging.WithFields(ctx, "project", p.Slug, "map_index", reconciled.MapIndex).
		Info("mapping updated to match schema")
	return reconciled, nil
}

// Create copies the mapping at fromIndex under the next free index.
func (s *Store) Create(ctx context.Context, p *schema.Project, name string, fromIndex int) (Mapping, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Mapping{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}

	mappings, err := s.List(ctx, p)
	if err != nil {
		return Mapping{}, err
	}
	src, ok := pick(mappings, fromIndex)
	if !ok {
		return Mapping{}, fmt.Errorf("%w: index %d", ErrNotFound, fromIndex)
	}

	next := 0
	for _, m := range mappings {
		if strings.EqualFold(m.Name, name) {
			return Mapping{}, fmt.Errorf("%w: name %q already used", ErrInvalid, name)
		}
		if m.MapIndex >= next {
			next = m.MapIndex + 1
		}
	}

	created := src.Clone()
	created.Name = name
	created.MapIndex = next
	created.IsDefault = false
	if err := s.repo.Save(ctx, p.ID, created); err != nil {
		return Mapping{}, fmt.Errorf("save mapping: %w", err)
	}
	return created, nil
}

// Update replaces a user mapping after validating it.
func (s *Store) Update(ctx context.Context, p *schema.Project, index int, m Mapping) (Mapping, error) {
	if index == DefaultIndex {
		return Mapping{}, ErrDefaultImmutable
	}

	mappings, err := s.List(ctx, p)
	if err != nil {
		return Mapping{}, err
	}
	current, ok := pick(mappings, index)
	if !ok {
		return Mapping{}, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}

	m.MapIndex = index
	m.IsDefault = false
	if strings.TrimSpace(m.Name) == "" {
		m.Name = current.Name
	}
	if err := m.Validate(s.gen.maxColumnLength(), isLocation(p)); err != nil {
		return Mapping{}, err
	}
	if err := s.repo.Save(ctx, p.ID, m); err != nil {
		return Mapping{}, fmt.Errorf("save mapping: %w", err)
	}
	return m, nil
}

// Delete removes a user mapping.
func (s *Store) Delete(ctx context.Context, p *schema.Project, index int) error {
	if index == DefaultIndex {
		return ErrDefaultImmutable
	}
	mappings, err := s.repo.List(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("list mappings: %w", err)
	}
	if _, ok := pick(mappings, index); !ok {
		return fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if err := s.repo.Delete(ctx, p.ID, index); err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}

func pick(mappings []Mapping, index int) (Mapping, bool) {
	for _, m := range mappings {
		if m.MapIndex == index {
			return m, true
		}
	}
	return Mapping{}, false
}

// isLocation reports whether ref names a location input of the project.
func isLocation(p *schema.Project) func(string) bool {
	return func(ref string) bool {
		in, ok := p.Input(ref)
		return ok && in.Type == schema.TypeLocation
	}
}

func (g Generator) maxColumnLength() int {
	if g.MaxColumnLength <= 0 {
		return DefaultMaxColumnLength
	}
	return g.MaxColumnLength
}
