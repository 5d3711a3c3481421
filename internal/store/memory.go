package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/garden-weather-service/internal/geo"
	"github.com/kjstillabower/garden-weather-service/internal/models"
	"github.com/kjstillabower/garden-weather-service/internal/validation"
)

// MemoryStore is an in-process Store. Returned gardens are copies.
type MemoryStore struct {
	mu      sync.RWMutex
	gardens map[string]models.Garden
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{gardens: make(map[string]models.Garden)}
}

type seedFile struct {
	Gardens []models.Garden `yaml:"gardens"`
}

// LoadSeedFile adds every garden listed under "gardens" in the YAML file at path.
func (s *MemoryStore) LoadSeedFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	for _, g := range seed.Gardens {
		if err := s.Save(ctx, g); err != nil {
			return fmt.Errorf("seed garden %q: %w", g.ID, err)
		}
	}
	return nil
}

// Save inserts or replaces g.
func (s *MemoryStore) Save(ctx context.Context, g models.Garden) error {
	if g.ID == "" {
		return fmt.Errorf("garden id is required")
	}
	if err := validation.ValidateCoordinate(g.Location); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gardens[g.ID] = cloneGarden(g)
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (models.Garden, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gardens[id]
	if !ok {
		return models.Garden{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneGarden(g), nil
}

func (s *MemoryStore) FindWithinRadius(ctx context.Context, point models.Coordinate, radiusMeters float64, excludeID string) ([]models.Garden, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Garden
	for id, g := range s.gardens {
		if id == excludeID {
			continue
		}
		if geo.Within(point, g.Location, radiusMeters) {
			out = append(out, cloneGarden(g))
		}
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) FindByOwner(ctx context.Context, ownerID string) ([]models.Garden, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Garden
	for _, g := range s.gardens {
		if g.OwnerID == ownerID {
			out = append(out, cloneGarden(g))
		}
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) UpdateWeather(ctx context.Context, id string, reading models.WeatherReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gardens[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r := reading
	g.Weather = &r
	s.gardens[id] = g
	return nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]models.Garden, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Garden, 0, len(s.gardens))
	for _, g := range s.gardens {
		out = append(out, cloneGarden(g))
	}
	sortByID(out)
	return out, nil
}

func cloneGarden(g models.Garden) models.Garden {
	if g.Weather != nil {
		w := *g.Weather
		g.Weather = &w
	}
	return g
}

// sortByID keeps iteration order stable across map walks.
func sortByID(gs []models.Garden) {
	sort.Slice(gs, func(i, j int) bool { return gs[i].ID < gs[j].ID })
}
