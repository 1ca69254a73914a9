package application

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store for tests and database-free deployments.
type InMemory struct {
	mu   sync.RWMutex
	byID map[string]*Application
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty application store.
func NewInMemory() *InMemory {
	return &InMemory{byID: make(map[string]*Application)}
}

func (s *InMemory) Create(_ context.Context, app *Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	s.byID[app.ID] = clone(app)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id string) (*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(app), nil
}

func (s *InMemory) List(_ context.Context) ([]*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Application, 0, len(s.byID))
	for _, app := range s.byID {
		out = append(out, clone(app))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func clone(app *Application) *Application {
	cp := *app
	cp.Sectors = append([]string(nil), app.Sectors...)
	cp.FilterSnapshot = append([]string(nil), app.FilterSnapshot...)
	cp.Documents = append([]Document(nil), app.Documents...)
	if app.PersonalInfo != nil {
		cp.PersonalInfo = make(map[string]any, len(app.PersonalInfo))
		for k, v := range app.PersonalInfo {
			cp.PersonalInfo[k] = v
		}
	}
	return &cp
}
