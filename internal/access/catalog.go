package access

import (
	"context"
	"sort"
	"sync"
)

// Catalog is the read-only collaborator resolving users, systems,
// instances and tiers. The engine never writes through it.
type Catalog interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetSystem(ctx context.Context, id string) (System, error)
	GetSystemInstance(ctx context.Context, id string) (SystemInstance, error)
	GetAccessTier(ctx context.Context, id string) (AccessTier, error)
	// ManagerOf returns the direct manager of the user, or ErrNotFound
	// when the user has none.
	ManagerOf(ctx context.Context, userID string) (User, error)
	// DirectReports returns the users whose manager is managerID.
	DirectReports(ctx context.Context, managerID string) ([]User, error)
}

// StaticCatalog is a map-backed Catalog used by tests and the smoke
// binary. Safe for concurrent reads after the fixtures are loaded.
type StaticCatalog struct {
	mu        sync.RWMutex
	users     map[string]User
	systems   map[string]System
	instances map[string]SystemInstance
	tiers     map[string]AccessTier
}

// NewStaticCatalog returns an empty catalog.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		users:     make(map[string]User),
		systems:   make(map[string]System),
		instances: make(map[string]SystemInstance),
		tiers:     make(map[string]AccessTier),
	}
}

func (c *StaticCatalog) AddUser(u User) *StaticCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = u
	return c
}

func (c *StaticCatalog) AddSystem(s System) *StaticCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systems[s.ID] = s
	return c
}

func (c *StaticCatalog) AddInstance(i SystemInstance) *StaticCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances[i.ID] = i
	return c
}

func (c *StaticCatalog) AddTier(t AccessTier) *StaticCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiers[t.ID] = t
	return c
}

func (c *StaticCatalog) GetUser(_ context.Context, id string) (User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (c *StaticCatalog) GetSystem(_ context.Context, id string) (System, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.systems[id]
	if !ok {
		return System{}, ErrNotFound
	}
	return s, nil
}

func (c *StaticCatalog) GetSystemInstance(_ context.Context, id string) (SystemInstance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.instances[id]
	if !ok {
		return SystemInstance{}, ErrNotFound
	}
	return i, nil
}

func (c *StaticCatalog) GetAccessTier(_ context.Context, id string) (AccessTier, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tiers[id]
	if !ok {
		return AccessTier{}, ErrNotFound
	}
	return t, nil
}

func (c *StaticCatalog) ManagerOf(ctx context.Context, userID string) (User, error) {
	c.mu.RLock()
	u, ok := c.users[userID]
	c.mu.RUnlock()
	if !ok || u.ManagerID == "" {
		return User{}, ErrNotFound
	}
	return c.GetUser(ctx, u.ManagerID)
}

func (c *StaticCatalog) DirectReports(_ context.Context, managerID string) ([]User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var reports []User
	for _, u := range c.users {
		if u.ManagerID == managerID {
			reports = append(reports, u)
		}
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].ID < reports[j].ID })
	return reports, nil
}
