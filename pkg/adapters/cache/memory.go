package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

// Memory is an in-process resolve cache.
type Memory struct {
	c *gocache.Cache
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{c: gocache.New(ttl, 2*ttl)}
}

func (m *Memory) Get(_ context.Context, code string) (*domain.ShortMapping, bool) {
	v, ok := m.c.Get(code)
	if !ok {
		return nil, false
	}
	mapping, ok := v.(domain.ShortMapping)
	if !ok {
		return nil, false
	}
	return &mapping, true
}

func (m *Memory) Set(_ context.Context, mapping *domain.ShortMapping) {
	m.c.SetDefault(mapping.Code, *mapping)
}

func (m *Memory) Invalidate(_ context.Context, code string) {
	m.c.Delete(code)
}

// Nop disables caching.
type Nop struct{}

func (Nop) Get(context.Context, string) (*domain.ShortMapping, bool) { return nil, false }
func (Nop) Set(context.Context, *domain.ShortMapping)                {}
func (Nop) Invalidate(context.Context, string)                       {}

var (
	_ ports.ResolveCache = (*Memory)(nil)
	_ ports.ResolveCache = Nop{}
)
