package testutil

import (
	"context"
	"sync"
	"time"

	"pqi-go/internal/pqi"
	"pqi-go/internal/store"
)

// NewTestStore creates a new in-memory store for testing.
func NewTestStore() pqi.Store {
	return store.NewMemoryStore()
}

// StubConnectivity reports a settable online state.
type StubConnectivity struct {
	mu     sync.Mutex
	online bool
}

func NewStubConnectivity(online bool) *StubConnectivity {
	return &StubConnectivity{online: online}
}

func (c *StubConnectivity) Online(_ context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *StubConnectivity) SetOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = online
}

// StubTokenSource hands out a fixed token and counts invalidations.
type StubTokenSource struct {
	mu            sync.Mutex
	Err           error
	Invalidations int
}

func NewStubTokenSource() *StubTokenSource {
	return &StubTokenSource{}
}

func (s *StubTokenSource) Token(_ context.Context) (*pqi.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return &pqi.Token{Value: "test-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *StubTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Invalidations++
}

var (
	_ pqi.Connectivity = (*StubConnectivity)(nil)
	_ pqi.TokenSource  = (*StubTokenSource)(nil)
)
