package durable

import (
	"context"
	"database/sql"
	"sync"
)

// stmtCache lazily prepares and reuses *sql.Stmt by query text, avoiding
// re-planning the same statement on every call while staying safe for
// concurrent use from multiple goroutines sharing one *sql.DB.
type stmtCache struct {
	db    *sql.DB
	mu    sync.RWMutex
	stmts map[string]*sql.Stmt
}

func newStmtCache(db *sql.DB) *stmtCache {
	return &stmtCache{db: db, stmts: make(map[string]*sql.Stmt)}
}

func (c *stmtCache) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	c.mu.RLock()
	if s, ok := c.stmts[query]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.stmts[query]; ok {
		return s, nil
	}
	s, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.stmts[query] = s
	return s, nil
}

func (c *stmtCache) closeAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for q, s := range c.stmts {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.stmts, q)
	}
	return firstErr
}
