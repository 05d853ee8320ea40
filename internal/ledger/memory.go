package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
//
// Each scope has its own lock, so appends in different scopes proceed
// concurrently while appends within one scope are serialised.
type MemoryLedger struct {
	mu     sync.RWMutex
	chains map[string]*memoryChain
}

type memoryChain struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemory creates an empty MemoryLedger. Scopes come into existence on
// first append; there are no pre-created genesis rows.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{chains: make(map[string]*memoryChain)}
}

func (l *MemoryLedger) chain(scope string) (*memoryChain, bool) {
	l.mu.RLock()
	c, ok := l.chains[scope]
	l.mu.RUnlock()
	return c, ok
}

func (l *MemoryLedger) chainOrCreate(scope string) *memoryChain {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chains[scope]
	if !ok {
		c = &memoryChain{}
		l.chains[scope] = c
	}
	return c
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, scope string, payload []byte) (*Entry, error) {
	c := l.chainOrCreate(scope)
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := GenesisHash
	if n := len(c.entries); n > 0 {
		prevHash = c.entries[n-1].Hash
	}

	entry := &Entry{
		Scope:     scope,
		Position:  int64(len(c.entries)),
		Payload:   payload,
		PrevHash:  prevHash,
		CreatedAt: entryTimestamp(),
	}
	entry.Hash = hashEntry(entry)
	c.entries = append(c.entries, entry)
	return entry, nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, scope string, position int64) (*Entry, error) {
	c, ok := l.chain(scope)
	if !ok {
		return nil, ErrNotFound
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if position < 0 || position >= int64(len(c.entries)) {
		return nil, ErrNotFound
	}
	return c.entries[position], nil
}

// Head implements Ledger.
func (l *MemoryLedger) Head(_ context.Context, scope string) (*Entry, error) {
	c, ok := l.chain(scope)
	if !ok {
		return nil, ErrNotFound
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return nil, ErrNotFound
	}
	return c.entries[len(c.entries)-1], nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context, scope string) (int64, error) {
	c, ok := l.chain(scope)
	if !ok {
		return 0, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.entries)), nil
}

// Scopes implements Ledger.
func (l *MemoryLedger) Scopes(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	scopes := make([]string, 0, len(l.chains))
	for s, c := range l.chains {
		c.mu.RLock()
		n := len(c.entries)
		c.mu.RUnlock()
		if n > 0 {
			scopes = append(scopes, s)
		}
	}
	sort.Strings(scopes)
	return scopes, nil
}

// Walk implements Ledger.
func (l *MemoryLedger) Walk(_ context.Context, scope string, fn func(*Entry) error) error {
	c, ok := l.chain(scope)
	if !ok {
		return nil
	}
	c.mu.RLock()
	entries := make([]*Entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// FindByHash implements Ledger.
func (l *MemoryLedger) FindByHash(_ context.Context, hash string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.chains {
		c.mu.RLock()
		for _, e := range c.entries {
			if e.Hash == hash {
				c.mu.RUnlock()
				return e, nil
			}
		}
		c.mu.RUnlock()
	}
	return nil, ErrNotFound
}

// Verify implements Ledger. It walks the scope's chain and checks that every
// entry links to its predecessor and still hashes to its recorded value.
// An empty or unknown scope verifies clean.
func (l *MemoryLedger) Verify(_ context.Context, scope string) error {
	c, ok := l.chain(scope)
	if !ok {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return verifyChain(scope, func(yield func(*Entry) error) error {
		for _, e := range c.entries {
			if err := yield(e); err != nil {
				return err
			}
		}
		return nil
	})
}
