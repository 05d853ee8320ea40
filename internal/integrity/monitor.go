// Package integrity runs periodic verification sweeps over the ledgers and
// quarantines any scope whose chain fails.
//
// Quarantine is scope-local: a violation in one election's ballot chain
// halts casting for that election only, while every other scope stays live.
// A quarantined scope never self-heals; it is re-admitted through Clear
// after an operator has investigated.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uvote-platform/uvote/internal/alert"
	"github.com/uvote-platform/uvote/internal/audit"
	"github.com/uvote-platform/uvote/internal/ledger"
)

// Config holds sweep configuration.
type Config struct {
	SweepInterval time.Duration
	MaxConcurrent int
}

// Verifier is the ledger surface the monitor sweeps. Both ledger
// implementations satisfy it.
type Verifier interface {
	Scopes(ctx context.Context) ([]string, error)
	Verify(ctx context.Context, scope string) error
}

// Target is one ledger under the monitor's watch.
type Target struct {
	Name   string // "ballot" or "audit"; appears in logs and alerts
	Ledger Verifier
}

// MetricsRecordFunc is an optional callback recording the halted-scope count
// after each sweep.
type MetricsRecordFunc func(haltedScopes int)

// Monitor runs the sweeps and tracks quarantined scopes.
type Monitor struct {
	targets   []Target
	cfg       Config
	mu        sync.RWMutex
	halted    map[string]*ledger.IntegrityError
	notifier  alert.Notifier
	audit     *audit.Emitter
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Monitor over the given targets.
func New(targets []Target, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 4
	}
	return &Monitor{
		targets: targets,
		cfg:     cfg,
		halted:  make(map[string]*ledger.IntegrityError),
		logger:  logger,
	}
}

// SetNotifier configures the operator alert channel.
func (m *Monitor) SetNotifier(n alert.Notifier) {
	m.notifier = n
}

// SetAuditEmitter configures audit emission for quarantine events.
func (m *Monitor) SetAuditEmitter(e *audit.Emitter) {
	m.audit = e
}

// SetMetricsRecord configures the metrics recording callback.
func (m *Monitor) SetMetricsRecord(fn MetricsRecordFunc) {
	m.onMetrics = fn
}

// Start runs the sweep loop until quit is signalled.
func (m *Monitor) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SweepInterval)
			m.SweepAll(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// SweepAll verifies every scope of every target with bounded concurrency.
func (m *Monitor) SweepAll(ctx context.Context) {
	sem := make(chan struct{}, m.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for _, t := range m.targets {
		scopes, err := t.Ledger.Scopes(ctx)
		if err != nil {
			m.logger.Error("integrity: list scopes",
				zap.String("target", t.Name), zap.Error(err))
			continue
		}

		for _, scope := range scopes {
			wg.Add(1)
			go func(t Target, scope string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				err := t.Ledger.Verify(ctx, scope)
				if err == nil {
					return
				}
				var ie *ledger.IntegrityError
				if errors.As(err, &ie) {
					m.quarantine(ctx, t.Name, ie)
					return
				}
				// Not an integrity failure: the store was unreachable or the
				// sweep timed out. The next sweep retries.
				m.logger.Warn("integrity: sweep failed",
					zap.String("target", t.Name),
					zap.String("scope", scope),
					zap.Error(err),
				)
			}(t, scope)
		}
	}
	wg.Wait()

	if m.onMetrics != nil {
		m.mu.RLock()
		n := len(m.halted)
		m.mu.RUnlock()
		m.onMetrics(n)
	}
}

// quarantine records the violation and raises the alarm exactly once per
// scope.
func (m *Monitor) quarantine(ctx context.Context, targetName string, ie *ledger.IntegrityError) {
	m.mu.Lock()
	_, already := m.halted[ie.Scope]
	if !already {
		m.halted[ie.Scope] = ie
	}
	m.mu.Unlock()
	if already {
		return
	}

	m.logger.Error("ledger integrity violation, scope quarantined",
		zap.String("target", targetName),
		zap.String("scope", ie.Scope),
		zap.Int64("position", ie.Position),
		zap.String("reason", ie.Reason),
	)

	if m.audit != nil {
		if _, err := m.audit.Emit(ctx, audit.EventIntegrityAlert, map[string]string{
			"scope":    ie.Scope,
			"position": fmt.Sprintf("%d", ie.Position),
			"reason":   ie.Reason,
		}); err != nil {
			m.logger.Warn("integrity: emit audit event", zap.Error(err))
		}
	}
	if m.notifier != nil {
		subject := fmt.Sprintf("ledger integrity violation: %s scope %s", targetName, ie.Scope)
		body := fmt.Sprintf(
			"Chain verification failed for %s scope %q at position %d: %s.\n"+
				"Casting in this scope is halted until the scope is cleared.",
			targetName, ie.Scope, ie.Position, ie.Reason,
		)
		if err := m.notifier.Notify(ctx, subject, body); err != nil {
			m.logger.Warn("integrity: deliver alert", zap.Error(err))
		}
	}
}

// Halted reports whether a scope is quarantined.
func (m *Monitor) Halted(scope string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.halted[scope]
	return ok
}

// HaltedScopes returns the quarantined scopes in sorted order.
func (m *Monitor) HaltedScopes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.halted))
	for s := range m.halted {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Clear re-admits a quarantined scope. It reports whether the scope was
// quarantined. Clearing does not re-verify; the next sweep will quarantine
// again if the chain is still bad.
func (m *Monitor) Clear(scope string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.halted[scope]
	delete(m.halted, scope)
	return ok
}
