// Package alert delivers integrity alerts to platform operators.
//
// A quarantined ledger scope is an incident, not a log line: whatever else
// happens, somebody has to look at it. The Notifier interface is the loud
// channel for that. Deployments pick a signed webhook or SMTP delivery;
// development falls back to a log-only implementation.
package alert

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers an operator alert. Implementations own their destination.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// LogNotifier writes alerts to zap at Error level instead of delivering
// them. Use in development or when no delivery channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier backed by the given logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert and returns nil.
func (n *LogNotifier) Notify(_ context.Context, subject, body string) error {
	n.logger.Error("operator alert (log only, not delivered)",
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
