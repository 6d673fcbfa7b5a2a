// Package escalation derives overdue-delivery reminders from elapsed
// time since state transitions and materializes them as notification
// documents, at most once per (type, recipient, prescription).
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/domain/notification"
	"github.com/medledger/rxtrack/internal/domain/prescription"
	"github.com/medledger/rxtrack/internal/observability/metrics"
	"github.com/medledger/rxtrack/internal/store"
)

const (
	defaultSweepInterval = time.Minute
)

// Engine evaluates overdue rules and writes notification documents.
// Any number of engines may observe the same data concurrently: the
// creation write is keyed on the deterministic dedup key, so concurrent
// passes converge on one document per logical event.
type Engine struct {
	prescriptions store.PrescriptionStore
	notifications store.NotificationStore
	directory     store.Directory
	rules         []Rule
	metrics       *metrics.Metrics
	logger        *zap.Logger
	interval      time.Duration
	now           func() time.Time
}

// NewEngine creates an escalation engine with the default rules.
func NewEngine(
	prescriptions store.PrescriptionStore,
	notifications store.NotificationStore,
	directory store.Directory,
	m *metrics.Metrics,
	interval time.Duration,
	logger *zap.Logger,
) (*Engine, error) {
	if prescriptions == nil {
		return nil, fmt.Errorf("prescription store is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		prescriptions: prescriptions,
		notifications: notifications,
		directory:     directory,
		rules:         DefaultRules,
		metrics:       m,
		logger:        logger,
		interval:      interval,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the engine clock. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Start runs periodic sweeps until ctx is cancelled. Thresholds cross by
// time passing with no document write, so the sweep cannot be replaced
// by change-driven evaluation alone.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error("initial escalation sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.logger.Error("escalation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep evaluates every open delivery once. Safe to run concurrently
// with other sessions' sweeps.
func (e *Engine) Sweep(ctx context.Context) error {
	open, err := e.prescriptions.ListOpenDeliveries(ctx)
	if err != nil {
		return fmt.Errorf("list open deliveries: %w", err)
	}
	if e.metrics != nil {
		e.metrics.OpenDeliveries.Set(float64(len(open)))
	}

	for i := range open {
		if err := e.evaluate(ctx, &open[i]); err != nil {
			e.logger.Error("escalation evaluation failed",
				zap.String("prescription_id", open[i].ID),
				zap.Error(err))
		}
	}
	return nil
}

// HandleChange re-evaluates a single prescription after a pushed change
// event.
func (e *Engine) HandleChange(ctx context.Context, prescriptionID string) error {
	rx, err := e.prescriptions.Get(ctx, prescriptionID)
	if err != nil {
		if errors.Is(err, prescription.ErrNotFound) {
			return nil
		}
		return err
	}
	return e.evaluate(ctx, rx)
}

// evaluate materializes every due candidate. The rules are independent,
// so one recipient's failure must not suppress another recipient's
// reminder; failures are collected and reported together.
func (e *Engine) evaluate(ctx context.Context, rx *prescription.Prescription) error {
	var errs []error
	for _, cand := range Evaluate(rx, e.now(), e.rules) {
		if err := e.materialize(ctx, cand); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// materialize resolves the recipient and writes the notification with an
// insert-if-absent keyed on the dedup key. A directory miss suppresses
// the reminder but is surfaced as a typed, logged, counted failure
// rather than a silent no-op.
func (e *Engine) materialize(ctx context.Context, cand Candidate) error {
	if cand.RecipientExternalID == "" {
		e.recordLookupMiss(cand)
		return fmt.Errorf("%w: %s reminder for prescription %s has no recipient identifier",
			store.ErrRecipientNotFound, cand.Rule.Type, cand.PrescriptionID)
	}

	targetID, err := e.directory.Resolve(ctx, cand.Rule.Role, cand.RecipientExternalID)
	if err != nil {
		if errors.Is(err, store.ErrRecipientNotFound) {
			e.recordLookupMiss(cand)
			return fmt.Errorf("resolve %s recipient %s for prescription %s: %w",
				cand.Rule.Role, cand.RecipientExternalID, cand.PrescriptionID, err)
		}
		return fmt.Errorf("resolve recipient: %w", err)
	}

	n := &notification.Notification{
		ID:                    uuid.New().String(),
		DedupKey:              notification.DedupKey(cand.Rule.Type, cand.Rule.Role, targetID, cand.PrescriptionID),
		ToRole:                cand.Rule.Role,
		ToTargetID:            targetID,
		Type:                  cand.Rule.Type,
		Title:                 cand.Rule.Title,
		Message:               cand.Message,
		PrescriptionDisplayID: cand.PrescriptionID,
		OrderID:               cand.PrescriptionID,
		CreatedAt:             e.now(),
	}
	if err := n.Validate(); err != nil {
		return fmt.Errorf("build notification: %w", err)
	}

	created, err := e.notifications.InsertIfAbsent(ctx, n)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if !created {
		return nil
	}

	if e.metrics != nil {
		e.metrics.EscalationsCreated.WithLabelValues(string(cand.Rule.Type)).Inc()
	}
	e.logger.Info("escalation notification created",
		zap.String("type", string(cand.Rule.Type)),
		zap.String("to_role", string(cand.Rule.Role)),
		zap.String("to_target_id", targetID),
		zap.String("prescription_id", cand.PrescriptionID))
	return nil
}

func (e *Engine) recordLookupMiss(cand Candidate) {
	if e.metrics != nil {
		e.metrics.RecipientLookupMisses.WithLabelValues(string(cand.Rule.Role)).Inc()
	}
	e.logger.Error("escalation recipient lookup miss",
		zap.String("type", string(cand.Rule.Type)),
		zap.String("role", string(cand.Rule.Role)),
		zap.String("external_id", cand.RecipientExternalID),
		zap.String("prescription_id", cand.PrescriptionID))
}
