// Package inbox assembles per-role notification inboxes: duplicate
// physical documents are merged into one displayed item, and marking a
// merged item read updates every underlying document.
package inbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/domain/notification"
	"github.com/medledger/rxtrack/internal/observability/metrics"
	"github.com/medledger/rxtrack/internal/store"
)

// Service reads and reconciles a recipient's notifications. It performs
// no writes except the batched read-update; store I/O errors propagate
// to the caller for retry.
type Service struct {
	notifications store.NotificationStore
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewService creates an inbox service.
func NewService(notifications store.NotificationStore, m *metrics.Metrics, logger *zap.Logger) (*Service, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{notifications: notifications, metrics: m, logger: logger}, nil
}

// List returns the recipient's merged inbox, newest first. A group is
// unread unless every member document is read.
func (s *Service) List(ctx context.Context, role notification.Role, targetID string) ([]notification.Group, error) {
	items, err := s.notifications.ListByRecipient(ctx, role, targetID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notification.Merge(items), nil
}

// MarkRead marks every member of the identified group read in one
// batched update. Updating only the newest member would let the group
// resurface as unread on the next refresh.
func (s *Service) MarkRead(ctx context.Context, role notification.Role, targetID, groupKey string) error {
	groups, err := s.List(ctx, role, targetID)
	if err != nil {
		return err
	}

	for _, g := range groups {
		if g.Key != groupKey {
			continue
		}
		if err := s.notifications.MarkRead(ctx, g.MemberIDs); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		if s.metrics != nil {
			s.metrics.NotificationsRead.Add(float64(len(g.MemberIDs)))
		}
		s.logger.Debug("notification group marked read",
			zap.String("group", groupKey),
			zap.Int("members", len(g.MemberIDs)))
		return nil
	}

	return fmt.Errorf("notification group %q not found", groupKey)
}
