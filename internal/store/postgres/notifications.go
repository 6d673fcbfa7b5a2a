package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/domain/notification"
	"github.com/medledger/rxtrack/internal/store"
)

// NotificationStore persists notification documents. Creation is keyed
// on the deterministic dedup key so concurrent escalation passes
// converge on one document per logical event.
type NotificationStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewNotificationStore creates a store over the given pool.
func NewNotificationStore(pool *pgxpool.Pool, logger *zap.Logger) *NotificationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("notification-store"),
	}
}

// InsertIfAbsent creates the notification unless a document with the
// same dedup key already exists. ON CONFLICT DO NOTHING makes the write
// idempotent without a prior existence query.
func (s *NotificationStore) InsertIfAbsent(ctx context.Context, n *notification.Notification) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "notification_insert_if_absent",
		trace.WithAttributes(
			attribute.String("type", string(n.Type)),
			attribute.String("to_role", string(n.ToRole)),
		))
	defer span.End()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, dedup_key, to_role, to_target_id, type, title, message,
			 prescription_display_id, order_id, read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (dedup_key) DO NOTHING`,
		n.ID, n.DedupKey, n.ToRole, n.ToTargetID, n.Type, n.Title, n.Message,
		nilIfEmpty(n.PrescriptionDisplayID), nilIfEmpty(n.OrderID), n.Read, n.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByRecipient returns every notification addressed to one
// recipient, newest first.
func (s *NotificationStore) ListByRecipient(ctx context.Context, role notification.Role, targetID string) ([]notification.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, dedup_key, to_role, to_target_id, type, title, message,
		       prescription_display_id, order_id, read, created_at
		FROM notifications
		WHERE to_role = $1 AND to_target_id = $2
		ORDER BY created_at DESC`, role, targetID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []notification.Notification
	for rows.Next() {
		var n notification.Notification
		var rxID, orderID *string
		if err := rows.Scan(&n.ID, &n.DedupKey, &n.ToRole, &n.ToTargetID, &n.Type,
			&n.Title, &n.Message, &rxID, &orderID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.PrescriptionDisplayID = deref(rxID)
		n.OrderID = deref(orderID)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead sets read on every listed document in one batch.
func (s *NotificationStore) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "notification_mark_read",
		trace.WithAttributes(attribute.Int("count", len(ids))))
	defer span.End()

	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(`UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range ids {
		if _, err := results.Exec(); err != nil {
			span.RecordError(err)
			return fmt.Errorf("mark read: %w", err)
		}
	}
	return nil
}

// Directory resolves external identifiers to role collection document
// ids.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory creates a directory over the given pool.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// Resolve performs the reverse lookup from external id to document id.
func (d *Directory) Resolve(ctx context.Context, role notification.Role, externalID string) (string, error) {
	var docID string
	err := d.pool.QueryRow(ctx,
		`SELECT doc_id FROM role_directory WHERE role = $1 AND external_id = $2`,
		role, externalID).Scan(&docID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrRecipientNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve recipient: %w", err)
	}
	return docID, nil
}

// Register upserts a directory entry.
func (d *Directory) Register(ctx context.Context, role notification.Role, externalID, docID string) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO role_directory (role, external_id, doc_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (role, external_id) DO UPDATE SET doc_id = EXCLUDED.doc_id`,
		role, externalID, docID)
	if err != nil {
		return fmt.Errorf("register recipient: %w", err)
	}
	return nil
}
