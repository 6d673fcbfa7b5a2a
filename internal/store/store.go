// Package store defines the record-store surface the coordination core
// depends on: point reads, field-equality queries, insert-if-absent,
// batched updates and a reactive change subscription.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/medledger/rxtrack/internal/domain/notification"
	"github.com/medledger/rxtrack/internal/domain/prescription"
)

// ErrRecipientNotFound indicates a directory reverse lookup matched no
// document for the given external id.
var ErrRecipientNotFound = errors.New("recipient not found in directory")

// ChangeEvent is pushed on every prescription document write.
type ChangeEvent struct {
	PrescriptionID string    `json:"prescription_id"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// PrescriptionStore persists prescription documents. Implementations
// embed prescription.Store and add the queries the API and the
// escalation engine run.
type PrescriptionStore interface {
	prescription.Store

	// ListByDoctor returns the doctor's prescriptions, newest update first.
	ListByDoctor(ctx context.Context, doctorID string) ([]prescription.Prescription, error)
	// ListByPatient returns the patient's prescriptions, newest update first.
	ListByPatient(ctx context.Context, patientDisplayID string) ([]prescription.Prescription, error)
	// ListOpenDeliveries returns prescriptions with logistics acceptance
	// recorded but delivery not yet confirmed: the escalation engine's
	// candidate set.
	ListOpenDeliveries(ctx context.Context) ([]prescription.Prescription, error)
}

// Watcher is the store's reactive subscription: updates are pushed as
// documents change. The channel closes when ctx is cancelled.
type Watcher interface {
	Watch(ctx context.Context) (<-chan ChangeEvent, error)
}

// NotificationStore persists notification documents.
type NotificationStore interface {
	// InsertIfAbsent creates the notification unless a document with the
	// same dedup key already exists. Returns false when skipped.
	InsertIfAbsent(ctx context.Context, n *notification.Notification) (bool, error)
	// ListByRecipient returns every notification addressed to one
	// recipient, newest first.
	ListByRecipient(ctx context.Context, role notification.Role, targetID string) ([]notification.Notification, error)
	// MarkRead sets read=true on every listed document in one batch.
	MarkRead(ctx context.Context, ids []string) error
}

// Directory resolves a locally-held external identifier to the matching
// document id inside a role's collection. The collections are keyed by
// external id, so this is a reverse lookup.
type Directory interface {
	Resolve(ctx context.Context, role notification.Role, externalID string) (string, error)
}
