// Package postgres implements the record store over PostgreSQL.
// Prescription writes, the outbox entry and the change notification
// share one transaction; cross-collection ordering with notifications
// is still best-effort, as the record-store contract allows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/domain/prescription"
	"github.com/medledger/rxtrack/internal/store"
	"github.com/medledger/rxtrack/internal/stream"
)

// changeChannel is the LISTEN/NOTIFY channel carrying change events.
const changeChannel = "prescription_changed"

// PrescriptionStore persists prescription documents.
type PrescriptionStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

// NewPrescriptionStore creates a store over the given pool.
func NewPrescriptionStore(pool *pgxpool.Pool, logger *zap.Logger) *PrescriptionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("prescription-store"),
	}
}

const prescriptionColumns = `
	id, onchain_id, sensitivity, doctor_id, patient_display_id, pharmacy_id,
	courier_wallet, medication_name, dosage,
	dispensed, accept_delivery, logistics_accepted, delivery_confirmed,
	dispensed_at, accept_delivery_at, logistics_accepted_at, delivery_confirmed_at,
	accept_tx_hash, accept_block, delivery_tx_hash, delivery_block,
	created_at, updated_at`

// Get retrieves one prescription by id.
func (s *PrescriptionStore) Get(ctx context.Context, id string) (*prescription.Prescription, error) {
	ctx, span := s.tracer.Start(ctx, "prescription_get",
		trace.WithAttributes(attribute.String("prescription_id", id)))
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT`+prescriptionColumns+` FROM prescriptions WHERE id = $1`, id)
	rx, err := scanPrescription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, prescription.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	return rx, nil
}

// Create inserts a new prescription document together with its outbox
// entry and change notification.
func (s *PrescriptionStore) Create(ctx context.Context, rx *prescription.Prescription) error {
	ctx, span := s.tracer.Start(ctx, "prescription_create",
		trace.WithAttributes(attribute.String("prescription_id", rx.ID)))
	defer span.End()

	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO prescriptions (`+prescriptionColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
			prescriptionArgs(rx)...)
		if err != nil {
			return fmt.Errorf("insert prescription: %w", err)
		}
		return s.recordChange(ctx, tx, rx, "PrescriptionCreated")
	})
}

// Update replaces the prescription document, records the outbox entry
// and notifies subscribed sessions, all in one transaction.
func (s *PrescriptionStore) Update(ctx context.Context, rx *prescription.Prescription) error {
	ctx, span := s.tracer.Start(ctx, "prescription_update",
		trace.WithAttributes(attribute.String("prescription_id", rx.ID)))
	defer span.End()

	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE prescriptions SET
				onchain_id = $2, sensitivity = $3, doctor_id = $4, patient_display_id = $5,
				pharmacy_id = $6, courier_wallet = $7, medication_name = $8, dosage = $9,
				dispensed = $10, accept_delivery = $11, logistics_accepted = $12, delivery_confirmed = $13,
				dispensed_at = $14, accept_delivery_at = $15, logistics_accepted_at = $16, delivery_confirmed_at = $17,
				accept_tx_hash = $18, accept_block = $19, delivery_tx_hash = $20, delivery_block = $21,
				created_at = $22, updated_at = $23
			WHERE id = $1`,
			prescriptionArgs(rx)...)
		if err != nil {
			return fmt.Errorf("update prescription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return prescription.ErrNotFound
		}
		return s.recordChange(ctx, tx, rx, "PrescriptionUpdated")
	})
}

// ListByDoctor returns the doctor's prescriptions, newest update first.
func (s *PrescriptionStore) ListByDoctor(ctx context.Context, doctorID string) ([]prescription.Prescription, error) {
	return s.query(ctx, `SELECT`+prescriptionColumns+`
		FROM prescriptions WHERE doctor_id = $1 ORDER BY updated_at DESC`, doctorID)
}

// ListByPatient returns the patient's prescriptions, newest update first.
func (s *PrescriptionStore) ListByPatient(ctx context.Context, patientDisplayID string) ([]prescription.Prescription, error) {
	return s.query(ctx, `SELECT`+prescriptionColumns+`
		FROM prescriptions WHERE patient_display_id = $1 ORDER BY updated_at DESC`, patientDisplayID)
}

// ListOpenDeliveries returns prescriptions accepted by logistics and
// not yet confirmed delivered.
func (s *PrescriptionStore) ListOpenDeliveries(ctx context.Context) ([]prescription.Prescription, error) {
	return s.query(ctx, `SELECT`+prescriptionColumns+`
		FROM prescriptions
		WHERE logistics_accepted AND NOT delivery_confirmed
		ORDER BY logistics_accepted_at ASC`)
}

func (s *PrescriptionStore) query(ctx context.Context, sql string, args ...any) ([]prescription.Prescription, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer rows.Close()

	var out []prescription.Prescription
	for rows.Next() {
		rx, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		out = append(out, *rx)
	}
	return out, rows.Err()
}

func (s *PrescriptionStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// recordChange writes the outbox entry and the LISTEN/NOTIFY payload for
// one document write, inside the caller's transaction.
func (s *PrescriptionStore) recordChange(ctx context.Context, tx pgx.Tx, rx *prescription.Prescription, eventType string) error {
	status, err := rx.Status()
	if err != nil {
		return err
	}

	ev := store.ChangeEvent{
		PrescriptionID: rx.ID,
		Status:         string(status),
		OccurredAt:     rx.UpdatedAt,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	if err := WriteOutboxEntry(ctx, tx, &OutboxEntry{
		AggregateID:  rx.ID,
		EventType:    eventType,
		Payload:      payload,
		Topic:        stream.TopicPrescriptionChanges,
		PartitionKey: rx.ID,
	}); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changeChannel, string(payload)); err != nil {
		return fmt.Errorf("notify change: %w", err)
	}
	return nil
}

func prescriptionArgs(rx *prescription.Prescription) []any {
	var acceptTx, deliveryTx *string
	var acceptBlock, deliveryBlock *int64
	if rx.AcceptReceipt != nil {
		acceptTx = &rx.AcceptReceipt.TxHash
		acceptBlock = &rx.AcceptReceipt.BlockNumber
	}
	if rx.DeliveryReceipt != nil {
		deliveryTx = &rx.DeliveryReceipt.TxHash
		deliveryBlock = &rx.DeliveryReceipt.BlockNumber
	}
	return []any{
		rx.ID, rx.OnchainID, rx.Sensitivity, rx.DoctorID, rx.PatientDisplayID,
		nilIfEmpty(rx.PharmacyID), nilIfEmpty(rx.CourierWallet), rx.MedicationName, nilIfEmpty(rx.Dosage),
		rx.Dispensed, rx.AcceptDelivery, rx.LogisticsAccepted, rx.DeliveryConfirmed,
		rx.DispensedAt, rx.AcceptDeliveryAt, rx.LogisticsAcceptedAt, rx.DeliveryConfirmedAt,
		acceptTx, acceptBlock, deliveryTx, deliveryBlock,
		rx.CreatedAt, rx.UpdatedAt,
	}
}

func scanPrescription(row pgx.Row) (*prescription.Prescription, error) {
	var rx prescription.Prescription
	var pharmacyID, courierWallet, dosage *string
	var acceptTx, deliveryTx *string
	var acceptBlock, deliveryBlock *int64

	err := row.Scan(
		&rx.ID, &rx.OnchainID, &rx.Sensitivity, &rx.DoctorID, &rx.PatientDisplayID,
		&pharmacyID, &courierWallet, &rx.MedicationName, &dosage,
		&rx.Dispensed, &rx.AcceptDelivery, &rx.LogisticsAccepted, &rx.DeliveryConfirmed,
		&rx.DispensedAt, &rx.AcceptDeliveryAt, &rx.LogisticsAcceptedAt, &rx.DeliveryConfirmedAt,
		&acceptTx, &acceptBlock, &deliveryTx, &deliveryBlock,
		&rx.CreatedAt, &rx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rx.PharmacyID = deref(pharmacyID)
	rx.CourierWallet = deref(courierWallet)
	rx.Dosage = deref(dosage)
	if acceptTx != nil {
		rx.AcceptReceipt = &prescription.Receipt{TxHash: *acceptTx, BlockNumber: derefInt(acceptBlock)}
	}
	if deliveryTx != nil {
		rx.DeliveryReceipt = &prescription.Receipt{TxHash: *deliveryTx, BlockNumber: derefInt(deliveryBlock)}
	}
	return &rx, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
