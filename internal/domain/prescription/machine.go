package prescription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/session"
)

// Store is the record-store surface the machine mutates. Updates replace
// the whole document; each flag has exactly one writing party, so there
// is no field-level write contention.
type Store interface {
	Get(ctx context.Context, id string) (*Prescription, error)
	Create(ctx context.Context, rx *Prescription) error
	Update(ctx context.Context, rx *Prescription) error
}

// Anchor is the ledger contract consumed by ledger-gated transitions.
// Both calls block until on-chain confirmation.
type Anchor interface {
	Accept(ctx context.Context, onchainID int64) (Receipt, error)
	ConfirmDelivery(ctx context.Context, onchainID int64) (Receipt, error)
}

// Machine executes lifecycle transitions. Every ledger-gated transition
// is ledger-first, store-second: the store never claims a state the
// ledger did not confirm. The converse window (ledger confirmed, store
// write lost) is not reconciled here.
type Machine struct {
	store  Store
	anchor Anchor
	logger *zap.Logger
	now    func() time.Time
}

// NewMachine creates a transition machine over the given store and
// ledger anchor.
func NewMachine(store Store, anchor Anchor, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		store:  store,
		anchor: anchor,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the machine's clock. Used by tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// CreateInput carries the prescriber's creation fields.
type CreateInput struct {
	PatientDisplayID string
	MedicationName   string
	Dosage           string
	Sensitivity      Sensitivity
}

// Create records a new draft prescription for the acting doctor. All
// flags start false; the ledger anchor is assigned separately once the
// on-chain record confirms.
func (m *Machine) Create(ctx context.Context, sess session.Session, in CreateInput) (*Prescription, error) {
	if err := m.requireRole(sess, session.RoleDoctor); err != nil {
		return nil, err
	}

	now := m.now()
	rx := &Prescription{
		ID:               uuid.New().String(),
		Sensitivity:      in.Sensitivity,
		DoctorID:         sess.ActorID,
		PatientDisplayID: in.PatientDisplayID,
		MedicationName:   in.MedicationName,
		Dosage:           in.Dosage,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := rx.Validate(); err != nil {
		return nil, err
	}

	if err := m.store.Create(ctx, rx); err != nil {
		return nil, fmt.Errorf("create prescription: %w", err)
	}

	m.logger.Info("prescription created",
		zap.String("id", rx.ID),
		zap.String("doctor_id", rx.DoctorID),
		zap.String("sensitivity", rx.Sensitivity.String()))
	return rx, nil
}

// AssignAnchor records the on-chain id once the ledger accepts the
// prescription record. The anchor is assigned at most once.
func (m *Machine) AssignAnchor(ctx context.Context, sess session.Session, id string, onchainID int64) (*Prescription, error) {
	if err := m.requireRole(sess, session.RoleDoctor); err != nil {
		return nil, err
	}

	rx, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rx.OnchainID != nil {
		return nil, fmt.Errorf("%w: ledger anchor already assigned", ErrPrecondition)
	}

	rx.OnchainID = &onchainID
	rx.UpdatedAt = m.now()
	if err := m.store.Update(ctx, rx); err != nil {
		return nil, fmt.Errorf("assign anchor: %w", err)
	}

	m.logger.Info("ledger anchor assigned",
		zap.String("id", rx.ID),
		zap.Int64("onchain_id", onchainID))
	return rx, nil
}

// Dispense marks the prescription dispensed by the acting pharmacy.
// Sensitive prescriptions require a ledger anchor before dispensing;
// the pickup path does not touch the ledger.
func (m *Machine) Dispense(ctx context.Context, sess session.Session, id string) (*Prescription, error) {
	if err := m.requireRole(sess, session.RolePharmacy); err != nil {
		return nil, err
	}

	rx, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rx.canTransition(StatusDispensed); err != nil {
		return nil, err
	}
	if rx.Sensitivity == Sensitive && rx.OnchainID == nil {
		return nil, ErrMissingLedgerAnchor
	}

	now := m.now()
	rx.Dispensed = true
	rx.DispensedAt = &now
	rx.PharmacyID = sess.ActorID
	rx.UpdatedAt = now
	if err := m.store.Update(ctx, rx); err != nil {
		return nil, fmt.Errorf("dispense: %w", err)
	}

	m.logger.Info("prescription dispensed",
		zap.String("id", rx.ID),
		zap.String("pharmacy_id", sess.ActorID))
	return rx, nil
}

// AcceptDelivery marks the dispensing pharmacy's hand-off to delivery.
func (m *Machine) AcceptDelivery(ctx context.Context, sess session.Session, id string) (*Prescription, error) {
	if err := m.requireRole(sess, session.RolePharmacy); err != nil {
		return nil, err
	}

	rx, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rx.canTransition(StatusAcceptedForDelivery); err != nil {
		return nil, err
	}

	now := m.now()
	rx.AcceptDelivery = true
	rx.AcceptDeliveryAt = &now
	rx.UpdatedAt = now
	if err := m.store.Update(ctx, rx); err != nil {
		return nil, fmt.Errorf("accept delivery: %w", err)
	}

	m.logger.Info("delivery accepted by pharmacy", zap.String("id", rx.ID))
	return rx, nil
}

// LogisticsAccept assigns the courier and anchors the acceptance on the
// ledger. The ledger call blocks until confirmed; only on success is the
// store mutated. A rejected or failed transaction leaves the document
// untouched and the transition retryable.
func (m *Machine) LogisticsAccept(ctx context.Context, sess session.Session, id, courierWallet string) (*Prescription, error) {
	if err := m.requireRole(sess, session.RoleLogistics); err != nil {
		return nil, err
	}
	if courierWallet == "" {
		return nil, fmt.Errorf("%w: courier wallet is required", ErrValidation)
	}

	rx, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rx.canTransition(StatusLogisticsAccepted); err != nil {
		return nil, err
	}
	if rx.OnchainID == nil {
		return nil, ErrMissingLedgerAnchor
	}

	receipt, err := m.anchor.Accept(ctx, *rx.OnchainID)
	if err != nil {
		m.logger.Warn("ledger accept failed",
			zap.String("id", rx.ID),
			zap.Int64("onchain_id", *rx.OnchainID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrLedgerRejected, err)
	}

	now := m.now()
	rx.LogisticsAccepted = true
	rx.LogisticsAcceptedAt = &now
	rx.CourierWallet = courierWallet
	rx.AcceptReceipt = &receipt
	rx.UpdatedAt = now
	if err := m.store.Update(ctx, rx); err != nil {
		// Ledger confirmed but the store write failed: the documented
		// partial-commit window, left to a reconciliation pass.
		m.logger.Error("store write failed after ledger accept",
			zap.String("id", rx.ID),
			zap.String("tx_hash", receipt.TxHash),
			zap.Error(err))
		return nil, fmt.Errorf("logistics accept: %w", err)
	}

	m.logger.Info("logistics accepted",
		zap.String("id", rx.ID),
		zap.String("courier_wallet", courierWallet),
		zap.String("tx_hash", receipt.TxHash),
		zap.Int64("block", receipt.BlockNumber))
	return rx, nil
}

// ConfirmDelivery completes the lifecycle, anchored on the ledger with
// the same ledger-first discipline as LogisticsAccept.
func (m *Machine) ConfirmDelivery(ctx context.Context, sess session.Session, id string) (*Prescription, error) {
	if err := m.requireRole(sess, session.RoleLogistics); err != nil {
		return nil, err
	}

	rx, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rx.canTransition(StatusDelivered); err != nil {
		return nil, err
	}
	if rx.OnchainID == nil {
		return nil, ErrMissingLedgerAnchor
	}

	receipt, err := m.anchor.ConfirmDelivery(ctx, *rx.OnchainID)
	if err != nil {
		m.logger.Warn("ledger delivery confirmation failed",
			zap.String("id", rx.ID),
			zap.Int64("onchain_id", *rx.OnchainID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrLedgerRejected, err)
	}

	now := m.now()
	rx.DeliveryConfirmed = true
	rx.DeliveryConfirmedAt = &now
	rx.DeliveryReceipt = &receipt
	rx.UpdatedAt = now
	if err := m.store.Update(ctx, rx); err != nil {
		m.logger.Error("store write failed after ledger confirmation",
			zap.String("id", rx.ID),
			zap.String("tx_hash", receipt.TxHash),
			zap.Error(err))
		return nil, fmt.Errorf("confirm delivery: %w", err)
	}

	m.logger.Info("delivery confirmed",
		zap.String("id", rx.ID),
		zap.String("tx_hash", receipt.TxHash),
		zap.Int64("block", receipt.BlockNumber))
	return rx, nil
}

func (m *Machine) requireRole(sess session.Session, role session.Role) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrWrongParty, err)
	}
	if sess.Role != role {
		return fmt.Errorf("%w: %s acts as %s", ErrWrongParty, role, sess.Role)
	}
	return nil
}
