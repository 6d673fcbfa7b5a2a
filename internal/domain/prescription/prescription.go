// Package prescription defines the prescription document and the
// lifecycle state machine coordinating prescriber, pharmacy, logistics
// and patient sessions.
package prescription

import (
	"fmt"
	"strings"
	"time"
)

// Sensitivity classifies whether a prescription takes the delivery path
// (ledger-anchored) or the direct pickup path.
type Sensitivity string

const (
	Sensitive    Sensitivity = "SENSITIVE"
	NonSensitive Sensitivity = "NON_SENSITIVE"
)

func (s Sensitivity) String() string { return string(s) }

func (s Sensitivity) IsValid() bool {
	return s == Sensitive || s == NonSensitive
}

// ParseSensitivity parses a sensitivity label, case-insensitively.
func ParseSensitivity(v string) (Sensitivity, error) {
	s := Sensitivity(strings.ToUpper(strings.TrimSpace(v)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: invalid sensitivity %q", ErrValidation, v)
	}
	return s, nil
}

// Status is the derived lifecycle state. The stored representation is
// the ordered boolean flags; Status is computed from them so invalid
// combinations are impossible to act on.
type Status string

const (
	StatusDraft               Status = "DRAFT"
	StatusDispensed           Status = "DISPENSED"
	StatusAcceptedForDelivery Status = "ACCEPTED_FOR_DELIVERY"
	StatusLogisticsAccepted   Status = "LOGISTICS_ACCEPTED"
	StatusDelivered           Status = "DELIVERED"
)

func (s Status) String() string { return string(s) }

// Receipt is the on-chain confirmation returned by the ledger anchor.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
}

// Prescription is the shared document each party's session observes and
// advances. Flags are monotonic: once true they are never reset.
type Prescription struct {
	ID          string      `json:"id"`
	OnchainID   *int64      `json:"onchain_id,omitempty"`
	Sensitivity Sensitivity `json:"sensitivity"`

	DoctorID         string `json:"doctor_id"`
	PatientDisplayID string `json:"patient_display_id"`
	// PharmacyID is the dispensing pharmacy's external id, set on
	// dispense; the 48h escalation is addressed through it.
	PharmacyID    string `json:"pharmacy_id,omitempty"`
	CourierWallet string `json:"courier_wallet,omitempty"`

	MedicationName string `json:"medication_name"`
	Dosage         string `json:"dosage,omitempty"`

	Dispensed         bool `json:"dispensed"`
	AcceptDelivery    bool `json:"accept_delivery"`
	LogisticsAccepted bool `json:"logistics_accepted"`
	DeliveryConfirmed bool `json:"delivery_confirmed"`

	DispensedAt         *time.Time `json:"dispensed_at,omitempty"`
	AcceptDeliveryAt    *time.Time `json:"accept_delivery_at,omitempty"`
	LogisticsAcceptedAt *time.Time `json:"logistics_accepted_at,omitempty"`
	DeliveryConfirmedAt *time.Time `json:"delivery_confirmed_at,omitempty"`

	AcceptReceipt   *Receipt `json:"accept_receipt,omitempty"`
	DeliveryReceipt *Receipt `json:"delivery_receipt,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields required at creation.
func (p *Prescription) Validate() error {
	if p.DoctorID == "" {
		return fmt.Errorf("%w: doctor id is required", ErrValidation)
	}
	if p.PatientDisplayID == "" {
		return fmt.Errorf("%w: patient display id is required", ErrValidation)
	}
	if p.MedicationName == "" {
		return fmt.Errorf("%w: medication name is required", ErrValidation)
	}
	if !p.Sensitivity.IsValid() {
		return fmt.Errorf("%w: invalid sensitivity %q", ErrValidation, p.Sensitivity)
	}
	return nil
}

// Status derives the lifecycle state from the stored flags. A flag set
// without its predecessor yields ErrInvalidState.
func (p *Prescription) Status() (Status, error) {
	if p.DeliveryConfirmed && !p.LogisticsAccepted {
		return "", fmt.Errorf("%w: delivery confirmed without logistics acceptance", ErrInvalidState)
	}
	if p.LogisticsAccepted && !p.AcceptDelivery {
		return "", fmt.Errorf("%w: logistics accepted without delivery acceptance", ErrInvalidState)
	}
	if p.AcceptDelivery && !p.Dispensed {
		return "", fmt.Errorf("%w: delivery accepted without dispense", ErrInvalidState)
	}

	switch {
	case p.DeliveryConfirmed:
		return StatusDelivered, nil
	case p.LogisticsAccepted:
		return StatusLogisticsAccepted, nil
	case p.AcceptDelivery:
		return StatusAcceptedForDelivery, nil
	case p.Dispensed:
		return StatusDispensed, nil
	default:
		return StatusDraft, nil
	}
}

// Terminal reports whether no further transition applies: delivery has
// been confirmed, or a non-sensitive prescription has been dispensed
// for pickup.
func (p *Prescription) Terminal() bool {
	if p.DeliveryConfirmed {
		return true
	}
	return p.Sensitivity == NonSensitive && p.Dispensed
}

// transitions is the allowed predecessor for each target status.
var transitions = map[Status]Status{
	StatusDispensed:           StatusDraft,
	StatusAcceptedForDelivery: StatusDispensed,
	StatusLogisticsAccepted:   StatusAcceptedForDelivery,
	StatusDelivered:           StatusLogisticsAccepted,
}

// canTransition checks the transition table against the derived status.
// Terminal documents admit no transition: a delivered prescription, or a
// non-sensitive one already dispensed for pickup.
func (p *Prescription) canTransition(to Status) error {
	current, err := p.Status()
	if err != nil {
		return err
	}
	if p.Terminal() {
		return fmt.Errorf("%w: prescription is terminal at %s", ErrPrecondition, current)
	}
	from, ok := transitions[to]
	if !ok {
		return fmt.Errorf("%w: no transition to %s", ErrPrecondition, to)
	}
	if current != from {
		return fmt.Errorf("%w: %s requires %s, prescription is %s", ErrPrecondition, to, from, current)
	}
	return nil
}
