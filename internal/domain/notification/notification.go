// Package notification defines escalation notification documents, their
// deterministic deduplication key, and the merge of duplicate documents
// into one displayed item.
package notification

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Role addresses a notification to one party's inbox.
type Role string

const (
	RolePharmacy  Role = "PHARMACY"
	RoleLogistics Role = "LOGISTICS"
	RolePatient   Role = "PATIENT"
)

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool {
	switch r {
	case RolePharmacy, RoleLogistics, RolePatient:
		return true
	}
	return false
}

// ParseRole parses a recipient role, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid recipient role %q", s)
	}
	return r, nil
}

// Type classifies a notification.
type Type string

const (
	TypeDeliveryOverdue24h Type = "DELIVERY_OVERDUE_24H"
	TypeDeliveryOverdue48h Type = "DELIVERY_OVERDUE_48H"
)

func (t Type) String() string { return string(t) }

// Notification is one physical notification document. Concurrent
// sessions may materialize more than one document for the same logical
// event; the inbox merges them before display.
type Notification struct {
	ID string `json:"id"`
	// DedupKey is a stable hash of (type, recipient, correlation). The
	// store's insert-if-absent primitive is keyed on it, making creation
	// idempotent across concurrently running sessions.
	DedupKey string `json:"dedup_key"`

	ToRole     Role   `json:"to_role"`
	ToTargetID string `json:"to_target_id"`

	Type    Type   `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`

	// PrescriptionDisplayID and OrderID correlate the notification to a
	// prescription; at least one is present.
	PrescriptionDisplayID string `json:"prescription_display_id,omitempty"`
	OrderID               string `json:"order_id,omitempty"`

	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Correlation returns the identifier tying this notification to its
// prescription, preferring the human-facing display id.
func (n *Notification) Correlation() string {
	if n.PrescriptionDisplayID != "" {
		return n.PrescriptionDisplayID
	}
	return n.OrderID
}

// Validate checks the addressing and correlation requirements.
func (n *Notification) Validate() error {
	if !n.ToRole.IsValid() {
		return fmt.Errorf("invalid recipient role %q", n.ToRole)
	}
	if n.ToTargetID == "" {
		return fmt.Errorf("recipient target id is required")
	}
	if n.PrescriptionDisplayID == "" && n.OrderID == "" {
		return fmt.Errorf("notification requires a prescription or order correlation")
	}
	return nil
}

// DedupKey derives the deterministic identifier for one logical
// notification event. Any session computing the same (type, recipient,
// correlation) triple derives the same key.
func DedupKey(t Type, role Role, targetID, correlation string) string {
	h := sha256.Sum256([]byte(string(t) + "|" + string(role) + "|" + targetID + "|" + correlation))
	return hex.EncodeToString(h[:])
}
