package escalation

import (
	"fmt"
	"time"

	"github.com/medledger/rxtrack/internal/domain/notification"
	"github.com/medledger/rxtrack/internal/domain/prescription"
)

// Rule declares one overdue threshold: how long after logistics
// acceptance it fires, and which party it reminds.
type Rule struct {
	Type  notification.Type
	Role  notification.Role
	After time.Duration
	Title string
}

// DefaultRules are the delivery overdue thresholds. The rules are
// independent: the 48h reminder fires whether or not the 24h one did.
var DefaultRules = []Rule{
	{
		Type:  notification.TypeDeliveryOverdue24h,
		Role:  notification.RoleLogistics,
		After: 24 * time.Hour,
		Title: "Delivery overdue",
	},
	{
		Type:  notification.TypeDeliveryOverdue48h,
		Role:  notification.RolePharmacy,
		After: 48 * time.Hour,
		Title: "Delivery still pending after 48 hours",
	},
}

// Candidate is one notification a prescription is due, before recipient
// resolution.
type Candidate struct {
	Rule Rule
	// RecipientExternalID is the identifier resolved through the
	// directory: the courier wallet for logistics, the pharmacy id for
	// pharmacy reminders.
	RecipientExternalID string
	PrescriptionID      string
	Message             string
}

// Evaluate returns the candidates a prescription is due at the given
// instant. Pure function of (document, clock): thresholds use elapsed
// >= duration, so a prescription at exactly the threshold fires.
func Evaluate(rx *prescription.Prescription, now time.Time, rules []Rule) []Candidate {
	if rx.DeliveryConfirmed || rx.LogisticsAcceptedAt == nil {
		return nil
	}

	var due []Candidate
	elapsed := now.Sub(*rx.LogisticsAcceptedAt)
	for _, rule := range rules {
		if elapsed < rule.After {
			continue
		}

		var recipient string
		switch rule.Role {
		case notification.RoleLogistics:
			recipient = rx.CourierWallet
		case notification.RolePharmacy:
			recipient = rx.PharmacyID
		}

		due = append(due, Candidate{
			Rule:                rule,
			RecipientExternalID: recipient,
			PrescriptionID:      rx.ID,
			Message: fmt.Sprintf("Prescription %s for %s was accepted for delivery %s ago and is not yet confirmed delivered.",
				rx.ID, rx.PatientDisplayID, elapsed.Truncate(time.Minute)),
		})
	}
	return due
}
