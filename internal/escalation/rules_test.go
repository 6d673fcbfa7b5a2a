package escalation

import (
	"testing"
	"time"

	"github.com/medledger/rxtrack/internal/domain/notification"
	"github.com/medledger/rxtrack/internal/domain/prescription"
)

func openDelivery(accepted time.Time) *prescription.Prescription {
	return &prescription.Prescription{
		ID:                  "rx-1",
		PatientDisplayID:    "pat-1",
		PharmacyID:          "ph-1",
		CourierWallet:       "0xcourier",
		Dispensed:           true,
		AcceptDelivery:      true,
		LogisticsAccepted:   true,
		LogisticsAcceptedAt: &accepted,
	}
}

func TestEvaluateThresholds(t *testing.T) {
	t.Parallel()

	accepted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		now       time.Time
		wantTypes []notification.Type
	}{
		{
			name: "just under 24h fires nothing",
			now:  accepted.Add(24*time.Hour - time.Minute),
		},
		{
			name:      "exactly 24h fires the logistics reminder",
			now:       accepted.Add(24 * time.Hour),
			wantTypes: []notification.Type{notification.TypeDeliveryOverdue24h},
		},
		{
			name:      "between thresholds fires only 24h",
			now:       accepted.Add(36 * time.Hour),
			wantTypes: []notification.Type{notification.TypeDeliveryOverdue24h},
		},
		{
			name: "past 48h both rules fire independently",
			now:  accepted.Add(49 * time.Hour),
			wantTypes: []notification.Type{
				notification.TypeDeliveryOverdue24h,
				notification.TypeDeliveryOverdue48h,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			due := Evaluate(openDelivery(accepted), tt.now, DefaultRules)
			if len(due) != len(tt.wantTypes) {
				t.Fatalf("Evaluate() returned %d candidates, want %d", len(due), len(tt.wantTypes))
			}
			for i, want := range tt.wantTypes {
				if due[i].Rule.Type != want {
					t.Fatalf("candidate %d type = %s, want %s", i, due[i].Rule.Type, want)
				}
			}
		})
	}
}

func TestEvaluateRecipientSelection(t *testing.T) {
	t.Parallel()

	accepted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	due := Evaluate(openDelivery(accepted), accepted.Add(50*time.Hour), DefaultRules)
	if len(due) != 2 {
		t.Fatalf("Evaluate() returned %d candidates, want 2", len(due))
	}
	if due[0].RecipientExternalID != "0xcourier" {
		t.Fatalf("24h recipient = %q, want courier wallet", due[0].RecipientExternalID)
	}
	if due[1].RecipientExternalID != "ph-1" {
		t.Fatalf("48h recipient = %q, want pharmacy id", due[1].RecipientExternalID)
	}
}

func TestEvaluateSkipsClosedAndUnaccepted(t *testing.T) {
	t.Parallel()

	accepted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := accepted.Add(72 * time.Hour)

	delivered := openDelivery(accepted)
	delivered.DeliveryConfirmed = true
	if due := Evaluate(delivered, now, DefaultRules); due != nil {
		t.Fatalf("Evaluate() on delivered prescription = %v, want nil", due)
	}

	unaccepted := openDelivery(accepted)
	unaccepted.LogisticsAcceptedAt = nil
	if due := Evaluate(unaccepted, now, DefaultRules); due != nil {
		t.Fatalf("Evaluate() without acceptance time = %v, want nil", due)
	}
}
