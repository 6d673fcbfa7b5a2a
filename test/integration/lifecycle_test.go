// Package integration exercises the full sensitive-path lifecycle:
// prescribe, anchor, dispense, hand off, deliver, with escalation
// reminders materializing and being read along the way.
package integration

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/domain/notification"
	"github.com/medledger/rxtrack/internal/domain/prescription"
	"github.com/medledger/rxtrack/internal/escalation"
	"github.com/medledger/rxtrack/internal/inbox"
	"github.com/medledger/rxtrack/internal/session"
	"github.com/medledger/rxtrack/internal/store/memory"
)

type stubAnchor struct{ block int64 }

func (a *stubAnchor) Accept(ctx context.Context, onchainID int64) (prescription.Receipt, error) {
	a.block++
	return prescription.Receipt{TxHash: "0xaccept", BlockNumber: a.block}, nil
}

func (a *stubAnchor) ConfirmDelivery(ctx context.Context, onchainID int64) (prescription.Receipt, error) {
	a.block++
	return prescription.Receipt{TxHash: "0xdeliver", BlockNumber: a.block}, nil
}

func TestSensitiveDeliveryLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()
	logger := zap.NewNop()

	st := memory.New()
	st.Register(notification.RoleLogistics, "0xcourier", "courier-doc")
	st.Register(notification.RolePharmacy, "central-pharmacy", "pharmacy-doc")

	machine := prescription.NewMachine(st, &stubAnchor{}, logger).WithClock(clock)
	engine, err := escalation.NewEngine(st, st, st, nil, time.Minute, logger)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	engine.WithClock(clock)
	inboxes, err := inbox.NewService(st, nil, logger)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	doctor := session.Session{Role: session.RoleDoctor, ActorID: "doc-1"}
	pharmacy := session.Session{Role: session.RolePharmacy, ActorID: "central-pharmacy"}
	logistics := session.Session{Role: session.RoleLogistics, ActorID: "lg-1", Wallet: "0xcourier"}

	rx, err := machine.Create(ctx, doctor, prescription.CreateInput{
		PatientDisplayID: "pat-1",
		MedicationName:   "insulin glargine",
		Dosage:           "10 units",
		Sensitivity:      prescription.Sensitive,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := machine.AssignAnchor(ctx, doctor, rx.ID, 42); err != nil {
		t.Fatalf("AssignAnchor() error = %v", err)
	}
	if _, err := machine.Dispense(ctx, pharmacy, rx.ID); err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	if _, err := machine.AcceptDelivery(ctx, pharmacy, rx.ID); err != nil {
		t.Fatalf("AcceptDelivery() error = %v", err)
	}
	if _, err := machine.LogisticsAccept(ctx, logistics, rx.ID, "0xcourier"); err != nil {
		t.Fatalf("LogisticsAccept() error = %v", err)
	}

	// 25 hours later only the courier reminder is due.
	now = now.Add(25 * time.Hour)
	if err := engine.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	courierInbox, err := inboxes.List(ctx, notification.RoleLogistics, "courier-doc")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(courierInbox) != 1 || courierInbox[0].Type != notification.TypeDeliveryOverdue24h {
		t.Fatalf("courier inbox = %+v, want one 24h reminder", courierInbox)
	}
	pharmacyInbox, _ := inboxes.List(ctx, notification.RolePharmacy, "pharmacy-doc")
	if len(pharmacyInbox) != 0 {
		t.Fatalf("pharmacy inbox = %+v, want empty before 48h", pharmacyInbox)
	}

	// The courier reads the reminder; it stays read on refresh.
	if err := inboxes.MarkRead(ctx, notification.RoleLogistics, "courier-doc", courierInbox[0].Key); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	courierInbox, _ = inboxes.List(ctx, notification.RoleLogistics, "courier-doc")
	if !courierInbox[0].Read {
		t.Fatalf("courier reminder resurfaced unread")
	}

	// Another day passes: the pharmacy reminder fires, the courier one
	// does not duplicate.
	now = now.Add(24 * time.Hour)
	if err := engine.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	courierInbox, _ = inboxes.List(ctx, notification.RoleLogistics, "courier-doc")
	if len(courierInbox) != 1 {
		t.Fatalf("courier inbox = %d groups, want 1 after repeated sweeps", len(courierInbox))
	}
	pharmacyInbox, _ = inboxes.List(ctx, notification.RolePharmacy, "pharmacy-doc")
	if len(pharmacyInbox) != 1 || pharmacyInbox[0].Type != notification.TypeDeliveryOverdue48h {
		t.Fatalf("pharmacy inbox = %+v, want one 48h reminder", pharmacyInbox)
	}

	// Delivery completes; later sweeps stay quiet.
	final, err := machine.ConfirmDelivery(ctx, logistics, rx.ID)
	if err != nil {
		t.Fatalf("ConfirmDelivery() error = %v", err)
	}
	if status, _ := final.Status(); status != prescription.StatusDelivered {
		t.Fatalf("status = %s, want %s", status, prescription.StatusDelivered)
	}

	now = now.Add(72 * time.Hour)
	if err := engine.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() after delivery error = %v", err)
	}
	courierInbox, _ = inboxes.List(ctx, notification.RoleLogistics, "courier-doc")
	pharmacyInbox, _ = inboxes.List(ctx, notification.RolePharmacy, "pharmacy-doc")
	if len(courierInbox) != 1 || len(pharmacyInbox) != 1 {
		t.Fatalf("sweep after delivery created reminders: courier %d, pharmacy %d",
			len(courierInbox), len(pharmacyInbox))
	}
}

func TestPickupLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.New()
	machine := prescription.NewMachine(st, &stubAnchor{}, zap.NewNop())

	doctor := session.Session{Role: session.RoleDoctor, ActorID: "doc-1"}
	pharmacy := session.Session{Role: session.RolePharmacy, ActorID: "central-pharmacy"}

	rx, err := machine.Create(ctx, doctor, prescription.CreateInput{
		PatientDisplayID: "pat-2",
		MedicationName:   "amoxicillin",
		Sensitivity:      prescription.NonSensitive,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// No ledger anchor needed on the pickup path.
	dispensed, err := machine.Dispense(ctx, pharmacy, rx.ID)
	if err != nil {
		t.Fatalf("Dispense() error = %v", err)
	}
	if !dispensed.Terminal() {
		t.Fatalf("pickup dispense should be terminal")
	}
	if _, err := machine.AcceptDelivery(ctx, pharmacy, rx.ID); err == nil {
		t.Fatalf("AcceptDelivery() on pickup path did not fail")
	}
}
