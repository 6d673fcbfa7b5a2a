package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/domain/notification"
	"github.com/medledger/rxtrack/internal/store"
	"github.com/medledger/rxtrack/internal/store/memory"
)

func newTestEngine(t *testing.T, st *memory.Store, now time.Time) *Engine {
	t.Helper()
	e, err := NewEngine(st, st, st, nil, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e.WithClock(func() time.Time { return now })
}

func seedOpenDelivery(t *testing.T, st *memory.Store, accepted time.Time) {
	t.Helper()
	if err := st.Create(context.Background(), openDelivery(accepted)); err != nil {
		t.Fatalf("seed prescription: %v", err)
	}
}

func TestNewEngineValidation(t *testing.T) {
	t.Parallel()

	st := memory.New()
	if _, err := NewEngine(nil, st, st, nil, time.Minute, nil); err == nil {
		t.Fatalf("NewEngine() with nil prescription store did not fail")
	}
	if _, err := NewEngine(st, nil, st, nil, time.Minute, nil); err == nil {
		t.Fatalf("NewEngine() with nil notification store did not fail")
	}
	if _, err := NewEngine(st, st, nil, nil, time.Minute, nil); err == nil {
		t.Fatalf("NewEngine() with nil directory did not fail")
	}
}

func TestSweepCreatesNotificationsOnce(t *testing.T) {
	t.Parallel()

	accepted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := memory.New()
	st.Register(notification.RoleLogistics, "0xcourier", "log-doc-1")
	st.Register(notification.RolePharmacy, "ph-1", "ph-doc-1")
	seedOpenDelivery(t, st, accepted)

	e := newTestEngine(t, st, accepted.Add(49*time.Hour))
	ctx := context.Background()

	if err := e.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	toCourier, err := st.ListByRecipient(ctx, notification.RoleLogistics, "log-doc-1")
	if err != nil {
		t.Fatalf("ListByRecipient() error = %v", err)
	}
	if len(toCourier) != 1 {
		t.Fatalf("courier notifications = %d, want 1", len(toCourier))
	}
	if toCourier[0].Type != notification.TypeDeliveryOverdue24h {
		t.Fatalf("courier notification type = %s, want %s",
			toCourier[0].Type, notification.TypeDeliveryOverdue24h)
	}

	toPharmacy, err := st.ListByRecipient(ctx, notification.RolePharmacy, "ph-doc-1")
	if err != nil {
		t.Fatalf("ListByRecipient() error = %v", err)
	}
	if len(toPharmacy) != 1 {
		t.Fatalf("pharmacy notifications = %d, want 1", len(toPharmacy))
	}

	// A second sweep at a later instant converges on the same documents.
	e.WithClock(func() time.Time { return accepted.Add(50 * time.Hour) })
	if err := e.Sweep(ctx); err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	toCourier, _ = st.ListByRecipient(ctx, notification.RoleLogistics, "log-doc-1")
	toPharmacy, _ = st.ListByRecipient(ctx, notification.RolePharmacy, "ph-doc-1")
	if len(toCourier) != 1 || len(toPharmacy) != 1 {
		t.Fatalf("second sweep duplicated notifications: courier %d, pharmacy %d",
			len(toCourier), len(toPharmacy))
	}
}

func TestSweepBeforeThreshold(t *testing.T) {
	t.Parallel()

	accepted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := memory.New()
	st.Register(notification.RoleLogistics, "0xcourier", "log-doc-1")
	seedOpenDelivery(t, st, accepted)

	e := newTestEngine(t, st, accepted.Add(12*time.Hour))
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	got, _ := st.ListByRecipient(context.Background(), notification.RoleLogistics, "log-doc-1")
	if len(got) != 0 {
		t.Fatalf("notifications before threshold = %d, want 0", len(got))
	}
}

func TestHandleChangeDirectoryMiss(t *testing.T) {
	t.Parallel()

	accepted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := memory.New()
	// Courier is registered, the pharmacy is not.
	st.Register(notification.RoleLogistics, "0xcourier", "log-doc-1")
	seedOpenDelivery(t, st, accepted)

	e := newTestEngine(t, st, accepted.Add(49*time.Hour))
	err := e.HandleChange(context.Background(), "rx-1")
	if !errors.Is(err, store.ErrRecipientNotFound) {
		t.Fatalf("HandleChange() error = %v, want ErrRecipientNotFound", err)
	}

	// The resolvable reminder was still delivered; the unresolvable one
	// was suppressed rather than written with a broken recipient.
	toCourier, _ := st.ListByRecipient(context.Background(), notification.RoleLogistics, "log-doc-1")
	if len(toCourier) != 1 {
		t.Fatalf("courier notifications = %d, want 1", len(toCourier))
	}
}

func TestRulesIndependentOfFailedLookup(t *testing.T) {
	t.Parallel()

	accepted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := memory.New()
	// The pharmacy is registered, the courier is not: the earlier 24h
	// candidate fails resolution, the 48h reminder must still land.
	st.Register(notification.RolePharmacy, "ph-1", "ph-doc-1")
	seedOpenDelivery(t, st, accepted)

	e := newTestEngine(t, st, accepted.Add(49*time.Hour))
	err := e.HandleChange(context.Background(), "rx-1")
	if !errors.Is(err, store.ErrRecipientNotFound) {
		t.Fatalf("HandleChange() error = %v, want ErrRecipientNotFound", err)
	}

	toPharmacy, _ := st.ListByRecipient(context.Background(), notification.RolePharmacy, "ph-doc-1")
	if len(toPharmacy) != 1 {
		t.Fatalf("pharmacy notifications = %d, want 1", len(toPharmacy))
	}
	if toPharmacy[0].Type != notification.TypeDeliveryOverdue48h {
		t.Fatalf("pharmacy notification type = %s, want %s",
			toPharmacy[0].Type, notification.TypeDeliveryOverdue48h)
	}

	// Sweeps behave the same way and stay idempotent.
	if err := e.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	toPharmacy, _ = st.ListByRecipient(context.Background(), notification.RolePharmacy, "ph-doc-1")
	if len(toPharmacy) != 1 {
		t.Fatalf("pharmacy notifications after sweep = %d, want 1", len(toPharmacy))
	}
}

func TestHandleChangeUnknownPrescription(t *testing.T) {
	t.Parallel()

	st := memory.New()
	e := newTestEngine(t, st, time.Now())
	if err := e.HandleChange(context.Background(), "missing"); err != nil {
		t.Fatalf("HandleChange() on unknown prescription error = %v, want nil", err)
	}
}
