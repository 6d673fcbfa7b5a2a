package notification

import (
	"testing"
	"time"
)

func TestDedupKey(t *testing.T) {
	t.Parallel()

	a := DedupKey(TypeDeliveryOverdue24h, RoleLogistics, "0xcourier", "RX-100")
	b := DedupKey(TypeDeliveryOverdue24h, RoleLogistics, "0xcourier", "RX-100")
	if a != b {
		t.Fatalf("same triple derived different keys: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("key length = %d, want 64 hex chars", len(a))
	}

	distinct := []string{
		DedupKey(TypeDeliveryOverdue48h, RoleLogistics, "0xcourier", "RX-100"),
		DedupKey(TypeDeliveryOverdue24h, RolePharmacy, "0xcourier", "RX-100"),
		DedupKey(TypeDeliveryOverdue24h, RoleLogistics, "0xother", "RX-100"),
		DedupKey(TypeDeliveryOverdue24h, RoleLogistics, "0xcourier", "RX-101"),
	}
	for i, k := range distinct {
		if k == a {
			t.Fatalf("variant %d collided with the base key", i)
		}
	}
}

func TestCorrelation(t *testing.T) {
	t.Parallel()

	n := Notification{PrescriptionDisplayID: "RX-100", OrderID: "ord-7"}
	if got := n.Correlation(); got != "RX-100" {
		t.Fatalf("Correlation() = %q, want display id RX-100", got)
	}

	n = Notification{OrderID: "ord-7"}
	if got := n.Correlation(); got != "ord-7" {
		t.Fatalf("Correlation() = %q, want ord-7", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Notification{
		ToRole:                RolePharmacy,
		ToTargetID:            "ph-1",
		PrescriptionDisplayID: "RX-100",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Notification)
	}{
		{"invalid role", func(n *Notification) { n.ToRole = "DOCTOR" }},
		{"missing target", func(n *Notification) { n.ToTargetID = "" }},
		{"missing correlation", func(n *Notification) { n.PrescriptionDisplayID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n := valid
			tt.mutate(&n)
			if err := n.Validate(); err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
		})
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	items := []Notification{
		{
			ID:                    "n-1",
			Type:                  TypeDeliveryOverdue24h,
			PrescriptionDisplayID: "RX-100",
			Title:                 "stale title",
			Message:               "stale message",
			Read:                  true,
			CreatedAt:             base,
		},
		{
			ID:                    "n-2",
			Type:                  TypeDeliveryOverdue24h,
			PrescriptionDisplayID: "RX-100",
			Title:                 "fresh title",
			Message:               "fresh message",
			Read:                  false,
			CreatedAt:             base.Add(time.Minute),
		},
		{
			ID:                    "n-3",
			Type:                  TypeDeliveryOverdue48h,
			PrescriptionDisplayID: "RX-100",
			Read:                  true,
			CreatedAt:             base.Add(2 * time.Minute),
		},
	}

	groups := Merge(items)
	if len(groups) != 2 {
		t.Fatalf("Merge() produced %d groups, want 2", len(groups))
	}

	// Newest group first.
	if groups[0].Type != TypeDeliveryOverdue48h {
		t.Fatalf("first group type = %s, want %s", groups[0].Type, TypeDeliveryOverdue48h)
	}
	if !groups[0].Read {
		t.Fatalf("single read member should yield a read group")
	}

	merged := groups[1]
	if len(merged.MemberIDs) != 2 {
		t.Fatalf("merged group has %d members, want 2", len(merged.MemberIDs))
	}
	if merged.Title != "fresh title" || merged.Message != "fresh message" {
		t.Fatalf("merged display fields = %q/%q, want newest member's", merged.Title, merged.Message)
	}
	if !merged.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("merged CreatedAt = %v, want newest member's", merged.CreatedAt)
	}
	if merged.Read {
		t.Fatalf("group with one unread member must be unread")
	}
}

func TestMergeEmpty(t *testing.T) {
	t.Parallel()

	if got := Merge(nil); len(got) != 0 {
		t.Fatalf("Merge(nil) = %v, want empty", got)
	}
}
