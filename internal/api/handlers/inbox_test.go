package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/api/middleware"
	"github.com/medledger/rxtrack/internal/domain/notification"
	"github.com/medledger/rxtrack/internal/inbox"
	"github.com/medledger/rxtrack/internal/store/memory"
)

func inboxRouter(t *testing.T) (chi.Router, *memory.Store) {
	t.Helper()
	st := memory.New()
	svc, err := inbox.NewService(st, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	h := NewInboxHandler(svc, st, zap.NewNop())

	keys := map[string]string{
		"doc-key": "DOCTOR:doc-1",
		"lg-key":  "LOGISTICS:lg-1:0xcourier",
		"ph-key":  "PHARMACY:ph-1",
	}

	r := chi.NewRouter()
	r.Route("/inbox", func(r chi.Router) {
		r.Use(middleware.ActorAuth(keys))
		r.Mount("/", h.Routes())
	})
	return r, st
}

func TestInboxResolvesCourierWallet(t *testing.T) {
	t.Parallel()

	r, st := inboxRouter(t)
	st.Register(notification.RoleLogistics, "0xcourier", "courier-doc")
	st.AddNotification(notification.Notification{
		ID:                    "n-1",
		ToRole:                notification.RoleLogistics,
		ToTargetID:            "courier-doc",
		Type:                  notification.TypeDeliveryOverdue24h,
		Title:                 "Delivery overdue",
		PrescriptionDisplayID: "rx-1",
		CreatedAt:             time.Now(),
	})

	rec := do(t, r, http.MethodGet, "/inbox", "lg-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", rec.Code, rec.Body.String())
	}
	var groups []notification.Group
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(groups) != 1 || groups[0].Read {
		t.Fatalf("groups = %+v, want one unread group", groups)
	}

	rec = do(t, r, http.MethodPost, "/inbox/"+groups[0].Key+"/read", "lg-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, r, http.MethodGet, "/inbox", "lg-key", nil)
	groups = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(groups) != 1 || !groups[0].Read {
		t.Fatalf("groups after read = %+v, want one read group", groups)
	}
}

func TestInboxUnregisteredRecipientIsEmpty(t *testing.T) {
	t.Parallel()

	r, _ := inboxRouter(t)
	rec := do(t, r, http.MethodGet, "/inbox", "ph-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var groups []notification.Group
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("groups = %+v, want empty", groups)
	}
}

func TestInboxDoctorHasNone(t *testing.T) {
	t.Parallel()

	r, _ := inboxRouter(t)
	rec := do(t, r, http.MethodGet, "/inbox", "doc-key", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("doctor inbox status = %d, want 403", rec.Code)
	}
}
