package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/api/middleware"
	"github.com/medledger/rxtrack/internal/domain/prescription"
	"github.com/medledger/rxtrack/internal/store/memory"
)

type stubAnchor struct{}

func (stubAnchor) Accept(ctx context.Context, onchainID int64) (prescription.Receipt, error) {
	return prescription.Receipt{TxHash: "0xaccept", BlockNumber: 1}, nil
}

func (stubAnchor) ConfirmDelivery(ctx context.Context, onchainID int64) (prescription.Receipt, error) {
	return prescription.Receipt{TxHash: "0xdeliver", BlockNumber: 2}, nil
}

func testRouter(t *testing.T) (chi.Router, *memory.Store) {
	t.Helper()
	st := memory.New()
	machine := prescription.NewMachine(st, stubAnchor{}, zap.NewNop())
	h := NewPrescriptionHandler(machine, st, nil, zap.NewNop())

	keys := map[string]string{
		"doc-key":  "DOCTOR:doc-1",
		"ph-key":   "PHARMACY:ph-1",
		"lg-key":   "LOGISTICS:lg-1:0xcourier",
		"pat-key":  "PATIENT:pat-1",
		"bad-key":  "JANITOR:j-1",
		"thin-key": "DOCTOR",
	}

	r := chi.NewRouter()
	r.Route("/prescriptions", func(r chi.Router) {
		r.Use(middleware.ActorAuth(keys))
		r.Mount("/", h.Routes())
	})
	return r, st
}

func do(t *testing.T, r chi.Router, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAuthRejections(t *testing.T) {
	t.Parallel()

	r, _ := testRouter(t)

	tests := []struct {
		name   string
		apiKey string
	}{
		{"missing key", ""},
		{"unknown key", "nope"},
		{"invalid role", "bad-key"},
		{"principal without actor id", "thin-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(t, r, http.MethodGet, "/prescriptions", tt.apiKey, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	r, _ := testRouter(t)

	rec := do(t, r, http.MethodPost, "/prescriptions", "doc-key", CreateRequest{
		PatientDisplayID: "pat-1",
		MedicationName:   "insulin glargine",
		Dosage:           "10 units",
		Sensitivity:      "sensitive",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeView(t, rec)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("create response has no id: %v", created)
	}
	if created["status"] != "DRAFT" {
		t.Fatalf("created status = %v, want DRAFT", created["status"])
	}

	// Sensitive dispense without an anchor conflicts.
	rec = do(t, r, http.MethodPost, "/prescriptions/"+id+"/dispense", "ph-key", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("anchorless dispense status = %d, want 409", rec.Code)
	}

	rec = do(t, r, http.MethodPost, "/prescriptions/"+id+"/anchor", "doc-key", AnchorRequest{OnchainID: 42})
	if rec.Code != http.StatusOK {
		t.Fatalf("anchor status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Only the pharmacy may dispense.
	rec = do(t, r, http.MethodPost, "/prescriptions/"+id+"/dispense", "lg-key", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("logistics dispense status = %d, want 403", rec.Code)
	}

	for _, step := range []struct {
		path   string
		apiKey string
		body   interface{}
	}{
		{"/dispense", "ph-key", nil},
		{"/accept-delivery", "ph-key", nil},
		{"/logistics-accept", "lg-key", LogisticsAcceptRequest{CourierWallet: "0xcourier"}},
		{"/confirm-delivery", "lg-key", nil},
	} {
		rec = do(t, r, http.MethodPost, "/prescriptions/"+id+step.path, step.apiKey, step.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, body %s", step.path, rec.Code, rec.Body.String())
		}
	}

	rec = do(t, r, http.MethodGet, "/prescriptions/"+id, "pat-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decodeView(t, rec); got["status"] != "DELIVERED" {
		t.Fatalf("final status = %v, want DELIVERED", got["status"])
	}

	// Repeating a completed transition conflicts.
	rec = do(t, r, http.MethodPost, "/prescriptions/"+id+"/confirm-delivery", "lg-key", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("repeated confirm status = %d, want 409", rec.Code)
	}
}

func TestListScoping(t *testing.T) {
	t.Parallel()

	r, _ := testRouter(t)

	rec := do(t, r, http.MethodPost, "/prescriptions", "doc-key", CreateRequest{
		PatientDisplayID: "pat-1",
		MedicationName:   "amoxicillin",
		Sensitivity:      "non_sensitive",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec = do(t, r, http.MethodGet, "/prescriptions", "doc-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("doctor list status = %d", rec.Code)
	}
	var views []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("doctor list = %d items, want 1", len(views))
	}

	rec = do(t, r, http.MethodGet, "/prescriptions", "pat-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("patient list status = %d", rec.Code)
	}

	// Pharmacy and logistics sessions have no list scope.
	rec = do(t, r, http.MethodGet, "/prescriptions", "ph-key", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pharmacy list status = %d, want 403", rec.Code)
	}
}

func TestGetUnknownPrescription(t *testing.T) {
	t.Parallel()

	r, _ := testRouter(t)
	rec := do(t, r, http.MethodGet, "/prescriptions/missing", "doc-key", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	r, _ := testRouter(t)

	rec := do(t, r, http.MethodPost, "/prescriptions", "doc-key", CreateRequest{
		PatientDisplayID: "pat-1",
		MedicationName:   "amoxicillin",
		Sensitivity:      "classified",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad sensitivity status = %d, want 400", rec.Code)
	}

	rec = do(t, r, http.MethodPost, "/prescriptions", "pat-key", CreateRequest{
		PatientDisplayID: "pat-1",
		MedicationName:   "amoxicillin",
		Sensitivity:      "sensitive",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("patient create status = %d, want 403", rec.Code)
	}
}
