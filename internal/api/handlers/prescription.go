// Package handlers provides HTTP handlers for the prescription API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/api/middleware"
	"github.com/medledger/rxtrack/internal/domain/prescription"
	"github.com/medledger/rxtrack/internal/observability/metrics"
	"github.com/medledger/rxtrack/internal/session"
	"github.com/medledger/rxtrack/internal/store"
)

// PrescriptionHandler handles prescription lifecycle endpoints.
type PrescriptionHandler struct {
	machine *prescription.Machine
	store   store.PrescriptionStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewPrescriptionHandler creates a new handler
func NewPrescriptionHandler(machine *prescription.Machine, st store.PrescriptionStore, m *metrics.Metrics, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{
		machine: machine,
		store:   st,
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/anchor", h.AssignAnchor)
	r.Post("/{id}/dispense", h.Dispense)
	r.Post("/{id}/accept-delivery", h.AcceptDelivery)
	r.Post("/{id}/logistics-accept", h.LogisticsAccept)
	r.Post("/{id}/confirm-delivery", h.ConfirmDelivery)
	return r
}

// CreateRequest is the request body for creating a prescription
type CreateRequest struct {
	PatientDisplayID string `json:"patient_display_id"`
	MedicationName   string `json:"medication_name"`
	Dosage           string `json:"dosage,omitempty"`
	Sensitivity      string `json:"sensitivity"`
}

// prescriptionView is the wire shape of a prescription, the stored
// document plus its derived status.
type prescriptionView struct {
	*prescription.Prescription
	Status prescription.Status `json:"status"`
}

func viewOf(rx *prescription.Prescription) prescriptionView {
	status, err := rx.Status()
	if err != nil {
		// Invalid flag combinations are rejected on write, so a stored
		// document always derives. Surface the raw flags regardless.
		status = ""
	}
	return prescriptionView{Prescription: rx, Status: status}
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("prescription-handler")
	ctx, span := tracer.Start(ctx, "create_prescription")
	defer span.End()

	sess, ok := session.FromContext(ctx)
	if !ok {
		jsonError(w, "missing session", http.StatusUnauthorized)
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sensitivity, err := prescription.ParseSensitivity(req.Sensitivity)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rx, err := h.machine.Create(ctx, sess, prescription.CreateInput{
		PatientDisplayID: req.PatientDisplayID,
		MedicationName:   req.MedicationName,
		Dosage:           req.Dosage,
		Sensitivity:      sensitivity,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("prescription_id", rx.ID))

	h.logger.Info("prescription created via api",
		zap.String("id", rx.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusCreated, viewOf(rx))
}

// List handles GET /prescriptions, scoped to the acting party.
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := session.FromContext(ctx)
	if !ok {
		jsonError(w, "missing session", http.StatusUnauthorized)
		return
	}

	var (
		items []prescription.Prescription
		err   error
	)
	switch sess.Role {
	case session.RoleDoctor:
		items, err = h.store.ListByDoctor(ctx, sess.ActorID)
	case session.RolePatient:
		items, err = h.store.ListByPatient(ctx, sess.ActorID)
	default:
		jsonError(w, "listing is available to doctor and patient sessions", http.StatusForbidden)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]prescriptionView, 0, len(items))
	for i := range items {
		views = append(views, viewOf(&items[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rx, err := h.store.Get(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(rx))
}

// AnchorRequest carries the on-chain id assigned by the ledger.
type AnchorRequest struct {
	OnchainID int64 `json:"onchain_id"`
}

// AssignAnchor handles POST /prescriptions/{id}/anchor
func (h *PrescriptionHandler) AssignAnchor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := session.FromContext(ctx)
	if !ok {
		jsonError(w, "missing session", http.StatusUnauthorized)
		return
	}

	var req AnchorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rx, err := h.machine.AssignAnchor(ctx, sess, chi.URLParam(r, "id"), req.OnchainID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rx))
}

// Dispense handles POST /prescriptions/{id}/dispense
func (h *PrescriptionHandler) Dispense(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "dispense", func(sess session.Session, id string) (*prescription.Prescription, error) {
		return h.machine.Dispense(r.Context(), sess, id)
	})
}

// AcceptDelivery handles POST /prescriptions/{id}/accept-delivery
func (h *PrescriptionHandler) AcceptDelivery(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "accept_delivery", func(sess session.Session, id string) (*prescription.Prescription, error) {
		return h.machine.AcceptDelivery(r.Context(), sess, id)
	})
}

// LogisticsAcceptRequest carries the courier assignment.
type LogisticsAcceptRequest struct {
	CourierWallet string `json:"courier_wallet"`
}

// LogisticsAccept handles POST /prescriptions/{id}/logistics-accept
func (h *PrescriptionHandler) LogisticsAccept(w http.ResponseWriter, r *http.Request) {
	var req LogisticsAcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.transition(w, r, "logistics_accept", func(sess session.Session, id string) (*prescription.Prescription, error) {
		return h.machine.LogisticsAccept(r.Context(), sess, id, req.CourierWallet)
	})
}

// ConfirmDelivery handles POST /prescriptions/{id}/confirm-delivery
func (h *PrescriptionHandler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "confirm_delivery", func(sess session.Session, id string) (*prescription.Prescription, error) {
		return h.machine.ConfirmDelivery(r.Context(), sess, id)
	})
}

func (h *PrescriptionHandler) transition(w http.ResponseWriter, r *http.Request, name string, fn func(session.Session, string) (*prescription.Prescription, error)) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		jsonError(w, "missing session", http.StatusUnauthorized)
		return
	}

	rx, err := fn(sess, chi.URLParam(r, "id"))
	if err != nil {
		if h.metrics != nil {
			h.metrics.TransitionsFailed.WithLabelValues(name, reasonOf(err)).Inc()
		}
		h.writeError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TransitionsTotal.WithLabelValues(name).Inc()
	}
	writeJSON(w, http.StatusOK, viewOf(rx))
}

// reasonOf buckets transition failures for the failure counter.
func reasonOf(err error) string {
	switch {
	case errors.Is(err, prescription.ErrNotFound):
		return "not_found"
	case errors.Is(err, prescription.ErrWrongParty):
		return "wrong_party"
	case errors.Is(err, prescription.ErrValidation):
		return "validation"
	case errors.Is(err, prescription.ErrMissingLedgerAnchor):
		return "missing_anchor"
	case errors.Is(err, prescription.ErrPrecondition), errors.Is(err, prescription.ErrInvalidState):
		return "precondition"
	case errors.Is(err, prescription.ErrLedgerRejected):
		return "ledger_rejected"
	default:
		return "internal"
	}
}

// writeError maps domain failures to HTTP statuses.
func (h *PrescriptionHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, prescription.ErrNotFound):
		jsonError(w, "prescription not found", http.StatusNotFound)
	case errors.Is(err, prescription.ErrWrongParty):
		jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, prescription.ErrValidation):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, prescription.ErrPrecondition),
		errors.Is(err, prescription.ErrInvalidState),
		errors.Is(err, prescription.ErrMissingLedgerAnchor):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, prescription.ErrLedgerRejected):
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
