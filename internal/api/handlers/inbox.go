package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/domain/notification"
	"github.com/medledger/rxtrack/internal/inbox"
	"github.com/medledger/rxtrack/internal/session"
	"github.com/medledger/rxtrack/internal/store"
)

// InboxHandler serves a recipient's merged notification inbox.
// Notifications are addressed to directory document ids, so the acting
// party's external identifier is resolved through the directory first.
type InboxHandler struct {
	inbox     *inbox.Service
	directory store.Directory
	logger    *zap.Logger
}

// NewInboxHandler creates a new handler
func NewInboxHandler(svc *inbox.Service, directory store.Directory, logger *zap.Logger) *InboxHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxHandler{inbox: svc, directory: directory, logger: logger}
}

// Routes returns the handler routes
func (h *InboxHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/{group}/read", h.MarkRead)
	return r
}

// List handles GET /inbox for the acting party.
func (h *InboxHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := session.FromContext(ctx)
	if !ok {
		jsonError(w, "missing session", http.StatusUnauthorized)
		return
	}

	role, err := recipientRole(sess)
	if err != nil {
		jsonError(w, err.Error(), http.StatusForbidden)
		return
	}

	targetID, err := h.resolveTarget(ctx, role, sess)
	if err != nil {
		if errors.Is(err, store.ErrRecipientNotFound) {
			// Nothing can be addressed to an unregistered recipient.
			writeJSON(w, http.StatusOK, []notification.Group{})
			return
		}
		h.logger.Error("inbox target resolution failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	groups, err := h.inbox.List(ctx, role, targetID)
	if err != nil {
		h.logger.Error("inbox list failed",
			zap.String("role", string(role)),
			zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if groups == nil {
		groups = []notification.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

// MarkRead handles POST /inbox/{group}/read.
func (h *InboxHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := session.FromContext(ctx)
	if !ok {
		jsonError(w, "missing session", http.StatusUnauthorized)
		return
	}

	role, err := recipientRole(sess)
	if err != nil {
		jsonError(w, err.Error(), http.StatusForbidden)
		return
	}

	targetID, err := h.resolveTarget(ctx, role, sess)
	if err != nil {
		jsonError(w, "notification group not found", http.StatusNotFound)
		return
	}

	groupKey := chi.URLParam(r, "group")
	if err := h.inbox.MarkRead(ctx, role, targetID, groupKey); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// resolveTarget maps the session to the directory document id its
// notifications are addressed to. Logistics reminders are keyed by the
// courier wallet, the others by the actor id.
func (h *InboxHandler) resolveTarget(ctx context.Context, role notification.Role, sess session.Session) (string, error) {
	externalID := sess.ActorID
	if role == notification.RoleLogistics && sess.Wallet != "" {
		externalID = sess.Wallet
	}
	return h.directory.Resolve(ctx, role, externalID)
}

// recipientRole maps a session role to the notification recipient role.
// Doctors receive no escalation notifications.
func recipientRole(sess session.Session) (notification.Role, error) {
	switch sess.Role {
	case session.RolePharmacy:
		return notification.RolePharmacy, nil
	case session.RoleLogistics:
		return notification.RoleLogistics, nil
	case session.RolePatient:
		return notification.RolePatient, nil
	}
	return "", errNoInbox
}

var errNoInbox = errors.New("no inbox for this role")
