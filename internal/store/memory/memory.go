// Package memory provides an in-memory record store used by tests and
// local runs. It mirrors the Postgres store's semantics: copy-on-read,
// dedup-keyed insert-if-absent, and change events pushed to watchers.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/medledger/rxtrack/internal/domain/notification"
	"github.com/medledger/rxtrack/internal/domain/prescription"
	"github.com/medledger/rxtrack/internal/store"
)

// Store is a thread-safe in-memory implementation of the record store
// interfaces plus the role directory.
type Store struct {
	mu            sync.RWMutex
	prescriptions map[string]prescription.Prescription
	notifications map[string]notification.Notification
	dedupKeys     map[string]string
	directory     map[notification.Role]map[string]string
	watchers      []chan store.ChangeEvent
}

// New creates an empty store.
func New() *Store {
	return &Store{
		prescriptions: make(map[string]prescription.Prescription),
		notifications: make(map[string]notification.Notification),
		dedupKeys:     make(map[string]string),
		directory:     make(map[notification.Role]map[string]string),
	}
}

// Get returns a copy of the prescription document.
func (s *Store) Get(ctx context.Context, id string) (*prescription.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rx, ok := s.prescriptions[id]
	if !ok {
		return nil, prescription.ErrNotFound
	}
	out := rx
	return &out, nil
}

// Create inserts a new prescription document.
func (s *Store) Create(ctx context.Context, rx *prescription.Prescription) error {
	s.mu.Lock()
	s.prescriptions[rx.ID] = *rx
	s.mu.Unlock()
	s.notify(rx)
	return nil
}

// Update replaces the prescription document and notifies watchers.
func (s *Store) Update(ctx context.Context, rx *prescription.Prescription) error {
	s.mu.Lock()
	if _, ok := s.prescriptions[rx.ID]; !ok {
		s.mu.Unlock()
		return prescription.ErrNotFound
	}
	s.prescriptions[rx.ID] = *rx
	s.mu.Unlock()
	s.notify(rx)
	return nil
}

// ListByDoctor returns the doctor's prescriptions, newest update first.
func (s *Store) ListByDoctor(ctx context.Context, doctorID string) ([]prescription.Prescription, error) {
	return s.list(func(rx *prescription.Prescription) bool { return rx.DoctorID == doctorID })
}

// ListByPatient returns the patient's prescriptions, newest update first.
func (s *Store) ListByPatient(ctx context.Context, patientDisplayID string) ([]prescription.Prescription, error) {
	return s.list(func(rx *prescription.Prescription) bool { return rx.PatientDisplayID == patientDisplayID })
}

// ListOpenDeliveries returns accepted-but-unconfirmed deliveries.
func (s *Store) ListOpenDeliveries(ctx context.Context) ([]prescription.Prescription, error) {
	return s.list(func(rx *prescription.Prescription) bool {
		return rx.LogisticsAccepted && !rx.DeliveryConfirmed
	})
}

func (s *Store) list(match func(*prescription.Prescription) bool) ([]prescription.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []prescription.Prescription
	for _, rx := range s.prescriptions {
		if match(&rx) {
			out = append(out, rx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Watch returns a channel receiving a change event per prescription
// write. The channel closes when ctx is cancelled.
func (s *Store) Watch(ctx context.Context) (<-chan store.ChangeEvent, error) {
	ch := make(chan store.ChangeEvent, 64)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *Store) notify(rx *prescription.Prescription) {
	status, err := rx.Status()
	if err != nil {
		status = ""
	}
	ev := store.ChangeEvent{
		PrescriptionID: rx.ID,
		Status:         string(status),
		OccurredAt:     rx.UpdatedAt,
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.watchers {
		select {
		case w <- ev:
		default:
		}
	}
}

// InsertIfAbsent creates the notification unless its dedup key exists.
func (s *Store) InsertIfAbsent(ctx context.Context, n *notification.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dedupKeys[n.DedupKey]; exists {
		return false, nil
	}
	s.notifications[n.ID] = *n
	s.dedupKeys[n.DedupKey] = n.ID
	return true, nil
}

// ListByRecipient returns the recipient's notifications, newest first.
func (s *Store) ListByRecipient(ctx context.Context, role notification.Role, targetID string) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []notification.Notification
	for _, n := range s.notifications {
		if n.ToRole == role && n.ToTargetID == targetID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkRead sets read on every listed notification.
func (s *Store) MarkRead(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		n, ok := s.notifications[id]
		if !ok {
			continue
		}
		n.Read = true
		s.notifications[id] = n
	}
	return nil
}

// AddNotification inserts a physical notification document directly,
// bypassing dedup. Lets tests model duplicates produced by racing
// sessions.
func (s *Store) AddNotification(n notification.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = n
}

// Register adds a directory entry mapping an external id to a document
// id within the role's collection.
func (s *Store) Register(role notification.Role, externalID, docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.directory[role] == nil {
		s.directory[role] = make(map[string]string)
	}
	s.directory[role][externalID] = docID
}

// Resolve performs the reverse lookup from external id to document id.
func (s *Store) Resolve(ctx context.Context, role notification.Role, externalID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.directory[role][externalID]; ok {
		return id, nil
	}
	return "", store.ErrRecipientNotFound
}
