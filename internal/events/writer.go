package events

import (
	"time"

	"github.com/google/uuid"

	"shipline/internal/domain"
)

const (
	ShipmentCreated = "shipment.created"
	StatusChanged   = "status.changed"
	TaskUpdated     = "task.updated"
	FileAttached    = "file.attached"
	FileRemoved     = "file.removed"
	FileEmailed     = "file.emailed"
	RequestLinked   = "request.converted"
)

// Writer appends activity entries to a shipment's history.
type Writer struct {
	Now func() time.Time
	// NewID defaults to random UUIDs.
	NewID func() string
}

type EventPayload map[string]any

// Entry builds a history entry stamped with the writer's clock.
func (w Writer) Entry(evtType, description, actorID string, payload EventPayload) domain.HistoryEntry {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	newID := w.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	details := map[string]any{}
	for k, v := range payload {
		details[k] = v
	}
	if actorID != "" {
		details["actor"] = actorID
	}
	if len(details) == 0 {
		details = nil
	}
	return domain.HistoryEntry{
		ID:          newID(),
		Type:        evtType,
		Description: description,
		Timestamp:   now().UTC().Format(time.RFC3339),
		Details:     details,
	}
}

// Append adds an entry to s.History and returns it.
func (w Writer) Append(s *domain.Shipment, evtType, description, actorID string, payload EventPayload) domain.HistoryEntry {
	e := w.Entry(evtType, description, actorID, payload)
	s.History = append(s.History, e)
	return e
}
