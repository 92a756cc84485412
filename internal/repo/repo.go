package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shipline/internal/domain"
	"shipline/internal/events"
	"shipline/internal/logging"
	"shipline/internal/metrics"
	"shipline/internal/store"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrUnknownEntityKind = errors.New("unknown entity kind")

	// errUnchanged ends an update without saving and without reporting an error.
	errUnchanged = errors.New("unchanged")
)

// Document is the persistence contract the repository needs.
type Document interface {
	Load(ctx context.Context) (domain.Document, error)
	Save(ctx context.Context, doc domain.Document) error
}

// Repo runs every operation as load, mutate, save of the whole document.
// Calls on one Repo are serialised; separate processes sharing a backend are not.
type Repo struct {
	Store   Document
	// Events falls back to the repository clock when its own is unset.
	Events  events.Writer
	Logger  *zap.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time

	mu sync.Mutex
}

func New(docs Document, logger *zap.Logger) *Repo {
	return &Repo{
		Store:  docs,
		Logger: logging.OrNop(logger),
		Now:    time.Now,
	}
}

// NewFromSlots binds the repository to the default document slot.
func NewFromSlots(s store.Slots, logger *zap.Logger) *Repo {
	return New(store.NewDocumentStore(s), logger)
}

func (r *Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Repo) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

func (r *Repo) log() *zap.Logger {
	return logging.OrNop(r.Logger)
}

func (r *Repo) events() events.Writer {
	w := r.Events
	if w.Now == nil {
		w.Now = r.now
	}
	return w
}

// update loads the document, applies fn and saves only when fn succeeds.
func (r *Repo) update(ctx context.Context, op string, fn func(doc *domain.Document) error) (err error) {
	start := time.Now()
	defer func() { r.Metrics.ObserveOp(op, start, err) }()
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if err = fn(&doc); err != nil {
		if errors.Is(err, errUnchanged) {
			err = nil
		}
		return err
	}
	if err = r.Store.Save(ctx, doc); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (r *Repo) view(ctx context.Context, op string, fn func(doc domain.Document) error) (err error) {
	start := time.Now()
	defer func() { r.Metrics.ObserveOp(op, start, err) }()
	r.mu.Lock()
	doc, err := r.Store.Load(ctx)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	return fn(doc)
}

// Document returns a snapshot of the whole document.
func (r *Repo) Document(ctx context.Context) (domain.Document, error) {
	var out domain.Document
	err := r.view(ctx, "document", func(doc domain.Document) error {
		out = doc
		return nil
	})
	return out, err
}

// Seed replaces the stored document.
func (r *Repo) Seed(ctx context.Context, doc domain.Document) error {
	return r.update(ctx, "seed", func(d *domain.Document) error {
		doc.Normalize()
		*d = doc
		return nil
	})
}

// UnlinkedRef names an association on a new shipment that matched no directory entity.
type UnlinkedRef struct {
	Kind string `json:"kind" enum:"agent,horse,owner"`
	Ref  string `json:"ref"`
}

type AddShipmentResult struct {
	Shipment domain.Shipment `json:"shipment"`
	Unlinked []UnlinkedRef   `json:"unlinked,omitempty"`
}

// AddShipment appends s and back-links the horse, owner and agents it names. Links
// resolve by id when one is given, otherwise by first exact name match; misses are
// reported in the result rather than failing the call.
func (r *Repo) AddShipment(ctx context.Context, s domain.Shipment) (AddShipmentResult, error) {
	if strings.TrimSpace(s.ID) == "" {
		return AddShipmentResult{}, domain.Invalidf("shipment id is required")
	}
	var res AddShipmentResult
	err := r.update(ctx, "add_shipment", func(doc *domain.Document) error {
		if doc.ShipmentIndex(s.ID) >= 0 {
			return fmt.Errorf("shipment %s: %w", s.ID, ErrConflict)
		}
		if s.CreatedAt == "" {
			s.CreatedAt = r.timestamp()
		}
		doc.Shipments = append(doc.Shipments, s)

		var unlinked []UnlinkedRef
		if s.HorseID != "" || s.HorseName != "" {
			if i := findHorse(doc.Horses, s.HorseID, s.HorseName); i >= 0 {
				doc.Horses[i].ShipmentIDs = appendUnique(doc.Horses[i].ShipmentIDs, s.ID)
			} else {
				unlinked = append(unlinked, UnlinkedRef{Kind: "horse", Ref: firstNonEmpty(s.HorseID, s.HorseName)})
			}
		}
		if s.OwnerID != "" || s.OwnerName != "" {
			if i := findOwner(doc.Owners, s.OwnerID, s.OwnerName); i >= 0 {
				doc.Owners[i].ShipmentIDs = appendUnique(doc.Owners[i].ShipmentIDs, s.ID)
			} else {
				unlinked = append(unlinked, UnlinkedRef{Kind: "owner", Ref: firstNonEmpty(s.OwnerID, s.OwnerName)})
			}
		}
		for _, a := range s.Agents {
			if i := findAgent(doc.Agents, a.ID, a.Name); i >= 0 {
				doc.Agents[i].ShipmentIDs = appendUnique(doc.Agents[i].ShipmentIDs, s.ID)
			} else {
				unlinked = append(unlinked, UnlinkedRef{Kind: "agent", Ref: firstNonEmpty(a.ID, a.Name)})
			}
		}
		res = AddShipmentResult{Shipment: s, Unlinked: unlinked}
		return nil
	})
	if err != nil {
		return AddShipmentResult{}, err
	}
	for _, u := range res.Unlinked {
		r.log().Info("shipment association not linked",
			zap.String("shipment_id", s.ID),
			zap.String("kind", u.Kind),
			zap.String("ref", u.Ref))
	}
	return res, nil
}

func (r *Repo) GetShipments(ctx context.Context) ([]domain.Shipment, error) {
	var out []domain.Shipment
	err := r.view(ctx, "get_shipments", func(doc domain.Document) error {
		out = doc.Shipments
		return nil
	})
	return out, err
}

func (r *Repo) GetShipmentByID(ctx context.Context, id string) (domain.Shipment, error) {
	var out domain.Shipment
	err := r.view(ctx, "get_shipment", func(doc domain.Document) error {
		i := doc.ShipmentIndex(id)
		if i < 0 {
			return fmt.Errorf("shipment %s: %w", id, ErrNotFound)
		}
		out = doc.Shipments[i]
		return nil
	})
	return out, err
}

// GetShipmentsByDateAndType matches the date string exactly and the type case-insensitively.
func (r *Repo) GetShipmentsByDateAndType(ctx context.Context, date, shipmentType string) ([]domain.Shipment, error) {
	out := []domain.Shipment{}
	err := r.view(ctx, "get_shipments_by_date_type", func(doc domain.Document) error {
		for _, s := range doc.Shipments {
			if s.Date == date && strings.EqualFold(s.Type, shipmentType) {
				out = append(out, s)
			}
		}
		return nil
	})
	return out, err
}

// UpdateShipmentStatus sets the status and records the change in history.
func (r *Repo) UpdateShipmentStatus(ctx context.Context, id, status, actorID string) (domain.Shipment, error) {
	if !domain.ValidStatus(status) {
		return domain.Shipment{}, domain.Invalidf("unknown shipment status %q", status)
	}
	var out domain.Shipment
	err := r.update(ctx, "update_shipment_status", func(doc *domain.Document) error {
		i := doc.ShipmentIndex(id)
		if i < 0 {
			return fmt.Errorf("shipment %s: %w", id, ErrNotFound)
		}
		s := doc.Shipments[i]
		prev := s.Status
		s.Status = status
		s.UpdatedAt = r.timestamp()
		r.events().Append(&s, events.StatusChanged,
			fmt.Sprintf("Status changed from %s to %s", orDash(prev), status),
			actorID, events.EventPayload{"from": prev, "to": status})
		doc.Shipments[i] = s
		out = s
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		r.log().Warn("status update on missing shipment", zap.String("shipment_id", id))
	}
	return out, err
}

// AppendHistory adds one activity entry to a shipment.
func (r *Repo) AppendHistory(ctx context.Context, shipmentID, evtType, description, actorID string, payload events.EventPayload) (domain.HistoryEntry, error) {
	var out domain.HistoryEntry
	err := r.update(ctx, "append_history", func(doc *domain.Document) error {
		i := doc.ShipmentIndex(shipmentID)
		if i < 0 {
			return fmt.Errorf("shipment %s: %w", shipmentID, ErrNotFound)
		}
		s := doc.Shipments[i]
		out = r.events().Append(&s, evtType, description, actorID, payload)
		doc.Shipments[i] = s
		return nil
	})
	return out, err
}

// SendFileToEmails records a simulated send of a task file. It reports false
// when the shipment does not exist; nothing is transmitted here.
func (r *Repo) SendFileToEmails(ctx context.Context, shipmentID, taskID, fileName string, emails []string, actorID string) (bool, error) {
	found := false
	err := r.update(ctx, "send_file_to_emails", func(doc *domain.Document) error {
		i := doc.ShipmentIndex(shipmentID)
		if i < 0 {
			return fmt.Errorf("shipment %s: %w", shipmentID, ErrNotFound)
		}
		s := doc.Shipments[i]
		recipients := append([]string(nil), emails...)
		r.events().Append(&s, events.FileEmailed,
			fmt.Sprintf("File %s sent to %s", fileName, strings.Join(recipients, ", ")),
			actorID, events.EventPayload{"taskId": taskID, "fileName": fileName, "recipients": recipients})
		s.UpdatedAt = r.timestamp()
		doc.Shipments[i] = s
		found = true
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		r.log().Warn("file send on missing shipment", zap.String("shipment_id", shipmentID), zap.String("task_id", taskID))
		return false, nil
	}
	return found, err
}

// SaveShipmentRequest stores a customer request under a new id and returns the id.
func (r *Repo) SaveShipmentRequest(ctx context.Context, req domain.ShipmentRequest) (string, error) {
	req.ID = uuid.NewString()
	if req.Status == "" {
		req.Status = domain.RequestNew
	}
	if req.CreatedAt == "" {
		req.CreatedAt = r.timestamp()
	}
	err := r.update(ctx, "save_shipment_request", func(doc *domain.Document) error {
		doc.ShipmentRequests = append(doc.ShipmentRequests, req)
		return nil
	})
	if err != nil {
		return "", err
	}
	return req.ID, nil
}

func (r *Repo) ListShipmentRequests(ctx context.Context, status string) ([]domain.ShipmentRequest, error) {
	out := []domain.ShipmentRequest{}
	err := r.view(ctx, "list_shipment_requests", func(doc domain.Document) error {
		for _, req := range doc.ShipmentRequests {
			if status == "" || req.Status == status {
				out = append(out, req)
			}
		}
		return nil
	})
	return out, err
}

func (r *Repo) GetShipmentRequest(ctx context.Context, id string) (domain.ShipmentRequest, error) {
	var out domain.ShipmentRequest
	err := r.view(ctx, "get_shipment_request", func(doc domain.Document) error {
		for _, req := range doc.ShipmentRequests {
			if req.ID == id {
				out = req
				return nil
			}
		}
		return fmt.Errorf("shipment request %s: %w", id, ErrNotFound)
	})
	return out, err
}

// UpdateShipmentRequestStatus moves a request through review. shipmentID is kept
// only when non-empty.
func (r *Repo) UpdateShipmentRequestStatus(ctx context.Context, id, status, shipmentID string) (domain.ShipmentRequest, error) {
	if !domain.ValidRequestStatus(status) {
		return domain.ShipmentRequest{}, domain.Invalidf("unknown request status %q", status)
	}
	var out domain.ShipmentRequest
	err := r.update(ctx, "update_shipment_request", func(doc *domain.Document) error {
		for i := range doc.ShipmentRequests {
			if doc.ShipmentRequests[i].ID != id {
				continue
			}
			doc.ShipmentRequests[i].Status = status
			if shipmentID != "" {
				doc.ShipmentRequests[i].ShipmentID = shipmentID
			}
			out = doc.ShipmentRequests[i]
			return nil
		}
		return fmt.Errorf("shipment request %s: %w", id, ErrNotFound)
	})
	return out, err
}

// ClaimShipmentRequest marks a new or reviewed request converted and returns the
// request as it was before the claim. A converted request fails with ErrConflict and a
// declined one with domain.ErrInvalid, so at most one caller wins the conversion.
func (r *Repo) ClaimShipmentRequest(ctx context.Context, id string) (domain.ShipmentRequest, error) {
	var out domain.ShipmentRequest
	err := r.update(ctx, "claim_shipment_request", func(doc *domain.Document) error {
		for i := range doc.ShipmentRequests {
			req := &doc.ShipmentRequests[i]
			if req.ID != id {
				continue
			}
			switch req.Status {
			case domain.RequestConverted:
				return fmt.Errorf("shipment request %s is already converted: %w", id, ErrConflict)
			case domain.RequestDeclined:
				return fmt.Errorf("shipment request %s is declined: %w", id, domain.ErrInvalid)
			}
			out = *req
			req.Status = domain.RequestConverted
			return nil
		}
		return fmt.Errorf("shipment request %s: %w", id, ErrNotFound)
	})
	return out, err
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
