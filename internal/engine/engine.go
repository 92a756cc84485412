package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shipline/internal/analytics"
	"shipline/internal/blob"
	"shipline/internal/domain"
	"shipline/internal/events"
	"shipline/internal/logging"
	"shipline/internal/mail"
	"shipline/internal/metrics"
	"shipline/internal/numbering"
	"shipline/internal/repo"
	"shipline/internal/store"
	"shipline/internal/templates"
)

type Engine struct {
	Repo      *repo.Repo
	Templates *templates.Engine
	Numbers   *numbering.Generator
	Blobs     blob.Store
	Mail      mail.Sender
	Logger    *zap.Logger
	Metrics   *metrics.Recorder
	Now       func() time.Time
}

// Options carries the collaborators of an Engine. Blobs and Mail default to the
// in-memory store and the logging sender.
type Options struct {
	Slots   store.Slots
	Blobs   blob.Store
	Mail    mail.Sender
	Logger  *zap.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

func New(opts Options) Engine {
	logger := logging.OrNop(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := repo.NewFromSlots(opts.Slots, logger.Named("repo"))
	r.Metrics = opts.Metrics
	r.Now = now
	blobs := opts.Blobs
	if blobs == nil {
		blobs = blob.NewMemory()
	}
	sender := opts.Mail
	if sender == nil {
		sender = mail.NewLogSender(logger.Named("mail"), mail.DefaultDelay)
	}
	return Engine{
		Repo:      r,
		Templates: templates.New(opts.Slots),
		Numbers:   numbering.New(opts.Slots),
		Blobs:     blobs,
		Mail:      sender,
		Logger:    logger,
		Metrics:   opts.Metrics,
		Now:       now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Logger)
}

// ShipmentCreateOptions are parameters for creating a shipment.
type ShipmentCreateOptions struct {
	Type               string                   `json:"type" validate:"required,oneof=Import Export In-Transit"`
	Status             string                   `json:"status,omitempty"`
	Date               string                   `json:"date" validate:"required,datetime=2006-01-02"`
	OriginCountry      string                   `json:"originCountry,omitempty"`
	OriginAirport      string                   `json:"originAirport,omitempty" validate:"omitempty,len=3,alpha"`
	DestinationCountry string                   `json:"destinationCountry,omitempty"`
	DestinationAirport string                   `json:"destinationAirport,omitempty" validate:"omitempty,len=3,alpha"`
	AnimalType         string                   `json:"animalType,omitempty"`
	NumAnimals         int                      `json:"numAnimals,omitempty" validate:"gte=0"`
	Animals            []domain.AnimalLine      `json:"animals,omitempty" validate:"dive"`
	HorseID            string                   `json:"horseId,omitempty"`
	HorseName          string                   `json:"horseName,omitempty"`
	OwnerID            string                   `json:"ownerId,omitempty"`
	OwnerName          string                   `json:"ownerName,omitempty"`
	Agents             []domain.AgentAllocation `json:"agents,omitempty" validate:"dive"`
	Notes              string                   `json:"notes,omitempty"`
	ActorID            string                   `json:"-"`
}

func (o ShipmentCreateOptions) validate() error {
	if err := domain.ValidateStruct(o); err != nil {
		return err
	}
	if o.Status != "" && !domain.ValidStatus(o.Status) {
		return domain.Invalidf("unknown shipment status %q", o.Status)
	}
	s := domain.Shipment{NumAnimals: o.NumAnimals, Animals: o.Animals}
	total := s.TotalAnimals()
	if total < 1 {
		return domain.Invalidf("a shipment needs at least one animal")
	}
	allocated := 0
	for _, a := range o.Agents {
		allocated += a.AnimalCount
	}
	if allocated > total {
		return domain.Invalidf("agents handle %d animals but the shipment has %d", allocated, total)
	}
	return nil
}

// CreateShipment validates opts, takes the next shipment number, builds the task list
// from the type's templates and stores the shipment. A number taken here stays consumed
// when a later step fails.
func (e Engine) CreateShipment(ctx context.Context, opts ShipmentCreateOptions) (repo.AddShipmentResult, error) {
	if err := opts.validate(); err != nil {
		return repo.AddShipmentResult{}, err
	}
	ref, err := time.Parse(domain.DateLayout, opts.Date)
	if err != nil {
		return repo.AddShipmentResult{}, domain.Invalidf("date %q: %v", opts.Date, err)
	}
	number, err := e.Numbers.Next(ctx, opts.Type)
	if err != nil {
		return repo.AddShipmentResult{}, fmt.Errorf("shipment number: %w", err)
	}
	tasks, err := e.Templates.TasksFor(ctx, opts.Type, ref)
	if err != nil {
		return repo.AddShipmentResult{}, fmt.Errorf("shipment tasks: %w", err)
	}
	status := opts.Status
	if status == "" {
		status = domain.StatusPending
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Shipment{
		ID:                 uuid.NewString(),
		ShipmentNumber:     number,
		Type:               opts.Type,
		Status:             status,
		Date:               opts.Date,
		OriginCountry:      opts.OriginCountry,
		OriginAirport:      opts.OriginAirport,
		DestinationCountry: opts.DestinationCountry,
		DestinationAirport: opts.DestinationAirport,
		AnimalType:         opts.AnimalType,
		NumAnimals:         opts.NumAnimals,
		Animals:            opts.Animals,
		HorseID:            opts.HorseID,
		HorseName:          opts.HorseName,
		OwnerID:            opts.OwnerID,
		OwnerName:          opts.OwnerName,
		Agents:             opts.Agents,
		Notes:              opts.Notes,
		Tasks:              tasks,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if len(s.Animals) > 0 && s.NumAnimals == 0 {
		s.NumAnimals = s.TotalAnimals()
	}
	w := events.Writer{Now: e.now}
	w.Append(&s, events.ShipmentCreated, fmt.Sprintf("Shipment %s created", number), opts.ActorID,
		events.EventPayload{"shipmentNumber": number, "type": s.Type, "tasks": len(tasks)})
	res, err := e.Repo.AddShipment(ctx, s)
	if err != nil {
		return repo.AddShipmentResult{}, err
	}
	e.Metrics.ShipmentCreated(s.Type)
	e.log().Info("shipment created",
		zap.String("shipment_id", s.ID),
		zap.String("shipment_number", number),
		zap.Int("tasks", len(tasks)))
	return res, nil
}

// UpdateTask applies patch and records the change in the shipment history.
func (e Engine) UpdateTask(ctx context.Context, shipmentID, taskID string, patch repo.TaskPatch, actorID string) (domain.Task, error) {
	if patch.Empty() {
		return domain.Task{}, domain.Invalidf("no task fields to update")
	}
	if patch.EmailRecipients != nil {
		for _, addr := range *patch.EmailRecipients {
			if err := mail.CheckAddress(addr); err != nil {
				return domain.Task{}, err
			}
		}
	}
	t, err := e.Repo.UpdateShipmentTask(ctx, shipmentID, taskID, patch)
	if err != nil {
		return domain.Task{}, err
	}
	payload := events.EventPayload{"taskId": taskID}
	if patch.Completed != nil {
		payload["completed"] = t.Completed
	}
	e.record(ctx, shipmentID, events.TaskUpdated, fmt.Sprintf("Task %s updated", t.Title), actorID, payload)
	return t, nil
}

// ToggleTask flips completion and records it like UpdateTask does.
func (e Engine) ToggleTask(ctx context.Context, shipmentID, taskID, actorID string) (domain.Task, error) {
	t, err := e.Repo.ToggleTaskCompletion(ctx, shipmentID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	state := "reopened"
	if t.Completed {
		state = "completed"
	}
	e.record(ctx, shipmentID, events.TaskUpdated, fmt.Sprintf("Task %s %s", t.Title, state), actorID,
		events.EventPayload{"taskId": taskID, "completed": t.Completed})
	return t, nil
}

// record appends a history entry after the primary write has succeeded; failures are
// logged rather than returned.
func (e Engine) record(ctx context.Context, shipmentID, evtType, description, actorID string, payload events.EventPayload) {
	if _, err := e.Repo.AppendHistory(ctx, shipmentID, evtType, description, actorID, payload); err != nil {
		e.log().Warn("history append failed",
			zap.String("shipment_id", shipmentID),
			zap.String("event", evtType),
			zap.Error(err))
	}
}

// RequestConvertOptions overrides request fields when turning a request into a shipment.
type RequestConvertOptions struct {
	Date    string `json:"date,omitempty"`
	ActorID string `json:"-"`
}

type ConvertResult struct {
	Shipment domain.Shipment        `json:"shipment"`
	Request  domain.ShipmentRequest `json:"request"`
	Customer domain.Customer        `json:"customer"`
}

// ConvertRequest books a shipment from a customer request, marks the request converted
// and credits the customer, creating the customer record on first contact. The request
// is claimed before anything is booked, so concurrent conversions of one request yield
// a single shipment; the losers fail with repo.ErrConflict.
func (e Engine) ConvertRequest(ctx context.Context, requestID string, opts RequestConvertOptions) (ConvertResult, error) {
	req, err := e.Repo.ClaimShipmentRequest(ctx, requestID)
	if err != nil {
		return ConvertResult{}, err
	}
	date := opts.Date
	if date == "" {
		date = req.PreferredDate
	}
	res, err := e.CreateShipment(ctx, ShipmentCreateOptions{
		Type:               req.Type,
		Date:               date,
		OriginCountry:      req.OriginCountry,
		DestinationCountry: req.DestinationCountry,
		AnimalType:         req.AnimalType,
		NumAnimals:         req.NumAnimals,
		Notes:              req.Notes,
		ActorID:            opts.ActorID,
	})
	if err != nil {
		if _, rerr := e.Repo.UpdateShipmentRequestStatus(ctx, requestID, req.Status, ""); rerr != nil {
			e.log().Warn("release request claim",
				zap.String("request_id", requestID),
				zap.Error(rerr))
		}
		return ConvertResult{}, err
	}
	s := res.Shipment
	req, err = e.Repo.UpdateShipmentRequestStatus(ctx, requestID, domain.RequestConverted, s.ID)
	if err != nil {
		return ConvertResult{}, err
	}
	customer, err := e.Repo.EnsureCustomer(ctx, domain.Customer{Name: req.CustomerName, Email: req.Email, Phone: req.Phone})
	if err != nil {
		return ConvertResult{}, fmt.Errorf("customer for request %s: %w", requestID, err)
	}
	points := analytics.PointsFor(s)
	customer, err = e.Repo.AwardLoyalty(ctx, customer.ID, s.ID, points)
	if err != nil {
		return ConvertResult{}, err
	}
	e.record(ctx, s.ID, events.RequestLinked, fmt.Sprintf("Booked from request by %s", req.CustomerName), opts.ActorID,
		events.EventPayload{"requestId": req.ID, "customerId": customer.ID, "points": points})
	return ConvertResult{Shipment: s, Request: req, Customer: customer}, nil
}
