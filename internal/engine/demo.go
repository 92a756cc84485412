package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"shipline/internal/domain"
	"shipline/internal/templates"
)

// DemoOptions controls SeedDemo. Seed makes the randomised task state reproducible.
type DemoOptions struct {
	Seed      uint64
	Shipments int
}

var (
	demoCountries = []struct{ country, airport string }{
		{"United Kingdom", "LHR"}, {"Netherlands", "AMS"}, {"United States", "JFK"},
		{"United Arab Emirates", "DXB"}, {"Belgium", "LGG"}, {"Australia", "SYD"},
	}
	demoTypes = []string{domain.TypeImport, domain.TypeExport, domain.TypeInTransit}
)

// SeedDemo replaces the document with a demo directory and a batch of shipments whose
// task completion is randomised, and resets the number counters.
func (e Engine) SeedDemo(ctx context.Context, opts DemoOptions) (domain.Document, error) {
	n := opts.Shipments
	if n <= 0 {
		n = 6
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5eed))
	now := e.now().UTC()
	stamp := now.Format(time.RFC3339)

	doc := domain.Document{
		Agents: []domain.Agent{
			{ID: "agent-1", Name: "Jane Smith", Company: "Equine Air Cargo", Email: "jane@equineair.example", Country: "United Kingdom"},
			{ID: "agent-2", Name: "Pieter de Vries", Company: "Flying Hooves BV", Email: "pieter@flyinghooves.example", Country: "Netherlands"},
		},
		Owners: []domain.Owner{
			{ID: "owner-1", Name: "Amelia Hart", Email: "amelia@example.com"},
			{ID: "owner-2", Name: "Omar Haddad", Email: "omar@example.com"},
		},
		Horses: []domain.Horse{
			{ID: "horse-1", Name: "Northern Star", Breed: "Thoroughbred", OwnerID: "owner-1"},
			{ID: "horse-2", Name: "Desert Wind", Breed: "Arabian", OwnerID: "owner-2"},
		},
		Customers: []domain.Customer{
			{ID: "customer-1", Name: "Hart Racing", Email: "bookings@hartracing.example", LoyaltyPoints: 1800, JoinedAt: stamp},
			{ID: "customer-2", Name: "Haddad Stables", Email: "office@haddad.example", LoyaltyPoints: 320, JoinedAt: stamp},
		},
		ShipmentRequests: []domain.ShipmentRequest{
			{ID: "request-1", CustomerName: "Lena Berg", Email: "lena@example.com", Type: domain.TypeExport,
				OriginCountry: "Sweden", DestinationCountry: "Germany", AnimalType: "Horses", NumAnimals: 2,
				PreferredDate: now.AddDate(0, 2, 0).Format(domain.DateLayout), Status: domain.RequestNew, CreatedAt: stamp},
		},
	}
	doc.Normalize()
	if err := e.Repo.Seed(ctx, doc); err != nil {
		return domain.Document{}, err
	}
	if err := e.Numbers.Reset(ctx); err != nil {
		return domain.Document{}, err
	}

	statuses := []string{domain.StatusPending, domain.StatusInProgress, domain.StatusCompleted, domain.StatusDelayed}
	for i := 0; i < n; i++ {
		typ := demoTypes[i%len(demoTypes)]
		from := demoCountries[rng.IntN(len(demoCountries))]
		to := demoCountries[rng.IntN(len(demoCountries))]
		horse := doc.Horses[i%len(doc.Horses)]
		owner := doc.Owners[i%len(doc.Owners)]
		agent := doc.Agents[i%len(doc.Agents)]
		date := now.AddDate(0, 0, rng.IntN(90)-30)
		number, err := e.Numbers.Next(ctx, typ)
		if err != nil {
			return domain.Document{}, err
		}
		tasks, err := e.Templates.TasksFor(ctx, typ, date)
		if err != nil {
			return domain.Document{}, err
		}
		animals := 1 + rng.IntN(3)
		s := domain.Shipment{
			ID:                 fmt.Sprintf("demo-%03d", i+1),
			ShipmentNumber:     number,
			Type:               typ,
			Status:             statuses[rng.IntN(len(statuses))],
			Date:               date.Format(domain.DateLayout),
			OriginCountry:      from.country,
			OriginAirport:      from.airport,
			DestinationCountry: to.country,
			DestinationAirport: to.airport,
			AnimalType:         "Horses",
			NumAnimals:         animals,
			HorseID:            horse.ID,
			HorseName:          horse.Name,
			OwnerID:            owner.ID,
			OwnerName:          owner.Name,
			Agents:             []domain.AgentAllocation{{ID: agent.ID, Name: agent.Name, AnimalCount: animals}},
			Tasks:              templates.SeedDemo(tasks, rng),
			CreatedAt:          stamp,
		}
		if _, err := e.Repo.AddShipment(ctx, s); err != nil {
			return domain.Document{}, err
		}
	}
	return e.Repo.Document(ctx)
}
