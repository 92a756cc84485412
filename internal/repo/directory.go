package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"shipline/internal/domain"
)

// EntityKind names a directory collection that back-references shipments.
type EntityKind string

const (
	KindAgent    EntityKind = "agent"
	KindHorse    EntityKind = "horse"
	KindOwner    EntityKind = "owner"
	KindCustomer EntityKind = "customer"
)

// ParseEntityKind accepts singular or plural names.
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	switch k {
	case KindAgent, KindHorse, KindOwner, KindCustomer:
		return k, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownEntityKind, s)
}

// GetEntityShipments resolves the entity's shipment ids, dropping ids that no longer
// match a shipment.
func (r *Repo) GetEntityShipments(ctx context.Context, kind EntityKind, id string) ([]domain.Shipment, error) {
	out := []domain.Shipment{}
	err := r.view(ctx, "get_entity_shipments", func(doc domain.Document) error {
		ids, ok, err := shipmentIDsOf(doc, kind, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
		}
		for _, sid := range ids {
			if i := doc.ShipmentIndex(sid); i >= 0 {
				out = append(out, doc.Shipments[i])
			}
		}
		return nil
	})
	return out, err
}

func shipmentIDsOf(doc domain.Document, kind EntityKind, id string) ([]string, bool, error) {
	switch kind {
	case KindAgent:
		for _, a := range doc.Agents {
			if a.ID == id {
				return a.ShipmentIDs, true, nil
			}
		}
	case KindHorse:
		for _, h := range doc.Horses {
			if h.ID == id {
				return h.ShipmentIDs, true, nil
			}
		}
	case KindOwner:
		for _, o := range doc.Owners {
			if o.ID == id {
				return o.ShipmentIDs, true, nil
			}
		}
	case KindCustomer:
		for _, c := range doc.Customers {
			if c.ID == id {
				return c.ShipmentIDs, true, nil
			}
		}
	default:
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownEntityKind, kind)
	}
	return nil, false, nil
}

func findAgent(items []domain.Agent, id, name string) int {
	for i, a := range items {
		if id != "" && a.ID == id {
			return i
		}
	}
	if id != "" || name == "" {
		return -1
	}
	for i, a := range items {
		if a.Name == name {
			return i
		}
	}
	return -1
}

func findHorse(items []domain.Horse, id, name string) int {
	for i, h := range items {
		if id != "" && h.ID == id {
			return i
		}
	}
	if id != "" || name == "" {
		return -1
	}
	for i, h := range items {
		if h.Name == name {
			return i
		}
	}
	return -1
}

func findOwner(items []domain.Owner, id, name string) int {
	for i, o := range items {
		if id != "" && o.ID == id {
			return i
		}
	}
	if id != "" || name == "" {
		return -1
	}
	for i, o := range items {
		if o.Name == name {
			return i
		}
	}
	return -1
}

func (r *Repo) AddAgent(ctx context.Context, a domain.Agent) (domain.Agent, error) {
	if strings.TrimSpace(a.Name) == "" {
		return domain.Agent{}, domain.Invalidf("agent name is required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.ShipmentIDs = []string{}
	err := r.update(ctx, "add_agent", func(doc *domain.Document) error {
		for _, existing := range doc.Agents {
			if existing.ID == a.ID {
				return fmt.Errorf("agent %s: %w", a.ID, ErrConflict)
			}
		}
		doc.Agents = append(doc.Agents, a)
		return nil
	})
	return a, err
}

func (r *Repo) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	var out []domain.Agent
	err := r.view(ctx, "list_agents", func(doc domain.Document) error {
		out = doc.Agents
		return nil
	})
	return out, err
}

func (r *Repo) AddHorse(ctx context.Context, h domain.Horse) (domain.Horse, error) {
	if strings.TrimSpace(h.Name) == "" {
		return domain.Horse{}, domain.Invalidf("horse name is required")
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	h.ShipmentIDs = []string{}
	err := r.update(ctx, "add_horse", func(doc *domain.Document) error {
		for _, existing := range doc.Horses {
			if existing.ID == h.ID {
				return fmt.Errorf("horse %s: %w", h.ID, ErrConflict)
			}
		}
		doc.Horses = append(doc.Horses, h)
		return nil
	})
	return h, err
}

func (r *Repo) ListHorses(ctx context.Context) ([]domain.Horse, error) {
	var out []domain.Horse
	err := r.view(ctx, "list_horses", func(doc domain.Document) error {
		out = doc.Horses
		return nil
	})
	return out, err
}

func (r *Repo) AddOwner(ctx context.Context, o domain.Owner) (domain.Owner, error) {
	if strings.TrimSpace(o.Name) == "" {
		return domain.Owner{}, domain.Invalidf("owner name is required")
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.ShipmentIDs = []string{}
	err := r.update(ctx, "add_owner", func(doc *domain.Document) error {
		for _, existing := range doc.Owners {
			if existing.ID == o.ID {
				return fmt.Errorf("owner %s: %w", o.ID, ErrConflict)
			}
		}
		doc.Owners = append(doc.Owners, o)
		return nil
	})
	return o, err
}

func (r *Repo) ListOwners(ctx context.Context) ([]domain.Owner, error) {
	var out []domain.Owner
	err := r.view(ctx, "list_owners", func(doc domain.Document) error {
		out = doc.Owners
		return nil
	})
	return out, err
}

func (r *Repo) AddCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error) {
	if strings.TrimSpace(c.Name) == "" {
		return domain.Customer{}, domain.Invalidf("customer name is required")
	}
	if c.LoyaltyPoints < 0 {
		return domain.Customer{}, domain.Invalidf("loyalty points cannot be negative")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.JoinedAt == "" {
		c.JoinedAt = r.timestamp()
	}
	c.ShipmentIDs = []string{}
	err := r.update(ctx, "add_customer", func(doc *domain.Document) error {
		for _, existing := range doc.Customers {
			if existing.ID == c.ID {
				return fmt.Errorf("customer %s: %w", c.ID, ErrConflict)
			}
		}
		doc.Customers = append(doc.Customers, c)
		return nil
	})
	return c, err
}

func (r *Repo) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	var out []domain.Customer
	err := r.view(ctx, "list_customers", func(doc domain.Document) error {
		out = doc.Customers
		return nil
	})
	return out, err
}

// FindCustomerByEmail matches case-insensitively.
func (r *Repo) FindCustomerByEmail(ctx context.Context, email string) (domain.Customer, error) {
	var out domain.Customer
	err := r.view(ctx, "find_customer", func(doc domain.Document) error {
		for _, c := range doc.Customers {
			if email != "" && strings.EqualFold(c.Email, email) {
				out = c
				return nil
			}
		}
		return fmt.Errorf("customer %s: %w", email, ErrNotFound)
	})
	return out, err
}

// EnsureCustomer returns the customer with c.Email, adding c when no customer matches.
// The lookup and the insert happen under one lock.
func (r *Repo) EnsureCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error) {
	if strings.TrimSpace(c.Email) == "" {
		return domain.Customer{}, domain.Invalidf("customer email is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return domain.Customer{}, domain.Invalidf("customer name is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.JoinedAt == "" {
		c.JoinedAt = r.timestamp()
	}
	c.ShipmentIDs = []string{}
	out := c
	err := r.update(ctx, "ensure_customer", func(doc *domain.Document) error {
		for _, existing := range doc.Customers {
			if strings.EqualFold(existing.Email, c.Email) {
				out = existing
				return errUnchanged
			}
		}
		doc.Customers = append(doc.Customers, c)
		return nil
	})
	return out, err
}

// AwardLoyalty adds points to a customer and, when shipmentID is set, links the shipment.
// Negative points redeem; the balance never drops below zero.
func (r *Repo) AwardLoyalty(ctx context.Context, customerID, shipmentID string, points int) (domain.Customer, error) {
	var out domain.Customer
	err := r.update(ctx, "award_loyalty", func(doc *domain.Document) error {
		for i := range doc.Customers {
			c := &doc.Customers[i]
			if c.ID != customerID {
				continue
			}
			if c.LoyaltyPoints+points < 0 {
				return domain.Invalidf("customer %s has %d points, cannot redeem %d", customerID, c.LoyaltyPoints, -points)
			}
			c.LoyaltyPoints += points
			if shipmentID != "" {
				c.ShipmentIDs = appendUnique(c.ShipmentIDs, shipmentID)
			}
			out = *c
			return nil
		}
		return fmt.Errorf("customer %s: %w", customerID, ErrNotFound)
	})
	return out, err
}
