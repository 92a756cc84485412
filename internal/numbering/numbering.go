// Package numbering hands out human-readable shipment numbers such as IMPORT-007
// from a counter map kept in its own slot.
package numbering

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"shipline/internal/domain"
	"shipline/internal/store"
)

// Counters maps a type key to the next sequence number.
type Counters map[string]int

// DefaultCounters is the map used when the slot is empty.
func DefaultCounters() Counters {
	return Counters{"import": 1, "export": 1, "in-transit": 1}
}

// Generator is not transactional with the shipment document: a number taken by
// Next stays consumed even if the shipment is never saved.
type Generator struct {
	Slots store.Slots
	Key   string

	mu sync.Mutex
}

func New(s store.Slots) *Generator {
	return &Generator{Slots: s, Key: store.CountersKey}
}

func (g *Generator) key() string {
	if g.Key == "" {
		return store.CountersKey
	}
	return g.Key
}

// Prefix returns the number prefix for a shipment type.
func Prefix(shipmentType string) string {
	switch k := domain.TypeKey(shipmentType); k {
	case "import":
		return "IMPORT"
	case "export":
		return "EXPORT"
	case "in-transit":
		return "TRANSIT"
	default:
		return strings.ToUpper(k)
	}
}

// Format renders a sequence number with three-digit padding.
func Format(shipmentType string, n int) string {
	return fmt.Sprintf("%s-%03d", Prefix(shipmentType), n)
}

func (g *Generator) load(ctx context.Context) (Counters, error) {
	c := Counters{}
	ok, err := store.GetJSON(ctx, g.Slots, g.key(), &c)
	if err != nil {
		return nil, fmt.Errorf("load shipment counters: %w", err)
	}
	if !ok || c == nil {
		c = DefaultCounters()
	}
	return c, nil
}

func counterFor(c Counters, key string) int {
	if n, ok := c[key]; ok && n >= 1 {
		return n
	}
	return 1
}

// Next formats the current counter for the type, then increments and persists it.
func (g *Generator) Next(ctx context.Context, shipmentType string) (string, error) {
	key := domain.TypeKey(shipmentType)
	if key == "" {
		return "", domain.Invalidf("shipment type is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.load(ctx)
	if err != nil {
		return "", err
	}
	n := counterFor(c, key)
	c[key] = n + 1
	if err := store.PutJSON(ctx, g.Slots, g.key(), c); err != nil {
		return "", fmt.Errorf("save shipment counters: %w", err)
	}
	return Format(shipmentType, n), nil
}

// Peek returns the number Next would hand out without consuming it.
func (g *Generator) Peek(ctx context.Context, shipmentType string) (string, error) {
	key := domain.TypeKey(shipmentType)
	if key == "" {
		return "", domain.Invalidf("shipment type is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, err := g.load(ctx)
	if err != nil {
		return "", err
	}
	return Format(shipmentType, counterFor(c, key)), nil
}

// Counters returns the stored map, or the defaults when nothing is stored.
func (g *Generator) Counters(ctx context.Context) (Counters, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.load(ctx)
}

// Reset restores the default counters.
func (g *Generator) Reset(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return store.PutJSON(ctx, g.Slots, g.key(), DefaultCounters())
}
