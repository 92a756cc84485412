// Package templates resolves the task checklist of a shipment type, preferring a
// stored override over the built-in list.
package templates

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"shipline/internal/domain"
	"shipline/internal/store"
)

// Engine reads overrides from a single slot holding a map of type key to task list.
// Writes hold mu across the load and the save.
type Engine struct {
	Slots store.Slots
	Key   string

	mu sync.Mutex
}

func New(s store.Slots) *Engine {
	return &Engine{Slots: s, Key: store.TemplatesKey}
}

func (e *Engine) key() string {
	if e.Key == "" {
		return store.TemplatesKey
	}
	return e.Key
}

func typeKey(t string) string {
	return domain.TypeKey(t)
}

func (e *Engine) overrides(ctx context.Context) (map[string][]Template, error) {
	m := map[string][]Template{}
	if _, err := store.GetJSON(ctx, e.Slots, e.key(), &m); err != nil {
		return nil, fmt.Errorf("load task template overrides: %w", err)
	}
	if m == nil {
		m = map[string][]Template{}
	}
	return m, nil
}

// Templates returns the override for the type when one is stored, else the built-in list.
func (e *Engine) Templates(ctx context.Context, shipmentType string) ([]Template, error) {
	list, ok, err := e.Override(ctx, shipmentType)
	if err != nil {
		return nil, err
	}
	if ok {
		return list, nil
	}
	return Builtin(shipmentType), nil
}

// Override returns the stored override for the type and whether one exists.
func (e *Engine) Override(ctx context.Context, shipmentType string) ([]Template, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.overrides(ctx)
	if err != nil {
		return nil, false, err
	}
	list, ok := m[typeKey(shipmentType)]
	return list, ok, nil
}

// Overrides lists the type keys that currently carry an override.
func (e *Engine) Overrides(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.overrides(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// SetOverride stores list for the type. Offsets must strictly decrease along the list.
func (e *Engine) SetOverride(ctx context.Context, shipmentType string, list []Template) error {
	key := typeKey(shipmentType)
	if key == "" {
		return domain.Invalidf("shipment type is required")
	}
	if err := Check(list); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.overrides(ctx)
	if err != nil {
		return err
	}
	m[key] = list
	return store.PutJSON(ctx, e.Slots, e.key(), m)
}

// Reset drops the override for one type. Resetting a type without an override is a no-op.
func (e *Engine) Reset(ctx context.Context, shipmentType string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.overrides(ctx)
	if err != nil {
		return err
	}
	key := typeKey(shipmentType)
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return store.PutJSON(ctx, e.Slots, e.key(), m)
}

// Check validates a task list: at least one item, each item valid, offsets strictly decreasing.
func Check(list []Template) error {
	if len(list) == 0 {
		return domain.Invalidf("template list is empty")
	}
	for i, t := range list {
		if err := domain.ValidateStruct(t); err != nil {
			return fmt.Errorf("template %d: %w", i+1, err)
		}
		if i > 0 && t.DaysBefore >= list[i-1].DaysBefore {
			return domain.Invalidf("template %d: daysBefore %d must be less than %d", i+1, t.DaysBefore, list[i-1].DaysBefore)
		}
	}
	return nil
}

// TasksFor builds the task list for a shipment of the given type dated ref. Task ids are
// task-1..task-N in list order; due dates are ref minus each offset.
func (e *Engine) TasksFor(ctx context.Context, shipmentType string, ref time.Time) ([]domain.Task, error) {
	list, err := e.Templates(ctx, shipmentType)
	if err != nil {
		return nil, err
	}
	return Build(list, ref), nil
}

// Build materialises templates into tasks relative to ref.
func Build(list []Template, ref time.Time) []domain.Task {
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	tasks := make([]domain.Task, 0, len(list))
	for i, t := range list {
		tasks = append(tasks, domain.Task{
			ID:          fmt.Sprintf("task-%d", i+1),
			Title:       t.Title,
			Description: t.Description,
			Category:    t.Category,
			Required:    t.Required,
			DueDate:     day.AddDate(0, 0, -t.DaysBefore).Format(domain.DateLayout),
		})
	}
	return tasks
}

// ParseOverrides decodes a YAML document of the form
//
//	import:
//	  - title: Import permit
//	    category: Documentation
//	    required: true
//	    days_before: 30
//
// and checks every list.
func ParseOverrides(data []byte) (map[string][]Template, error) {
	raw := map[string][]Template{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse templates: %v", domain.ErrInvalid, err)
	}
	out := make(map[string][]Template, len(raw))
	for k, list := range raw {
		if err := Check(list); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[typeKey(k)] = list
	}
	return out, nil
}

// SeedDemo marks a random subset of tasks completed and flags some open tasks overdue.
// It is only used to build demo data.
func SeedDemo(tasks []domain.Task, rng *rand.Rand) []domain.Task {
	out := append([]domain.Task(nil), tasks...)
	for i := range out {
		out[i].Completed = rng.IntN(2) == 0
		out[i].Overdue = !out[i].Completed && rng.IntN(4) == 0
	}
	return out
}
